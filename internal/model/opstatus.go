package model

import (
	"net/http"

	"github.com/google/uuid"
)

// OpKind classifies the outcome of a mutation.
type OpKind string

const (
	OpOk                OpKind = "ok"
	OpUpdated           OpKind = "updated"
	OpUpdatedStat       OpKind = "updated_stat"
	OpAlreadyExist      OpKind = "already_exist"
	OpNotModified       OpKind = "not_modified"
	OpNotFound          OpKind = "not_found"
	OpBadRequest        OpKind = "bad_request"
	OpDeletedPreviously OpKind = "deleted_previously"
	OpConflict          OpKind = "conflict"
)

// OpStatus is the outcome of a create/update/delete, carried all the way
// out to the REST response body.
type OpStatus struct {
	Kind OpKind    `json:"status"`
	ID   uuid.UUID `json:"id"`
	Msg  string    `json:"message,omitempty"`
}

func Ok(id uuid.UUID) OpStatus                { return OpStatus{Kind: OpOk, ID: id} }
func Updated(id uuid.UUID) OpStatus           { return OpStatus{Kind: OpUpdated, ID: id} }
func UpdatedStat(id uuid.UUID) OpStatus       { return OpStatus{Kind: OpUpdatedStat, ID: id} }
func AlreadyExist(id uuid.UUID) OpStatus      { return OpStatus{Kind: OpAlreadyExist, ID: id} }
func NotModified(id uuid.UUID) OpStatus       { return OpStatus{Kind: OpNotModified, ID: id} }
func DeletedPreviously(id uuid.UUID) OpStatus { return OpStatus{Kind: OpDeletedPreviously, ID: id} }

func NotFound(id uuid.UUID, msg string) OpStatus {
	return OpStatus{Kind: OpNotFound, ID: id, Msg: msg}
}

func BadRequest(id uuid.UUID, msg string) OpStatus {
	return OpStatus{Kind: OpBadRequest, ID: id, Msg: msg}
}

func Conflict(id uuid.UUID, msg string) OpStatus {
	return OpStatus{Kind: OpConflict, ID: id, Msg: msg}
}

// Applied reports whether the mutation took effect and should be published.
func (s OpStatus) Applied() bool {
	return s.Kind == OpOk || s.Kind == OpUpdated
}

// HTTPStatus maps the outcome to its REST status code.
func (s OpStatus) HTTPStatus() int {
	switch s.Kind {
	case OpOk, OpUpdated, OpUpdatedStat:
		return http.StatusOK
	case OpNotModified:
		return http.StatusNotModified
	case OpBadRequest:
		return http.StatusBadRequest
	case OpNotFound, OpDeletedPreviously:
		return http.StatusNotFound
	case OpAlreadyExist, OpConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
