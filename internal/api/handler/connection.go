package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ponyhq/pony/internal/api/request"
	"github.com/ponyhq/pony/internal/api/response"
	"github.com/ponyhq/pony/internal/core"
	"github.com/ponyhq/pony/internal/model"
)

type Connection struct {
	svc *core.ConnectionService
}

func NewConnection(svc *core.ConnectionService) *Connection {
	return &Connection{svc: svc}
}

// Create handles POST /connection.
func (h *Connection) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateConnection
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	p := core.CreateConnectionParams{
		Env:            req.Env,
		SubscriptionID: req.SubscriptionID,
		UserID:         req.UserID,
		Tag:            model.ProtoTag(req.Proto),
		Password:       req.Password,
		WgParam:        req.Wg,
		Hysteria2Token: req.Hysteria2Token,
		IsTrial:        req.IsTrial,
		DailyLimitMB:   req.DailyLimitMB,
		ExpiredAt:      req.ExpiredAt,
	}
	if req.ID != nil {
		p.ID = *req.ID
	}
	if req.NodeID != nil {
		p.NodeID = *req.NodeID
	}

	st, err := h.svc.Create(r.Context(), p)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	response.WriteOpStatus(w, st)
}

// Update handles PUT /connection/{id}.
func (h *Connection) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req request.UpdateConnection
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	p := core.UpdateConnectionParams{
		Password:       req.Password,
		SubscriptionID: req.SubscriptionID,
		UserID:         req.UserID,
		IsTrial:        req.IsTrial,
		DailyLimitMB:   req.DailyLimitMB,
		ExpiredAt:      req.ExpiredAt,
		IsDeleted:      req.IsDeleted,
		Stat:           req.Stat,
	}
	if req.Status != nil {
		status := model.ConnectionStatus(*req.Status)
		p.Status = &status
	}

	st, err := h.svc.Update(r.Context(), id, p)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	response.WriteOpStatus(w, st)
}

// Delete handles DELETE /connection/{id}.
func (h *Connection) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := h.svc.Delete(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	response.WriteOpStatus(w, st)
}

// Get handles GET /connection/{id}.
func (h *Connection) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	conn, ok := h.svc.Get(id)
	if !ok {
		response.WriteError(w, http.StatusNotFound, "connection not found")
		return
	}
	response.WriteJSON(w, http.StatusOK, conn)
}

// List handles GET /connections?env=&proto=&last_update=. A last_update
// value (unix seconds) turns the call into a tail: the batch is also
// republished on the bus for the requesting subscriber to consume.
func (h *Connection) List(w http.ResponseWriter, r *http.Request) {
	f := core.ListFilter{Env: r.URL.Query().Get("env")}

	if raw := r.URL.Query().Get("proto"); raw != "" {
		tag, err := model.ParseProtoTag(raw)
		if err != nil {
			response.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Proto = tag
	}
	if raw := r.URL.Query().Get("last_update"); raw != "" {
		sec, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.WriteError(w, http.StatusBadRequest, "invalid last_update: expected unix seconds")
			return
		}
		since := time.Unix(sec, 0)
		f.Since = &since
	}

	conns := h.svc.List(f)
	if conns == nil {
		conns = []*model.Connection{}
	}
	response.WriteJSON(w, http.StatusOK, conns)
}
