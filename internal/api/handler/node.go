package handler

import (
	"errors"
	"net/http"

	"github.com/ponyhq/pony/internal/api/request"
	"github.com/ponyhq/pony/internal/api/response"
	"github.com/ponyhq/pony/internal/core"
)

type Node struct {
	svc *core.NodeService
}

func NewNode(svc *core.NodeService) *Node {
	return &Node{svc: svc}
}

// Register handles POST /node: an agent announcing itself on startup.
func (h *Node) Register(w http.ResponseWriter, r *http.Request) {
	var req request.RegisterNode
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := req.Model()
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.svc.Register(r.Context(), n)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	response.WriteOpStatus(w, st)
}

// Get handles GET /node?env=&id=.
func (h *Node) Get(w http.ResponseWriter, r *http.Request) {
	id, err := queryUUID(r, "id")
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	env := r.URL.Query().Get("env")
	if env == "" {
		response.WriteError(w, http.StatusBadRequest, "missing env parameter")
		return
	}

	n, ok := h.svc.Get(env, id)
	if !ok {
		response.WriteError(w, http.StatusNotFound, "node not found")
		return
	}
	response.WriteJSON(w, http.StatusOK, n)
}

// List handles GET /nodes?env=.
func (h *Node) List(w http.ResponseWriter, r *http.Request) {
	response.WriteJSON(w, http.StatusOK, h.svc.List(r.URL.Query().Get("env")))
}

// Score handles GET /node/score?env=&id=.
func (h *Node) Score(w http.ResponseWriter, r *http.Request) {
	id, err := queryUUID(r, "id")
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	env := r.URL.Query().Get("env")

	score, err := h.svc.Score(r.Context(), env, id)
	if errors.Is(err, core.ErrNodeNotFound) {
		response.WriteError(w, http.StatusNotFound, "node not found")
		return
	}
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "score": score})
}
