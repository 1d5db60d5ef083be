package handler

import (
	"html/template"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ponyhq/pony/internal/api/request"
	"github.com/ponyhq/pony/internal/api/response"
	"github.com/ponyhq/pony/internal/core"
	"github.com/ponyhq/pony/internal/model"
)

type Subscription struct {
	svc   *core.SubscriptionService
	conns *core.ConnectionService
}

func NewSubscription(svc *core.SubscriptionService, conns *core.ConnectionService) *Subscription {
	return &Subscription{svc: svc, conns: conns}
}

// Upsert handles POST /sub.
func (h *Subscription) Upsert(w http.ResponseWriter, r *http.Request) {
	var req request.UpsertSubscription
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub := &model.Subscription{
		ExpiresAt:  req.ExpiresAt,
		ReferredBy: req.ReferredBy,
	}
	if req.ID != nil {
		sub.ID = *req.ID
	}

	st, err := h.svc.Upsert(r.Context(), sub)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	response.WriteOpStatus(w, st)
}

// Stat handles GET /sub/stat?id=.
func (h *Subscription) Stat(w http.ResponseWriter, r *http.Request) {
	id, err := queryUUID(r, "id")
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	stat, ok := h.svc.Stat(id)
	if !ok {
		response.WriteError(w, http.StatusNotFound, "subscription not found")
		return
	}
	response.WriteJSON(w, http.StatusOK, stat)
}

var subInfoTmpl = template.Must(template.New("subinfo").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Subscription {{.ID}}</title></head>
<body>
<h1>Subscription {{.ID}}</h1>
<p>Status: {{if .Active}}active{{else}}expired{{end}}</p>
<p>Expires: {{.ExpiresAt.Format "2006-01-02 15:04 MST"}}</p>
{{if .ReferralCode}}<p>Referral code: <code>{{.ReferralCode}}</code></p>{{end}}
<h2>Connections</h2>
<table border="1" cellpadding="4">
<tr><th>ID</th><th>Protocol</th><th>Status</th><th>Uplink</th><th>Downlink</th></tr>
{{range .Connections}}<tr><td>{{.ID}}</td><td>{{.Proto.Tag}}</td><td>{{.Status}}</td><td>{{.Stat.Uplink}}</td><td>{{.Stat.Downlink}}</td></tr>
{{end}}</table>
</body>
</html>`))

type subInfoView struct {
	ID           uuid.UUID
	Active       bool
	ExpiresAt    time.Time
	ReferralCode string
	Connections  []*model.Connection
}

// Info handles GET /sub/info?id=: a human-readable subscription page.
func (h *Subscription) Info(w http.ResponseWriter, r *http.Request) {
	id, err := queryUUID(r, "id")
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub, ok := h.svc.Get(id)
	if !ok {
		response.WriteError(w, http.StatusNotFound, "subscription not found")
		return
	}

	view := subInfoView{
		ID:        sub.ID,
		Active:    sub.IsActive(time.Now()),
		ExpiresAt: sub.ExpiresAt,
	}
	if sub.ReferralCode != nil {
		view.ReferralCode = *sub.ReferralCode
	}
	for _, c := range h.conns.List(core.ListFilter{}) {
		if !c.IsDeleted && c.SubscriptionID != nil && *c.SubscriptionID == id {
			view.Connections = append(view.Connections, c)
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	subInfoTmpl.Execute(w, view)
}
