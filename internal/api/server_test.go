package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ponyhq/pony/internal/apiclient"
	"github.com/ponyhq/pony/internal/bus"
	"github.com/ponyhq/pony/internal/cache"
	"github.com/ponyhq/pony/internal/core"
	"github.com/ponyhq/pony/internal/db"
	"github.com/ponyhq/pony/internal/model"
)

type stubNodeStore struct{ inserted bool }

func (s *stubNodeStore) Upsert(context.Context, *model.Node) (bool, error) {
	first := !s.inserted
	s.inserted = true
	return first, nil
}
func (s *stubNodeStore) List(context.Context, string) ([]*model.Node, error) { return nil, nil }
func (s *stubNodeStore) SetStatus(context.Context, model.NodeKey, model.NodeStatus, time.Time) error {
	return nil
}

type stubConnStore struct{}

func (stubConnStore) Insert(context.Context, *model.Connection) error { return nil }
func (stubConnStore) Update(context.Context, *model.Connection) error { return nil }
func (stubConnStore) List(context.Context, db.ConnFilter) ([]*model.Connection, error) {
	return nil, nil
}
func (stubConnStore) SetStat(context.Context, uuid.UUID, model.ConnectionStat) error { return nil }
func (stubConnStore) SetStatus(context.Context, uuid.UUID, model.ConnectionStatus, time.Time) error {
	return nil
}

type stubSubStore struct{}

func (stubSubStore) Upsert(context.Context, *model.Subscription) error   { return nil }
func (stubSubStore) List(context.Context) ([]*model.Subscription, error) { return nil, nil }

type nopPublisher struct{}

func (nopPublisher) Publish(string, []bus.Message) {}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	services := core.NewServices(core.Deps{
		Nodes:  &stubNodeStore{},
		Conns:  stubConnStore{},
		Subs:   stubSubStore{},
		Cache:  cache.New(),
		Bus:    nopPublisher{},
		Logger: zerolog.Nop(),
	})
	return NewServer(zerolog.Nop(), services, nil, "testtoken")
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Authorization", "Bearer testtoken")
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	return w
}

func TestServerRequiresAuth(t *testing.T) {
	srv := newTestServer(t)

	r := httptest.NewRequest(http.MethodGet, "/nodes", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Health check stays open.
	r = httptest.NewRequest(http.MethodGet, "/health-check", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNodeRegisterAndList(t *testing.T) {
	srv := newTestServer(t)
	id := uuid.New()

	w := doJSON(t, srv, http.MethodPost, "/node", map[string]any{
		"id":       id,
		"env":      "dev",
		"hostname": "node1",
		"address":  "192.0.2.10",
		"cores":    4,
		"inbounds": map[string]any{
			"vmess": map[string]any{"tag": "vmess", "port": 443},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = doJSON(t, srv, http.MethodGet, "/nodes?env=dev", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var nodes []model.Node
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, id, nodes[0].ID)
	assert.Equal(t, model.NodeOnline, nodes[0].Status)
	require.Contains(t, nodes[0].Inbounds, model.TagVmess)
	assert.Equal(t, uint16(443), nodes[0].Inbounds[model.TagVmess].Port)

	w = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/node?env=dev&id=%s", id), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/node?env=prod&id=%s", id), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// Register through the real client, with the node shape an agent sends.
func TestAgentRegistrationRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	node := &model.Node{
		ID:       uuid.New(),
		Env:      "prod",
		Hostname: "edge-1",
		Address:  netip.MustParseAddr("192.0.2.10"),
		Cores:    8,
		Inbounds: map[model.ProtoTag]model.Inbound{
			model.TagVmess:     {Tag: model.TagVmess, Port: 443},
			model.TagHysteria2: {Tag: model.TagHysteria2, Port: 8443},
		},
	}

	client := apiclient.New(ts.URL, "testtoken", zerolog.Nop())
	st, err := client.RegisterNode(context.Background(), node)
	require.NoError(t, err)
	assert.Equal(t, model.OpOk, st.Kind)

	w := doJSON(t, srv, http.MethodGet, fmt.Sprintf("/node?env=prod&id=%s", node.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got model.Node
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got.Inbounds, 2)
}

func TestConnectionLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/connection", map[string]any{
		"env":   "dev",
		"proto": "vmess",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var st model.OpStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	id := st.ID

	w = doJSON(t, srv, http.MethodGet, "/connection/"+id.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodPut, "/connection/"+id.String(), map[string]any{
		"is_trial":       true,
		"daily_limit_mb": 256,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"updated"`)

	// The same update again changes nothing.
	w = doJSON(t, srv, http.MethodPut, "/connection/"+id.String(), map[string]any{
		"is_trial":       true,
		"daily_limit_mb": 256,
	})
	assert.Equal(t, http.StatusNotModified, w.Code)

	w = doJSON(t, srv, http.MethodDelete, "/connection/"+id.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodDelete, "/connection/"+id.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConnectionCreateRejectsUnknownProto(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/connection", map[string]any{
		"env":   "dev",
		"proto": "socks5",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConnectionList(t *testing.T) {
	srv := newTestServer(t)

	for _, proto := range []string{"vmess", "hysteria2"} {
		w := doJSON(t, srv, http.MethodPost, "/connection", map[string]any{"env": "dev", "proto": proto})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(t, srv, http.MethodGet, "/connections?env=dev&proto=hysteria2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var conns []*model.Connection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conns))
	require.Len(t, conns, 1)
	assert.Equal(t, model.TagHysteria2, conns[0].Proto.Tag)

	w = doJSON(t, srv, http.MethodGet, "/connections?last_update=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubscriptionEndpoints(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/sub", map[string]any{
		"expires_at": time.Now().Add(30 * 24 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var st model.OpStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))

	w = doJSON(t, srv, http.MethodGet, "/sub/stat?id="+st.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"connections":0`)

	w = doJSON(t, srv, http.MethodGet, "/sub/info?id="+st.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")

	w = doJSON(t, srv, http.MethodGet, "/sub/stat?id="+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
