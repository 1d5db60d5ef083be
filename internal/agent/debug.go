package agent

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ponyhq/pony/internal/cache"
	"github.com/ponyhq/pony/internal/model"
)

// DebugServer is a small WebSocket inspection surface over the agent's
// in-memory state. The client authenticates by sending the token as the
// WebSocket subprotocol, since browser clients cannot set headers.
type DebugServer struct {
	token  string
	node   *model.Node
	cache  *cache.Cache
	logger zerolog.Logger
}

func NewDebugServer(token string, node *model.Node, c *cache.Cache, logger zerolog.Logger) *DebugServer {
	return &DebugServer{
		token:  token,
		node:   node,
		cache:  c,
		logger: logger.With().Str("component", "debug").Logger(),
	}
}

type debugRequest struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
}

type debugConn struct {
	ID        uuid.UUID              `json:"id"`
	Proto     model.ProtoTag         `json:"proto"`
	Status    model.ConnectionStatus `json:"status"`
	IsDeleted bool                   `json:"is_deleted,omitempty"`
	Stat      model.ConnectionStat   `json:"stat"`
}

func (s *DebugServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	proto := r.Header.Get("Sec-WebSocket-Protocol")
	if subtle.ConstantTimeCompare([]byte(proto), []byte(s.token)) != 1 {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{s.token},
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.CloseNow()

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}

		var req debugRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.writeJSON(ctx, ws, map[string]string{"error": "malformed request"})
			continue
		}
		s.writeJSON(ctx, ws, s.dispatch(req))
	}
}

func (s *DebugServer) dispatch(req debugRequest) any {
	switch req.Kind {
	case "get_connections":
		conns := s.cache.Connections(nil)
		out := make([]debugConn, 0, len(conns))
		for _, c := range conns {
			out = append(out, debugConn{
				ID:        c.ID,
				Proto:     c.Proto.Tag,
				Status:    c.Status,
				IsDeleted: c.IsDeleted,
				Stat:      c.Stat,
			})
		}
		return out
	case "get_nodes":
		return []*model.Node{s.node}
	case "get_conn_info":
		id, err := uuid.Parse(req.ID)
		if err != nil {
			return map[string]string{"error": "malformed connection id"}
		}
		conn, ok := s.cache.Connection(id)
		if !ok {
			return map[string]string{"error": "connection not found"}
		}
		return conn
	case "get_users":
		var emails []string
		for _, c := range s.cache.Connections(func(c *model.Connection) bool {
			return c.Proto.Tag.IsXray() && !c.IsDeleted && c.Status == model.ConnActive
		}) {
			emails = append(emails, c.Email())
		}
		return emails
	}
	return map[string]string{"error": "unknown kind"}
}

func (s *DebugServer) writeJSON(ctx context.Context, ws *websocket.Conn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Msg("debug response marshal failed")
		return
	}
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := ws.Write(wctx, websocket.MessageText, b); err != nil {
		s.logger.Debug().Err(err).Msg("debug response write failed")
	}
}
