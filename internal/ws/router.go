package ws

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nxtg-forge/termbridge/internal/bridge"
	"github.com/nxtg-forge/termbridge/internal/protocol"
	"github.com/nxtg-forge/termbridge/internal/recovery"
	"github.com/nxtg-forge/termbridge/internal/sessions"
)

// Router handles WebSocket connections to terminal sessions
type Router struct {
	manager  *bridge.Manager
	origins  OriginPolicy
	upgrader websocket.Upgrader
	opts     ClientOptions
	log      zerolog.Logger
}

// NewRouter creates a new WebSocket router
func NewRouter(m *bridge.Manager, origins OriginPolicy, opts ClientOptions, log zerolog.Logger) *Router {
	r := &Router{
		manager: m,
		origins: origins,
		opts:    opts,
		log:     log.With().Str("component", "ws").Logger(),
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.Check,
	}
	return r
}

// HandleTerminal serves GET /terminal?runspace=<id>[&sessionId=<id>].
// Disallowed origins get 403 before the upgrade; every other refusal is a
// close frame with the matching code, so browsers can tell them apart.
func (r *Router) HandleTerminal(w http.ResponseWriter, req *http.Request) {
	if !r.origins.Check(req) {
		r.log.Warn().
			Str("origin", req.Header.Get("Origin")).
			Str("remote", req.RemoteAddr).
			Msg("origin not allowed")
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	q := req.URL.Query()
	connReq := bridge.ConnectRequest{
		RunspaceID: q.Get("runspace"),
		SessionID:  q.Get("sessionId"),
		RemoteAddr: req.RemoteAddr,
	}
	if connReq.SessionID == "" {
		connReq.SessionID = q.Get("session_id")
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		r.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(conn, r.opts, r.log)
	recovery.SafeGo(r.log, "ws-write-pump", client.WritePump)

	ctx := req.Context()
	s, err := r.manager.Connect(ctx, connReq, client)
	if err != nil {
		code, reason := protocol.CloseSpawnFailed, "internal error"
		var rerr *bridge.RejectError
		if errors.As(err, &rerr) {
			code, reason = rerr.Code, rerr.Reason
		}
		client.Close(code, reason)
		client.ReadPump(nil)
		<-client.Done()
		return
	}

	client.ReadPump(func(msg protocol.ClientMessage) {
		r.dispatch(ctx, s, client, msg)
	})
	r.manager.Detach(s, client)
	<-client.Done()
}

// dispatch routes one client message to the session.
func (r *Router) dispatch(ctx context.Context, s *sessions.Session, c *Client, msg protocol.ClientMessage) {
	var err error
	switch msg.Type {
	case protocol.TypeInput:
		err = r.manager.Write(ctx, s, c, []byte(msg.Data))

	case protocol.TypeExecute:
		err = r.manager.Execute(ctx, s, c, msg.Command)
		if errors.Is(err, bridge.ErrDangerousCommandBlocked) {
			// already reported to the client
			return
		}

	case protocol.TypeResize:
		if err := r.manager.Resize(s, msg.Cols, msg.Rows); err != nil {
			s.Send(c, protocol.Error(protocol.ErrCodeBadMessage, err.Error()))
		}
		return

	case protocol.TypePing:
		c.Send(protocol.ServerMessage{Type: protocol.TypePong})
		return
	}

	if err != nil && !errors.Is(err, sessions.ErrSessionNotLive) {
		r.log.Debug().Err(err).Str("session", s.ID).Msg("write to session failed")
		s.Send(c, protocol.Error(protocol.ErrCodeWriteFailed, err.Error()))
	}
}
