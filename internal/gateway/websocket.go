package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/NodePath81/pmugateway/internal/config"
	"github.com/NodePath81/pmugateway/internal/metrics"
	"github.com/NodePath81/pmugateway/internal/protocol"
	"github.com/NodePath81/pmugateway/internal/util"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type connState int

const (
	stateConnected connState = iota
	stateConfigured
	stateEstimating
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnected:
		return "connected"
	case stateConfigured:
		return "configured"
	case stateEstimating:
		return "estimating"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type wsRequest struct {
	Action        string          `json:"action"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
	DataFrame     json.RawMessage `json:"data_frame,omitempty"`
}

type wsResponse struct {
	Action string `json:"action"`
	Status string `json:"status,omitempty"`
	Frame  *Frame `json:"frame,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   int    `json:"code"`
}

// wsConn is a single WebSocket connection. One goroutine reads a request,
// handles it and writes the response before reading the next one.
type wsConn struct {
	server  *Server
	conn    *websocket.Conn
	session *Session
	id      string
	logger  util.Logger
	state   connState
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	wsCfg := s.cfg.WebSocket
	conn.SetReadLimit(wsCfg.ReadLimitBytes())
	_ = conn.SetReadDeadline(time.Now().Add(wsCfg.PongWait.Duration()))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsCfg.PongWait.Duration()))
	})

	id := uuid.NewString()
	logger := s.logger.With("conn", id, "remote", r.RemoteAddr)
	session := s.session
	if wsCfg.SessionScope == config.SessionScopeConnection {
		session = NewSession(s.factory, logger)
		defer session.Close()
	}
	c := &wsConn{
		server:  s,
		conn:    conn,
		session: session,
		id:      id,
		logger:  logger,
		state:   stateConnected,
	}

	s.metrics.IncWSConnections()
	defer s.metrics.DecWSConnections()
	logger.Info("websocket connected")

	var closeOnce sync.Once
	done := make(chan struct{})
	closeConn := func() {
		closeOnce.Do(func() {
			close(done)
			_ = conn.Close()
		})
	}
	defer closeConn()

	go func() {
		ticker := time.NewTicker(wsCfg.PingInterval.Duration())
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-s.done:
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(wsCfg.WriteWait.Duration()))
				closeConn()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsCfg.WriteWait.Duration())); err != nil {
					closeConn()
					return
				}
			}
		}
	}()

	c.serve(r.Context())
	c.state = stateClosed
	logger.Info("websocket closed")
}

func (c *wsConn) serve(ctx context.Context) {
	writeWait := c.server.cfg.WebSocket.WriteWait.Duration()
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		payload := c.encode(c.handle(ctx, msg))
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			c.logger.Debug("websocket write failed", "error", err)
			return
		}
	}
}

// encode marshals resp, replacing it with a 500 reply when it cannot be encoded.
func (c *wsConn) encode(resp wsResponse) []byte {
	payload, err := json.Marshal(resp)
	if err == nil {
		return payload
	}
	c.logger.Warn("websocket encode failed", "action", resp.Action, "error", err)
	payload, _ = json.Marshal(wsResponse{
		Action: resp.Action,
		Error:  fmt.Sprintf("%v: encode response: %v", ErrDownstream, err),
		Code:   http.StatusInternalServerError,
	})
	return payload
}

// handle runs one request through the connection state machine.
func (c *wsConn) handle(ctx context.Context, msg []byte) wsResponse {
	start := time.Now()
	var req wsRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		return c.fail("", start, fmt.Errorf("%w: invalid json: %v", protocol.ErrValidation, err))
	}

	reqCtx, cancel := c.server.requestContext(ctx)
	defer cancel()

	switch req.Action {
	case opConfigure:
		err := c.server.configure(reqCtx, c.session, req.Configuration)
		if err != nil {
			// A rejected document or a busy shared session leaves the
			// previous configuration in place.
			if errors.Is(err, ErrDownstream) {
				c.state = stateConnected
			}
			return c.fail(req.Action, start, err)
		}
		c.state = stateConfigured
		c.observe(req.Action, metrics.OutcomeOK, start)
		c.logger.Info("estimator configured", "transport", transportWebSocket)
		return wsResponse{Action: req.Action, Status: StatusConfigured, Code: http.StatusOK}

	case opEstimate:
		if c.state != stateConfigured {
			return c.fail(req.Action, start, ErrNotConfigured)
		}
		c.state = stateEstimating
		frame, err := c.server.estimate(reqCtx, c.session, req.DataFrame)
		c.state = stateConfigured
		if err != nil {
			if errors.Is(err, ErrNotConfigured) {
				c.state = stateConnected
			}
			return c.fail(req.Action, start, err)
		}
		c.observe(req.Action, metrics.OutcomeOK, start)
		return wsResponse{Action: req.Action, Frame: frame, Code: http.StatusOK}

	default:
		return c.fail(req.Action, start, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action))
	}
}

func (c *wsConn) fail(action string, start time.Time, err error) wsResponse {
	code, kind := Classify(err)
	if errors.Is(err, ErrNotConfigured) {
		code, kind = http.StatusConflict, KindNotConfigured
	}
	c.observe(action, kind, start)
	if code >= http.StatusInternalServerError {
		c.logger.Warn("request failed", "transport", transportWebSocket, "action", action, "state", c.state, "kind", kind, "error", err)
	} else {
		c.logger.Debug("request rejected", "transport", transportWebSocket, "action", action, "state", c.state, "kind", kind, "error", err)
	}
	return wsResponse{Action: action, Error: err.Error(), Code: code}
}

func (c *wsConn) observe(action, outcome string, start time.Time) {
	op := action
	if op != opConfigure && op != opEstimate {
		op = "other"
	}
	c.server.metrics.ObserveRequest(transportWebSocket, op, outcome, time.Since(start))
}
