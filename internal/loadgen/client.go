package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/NodePath81/pmugateway/internal/protocol"
	"github.com/NodePath81/pmugateway/internal/util"
	"github.com/gorilla/websocket"
)

const maxResponseBytes = 64 << 20

// Client is one gateway connection. Calls are not concurrent.
type Client interface {
	Configure(ctx context.Context, cfg protocol.Configuration) error
	// Estimate returns the frame JSON of a successful reply.
	Estimate(ctx context.Context, frame protocol.DataFrame) (json.RawMessage, error)
	Close() error
}

// Dialer opens a new client. Failures wrap ErrTransport.
type Dialer func(ctx context.Context) (Client, error)

type wsRequest struct {
	Action        string                  `json:"action"`
	Configuration *protocol.Configuration `json:"configuration,omitempty"`
	DataFrame     *protocol.DataFrame     `json:"data_frame,omitempty"`
}

type wsResponse struct {
	Action string          `json:"action"`
	Status string          `json:"status"`
	Frame  json.RawMessage `json:"frame"`
	Error  string          `json:"error"`
	Code   int             `json:"code"`
}

type wsClient struct {
	conn   *websocket.Conn
	logger util.Logger
}

// WebSocketDialer dials wsURL for every client.
func WebSocketDialer(wsURL string, handshakeTimeout time.Duration, logger util.Logger) Dialer {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	return func(ctx context.Context) (Client, error) {
		conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			if resp != nil {
				err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
			}
			return nil, transportError("dial", err)
		}
		conn.SetReadLimit(maxResponseBytes)
		return &wsClient{conn: conn, logger: logger}, nil
	}
}

func (c *wsClient) Configure(ctx context.Context, cfg protocol.Configuration) error {
	_, err := c.roundTrip(ctx, wsRequest{Action: "configure", Configuration: &cfg})
	return err
}

func (c *wsClient) Estimate(ctx context.Context, frame protocol.DataFrame) (json.RawMessage, error) {
	resp, err := c.roundTrip(ctx, wsRequest{Action: "estimate", DataFrame: &frame})
	if err != nil {
		return nil, err
	}
	return resp.Frame, nil
}

func (c *wsClient) roundTrip(ctx context.Context, req wsRequest) (wsResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return wsResponse{}, fmt.Errorf("encode %s: %w", req.Action, err)
	}
	c.logger.Debug("sending message", "action", req.Action, "bytes", len(payload))

	deadline, _ := ctx.Deadline()
	_ = c.conn.SetWriteDeadline(deadline)
	_ = c.conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return wsResponse{}, transportError("write", ctxErr(ctx, err))
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return wsResponse{}, transportError("read", ctxErr(ctx, err))
	}
	var resp wsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return wsResponse{}, transportError("decode", err)
	}
	if resp.Action != req.Action {
		return wsResponse{}, transportError("read", fmt.Errorf("reply for %q while waiting for %q", resp.Action, req.Action))
	}
	if resp.Error != "" || resp.Code >= http.StatusBadRequest {
		return resp, &ServerError{Code: resp.Code, Message: resp.Error}
	}
	return resp, nil
}

func (c *wsClient) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}

type restClient struct {
	base   string
	http   *http.Client
	logger util.Logger
}

type errorReply struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// RESTDialer returns clients that post to baseURL. Each client owns its
// own connection pool so that clients do not share keep-alive connections.
func RESTDialer(baseURL string, logger util.Logger) Dialer {
	base := strings.TrimSuffix(baseURL, "/")
	return func(context.Context) (Client, error) {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		return &restClient{
			base:   base,
			http:   &http.Client{Transport: transport},
			logger: logger,
		}, nil
	}
}

func (c *restClient) Configure(ctx context.Context, cfg protocol.Configuration) error {
	_, err := c.post(ctx, "/configure", map[string]any{"configuration": cfg})
	return err
}

func (c *restClient) Estimate(ctx context.Context, frame protocol.DataFrame) (json.RawMessage, error) {
	body, err := c.post(ctx, "/estimate", map[string]any{"data_frame": frame})
	if err != nil {
		return nil, err
	}
	var reply struct {
		Frame json.RawMessage `json:"frame"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, transportError("decode", err)
	}
	return reply.Frame, nil
}

func (c *restClient) post(ctx context.Context, path string, doc any) ([]byte, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", path, err)
	}
	c.logger.Debug("sending request", "path", path, "bytes", len(payload))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return nil, transportError("request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError("post", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError("read", err)
	}
	if resp.StatusCode != http.StatusOK {
		var reply errorReply
		if err := json.Unmarshal(body, &reply); err != nil || reply.Error == "" {
			reply.Error = strings.TrimSpace(string(body))
		}
		return nil, &ServerError{Code: resp.StatusCode, Message: reply.Error}
	}
	return body, nil
}

func (c *restClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// ctxErr prefers the context error over the deadline error it caused.
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return errors.Join(cerr, err)
	}
	return err
}
