package gateway

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NodePath81/pmugateway/internal/estimator"
	"github.com/NodePath81/pmugateway/internal/util"
	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg string) wsResponse {
	t.Helper()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp wsResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	return resp
}

func TestWebSocketConfigureEstimate(t *testing.T) {
	_, ts := newTestServer(t, "")
	conn := dialWS(t, ts)

	resp := roundTrip(t, conn, `{"action": "configure", "configuration": `+validConfiguration+`}`)
	if resp.Code != http.StatusOK || resp.Status != StatusConfigured || resp.Action != "configure" {
		t.Fatalf("unexpected configure response %+v", resp)
	}

	for i := 0; i < 3; i++ {
		resp = roundTrip(t, conn, `{"action": "estimate", "data_frame": `+dataFrameJSON(1, 2, 5)+`}`)
		if resp.Code != http.StatusOK || resp.Frame == nil {
			t.Fatalf("unexpected estimate response %+v", resp)
		}
		keys := resp.Frame.Keys()
		if len(keys) != 3 || keys[0] != "channel_1" || keys[1] != "channel_2" || keys[2] != "channel_5" {
			t.Fatalf("expected channel_1, channel_2, channel_5, got %v", keys)
		}
	}
}

func TestWebSocketEstimateBeforeConfigure(t *testing.T) {
	_, ts := newTestServer(t, "")
	conn := dialWS(t, ts)

	resp := roundTrip(t, conn, `{"action": "estimate", "data_frame": `+dataFrameJSON(1)+`}`)
	if resp.Code != http.StatusConflict || resp.Error == "" {
		t.Fatalf("expected 409 not configured, got %+v", resp)
	}
	resp = roundTrip(t, conn, `{"action": "configure", "configuration": `+validConfiguration+`}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected configure to succeed after rejected estimate, got %+v", resp)
	}
}

func TestWebSocketUnknownActionKeepsConnection(t *testing.T) {
	_, ts := newTestServer(t, "")
	conn := dialWS(t, ts)

	resp := roundTrip(t, conn, `{"action": "calibrate"}`)
	if resp.Code != http.StatusBadRequest || !strings.Contains(resp.Error, "unknown action") {
		t.Fatalf("expected unknown action error, got %+v", resp)
	}
	resp = roundTrip(t, conn, `not json`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid json, got %+v", resp)
	}
	resp = roundTrip(t, conn, `{"action": "configure", "configuration": `+validConfiguration+`}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected connection to stay usable, got %+v", resp)
	}
}

func TestWebSocketValidationKeepsConfiguredState(t *testing.T) {
	_, ts := newTestServer(t, "")
	conn := dialWS(t, ts)

	roundTrip(t, conn, `{"action": "configure", "configuration": `+validConfiguration+`}`)
	resp := roundTrip(t, conn, `{"action": "configure", "configuration": `+missingThreshold2+`}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", resp)
	}
	resp = roundTrip(t, conn, `{"action": "estimate", "data_frame": `+dataFrameJSON(1)+`}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected estimate with previous configuration, got %+v", resp)
	}
}

func TestWebSocketConnectionScopeIsolatesSessions(t *testing.T) {
	_, ts := newTestServer(t, "")
	first := dialWS(t, ts)
	second := dialWS(t, ts)

	roundTrip(t, first, `{"action": "configure", "configuration": `+validConfiguration+`}`)
	resp := roundTrip(t, second, `{"action": "estimate", "data_frame": `+dataFrameJSON(1)+`}`)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected second connection to be unconfigured, got %+v", resp)
	}
}

func TestWebSocketSharedScopeUsesRESTSession(t *testing.T) {
	srv, ts := newTestServer(t, "websocket:\n  session_scope: shared\n")
	conn := dialWS(t, ts)

	roundTrip(t, conn, `{"action": "configure", "configuration": `+validConfiguration+`}`)
	resp, body := post(t, ts.URL+"/estimate", `{"data_frame": `+dataFrameJSON(4)+`}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected REST estimate on shared session, got %d: %s", resp.StatusCode, body)
	}
	if srv.session == nil {
		t.Fatalf("expected shared session")
	}
}

func TestWebSocketNonFiniteEstimateReplies500(t *testing.T) {
	_, ts := newTestServer(t, "")
	conn := dialWS(t, ts)

	roundTrip(t, conn, `{"action": "configure", "configuration": `+validConfiguration+`}`)
	resp := roundTrip(t, conn, `{"action": "estimate", "data_frame": `+overflowFrameJSON()+`}`)
	if resp.Code != http.StatusInternalServerError || resp.Error == "" || resp.Frame != nil {
		t.Fatalf("expected 500 error reply, got %+v", resp)
	}
	resp = roundTrip(t, conn, `{"action": "estimate", "data_frame": `+dataFrameJSON(1)+`}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected connection to stay configured, got %+v", resp)
	}
}

func TestWebSocketEncodeFallback(t *testing.T) {
	c := &wsConn{logger: util.Discard()}
	frame := newFrame(1)
	frame.set("channel_1", &estimator.Result{Amplitude: math.Inf(1)})

	var resp wsResponse
	if err := json.Unmarshal(c.encode(wsResponse{Action: "estimate", Frame: frame, Code: http.StatusOK}), &resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Code != http.StatusInternalServerError || resp.Action != "estimate" || resp.Frame != nil {
		t.Fatalf("expected 500 reply without frame, got %+v", resp)
	}
}

func TestWebSocketConfigureTimeoutKeepsState(t *testing.T) {
	srv, _ := newTestServer(t, "websocket:\n  session_scope: shared\n")
	c := &wsConn{server: srv, session: srv.session, logger: util.Discard(), state: stateConnected}
	configure := []byte(`{"action": "configure", "configuration": ` + validConfiguration + `}`)

	if resp := c.handle(context.Background(), configure); resp.Code != http.StatusOK {
		t.Fatalf("expected configure to succeed, got %+v", resp)
	}

	// Another client holds the shared session while this one reconfigures.
	srv.session.slot <- struct{}{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := c.handle(ctx, configure)
	srv.session.release()
	if resp.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 timeout, got %+v", resp)
	}
	if c.state != stateConfigured {
		t.Fatalf("expected state %v, got %v", stateConfigured, c.state)
	}

	resp = c.handle(context.Background(), []byte(`{"action": "estimate", "data_frame": `+dataFrameJSON(1)+`}`))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected estimate with previous configuration, got %+v", resp)
	}
}
