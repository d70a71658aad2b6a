// Package gateway exposes an estimator session over REST and WebSocket.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/NodePath81/pmugateway/internal/config"
	"github.com/NodePath81/pmugateway/internal/estimator"
	"github.com/NodePath81/pmugateway/internal/metrics"
	"github.com/NodePath81/pmugateway/internal/protocol"
	"github.com/NodePath81/pmugateway/internal/util"
	"github.com/NodePath81/pmugateway/internal/version"
	"github.com/gorilla/websocket"
)

// StatusConfigured is returned after a successful configure.
const StatusConfigured = "Successfully Configured PMU Estimator"

const (
	transportREST      = "rest"
	transportWebSocket = "websocket"
	opConfigure        = "configure"
	opEstimate         = "estimate"
)

type Server struct {
	cfg      config.Config
	session  *Session
	factory  estimator.Factory
	metrics  *metrics.Metrics
	logger   util.Logger
	upgrader websocket.Upgrader
	server   *http.Server
	addr     net.Addr
	done     <-chan struct{}
}

// NewServer builds a gateway server. REST callers share session; WebSocket
// connections use it too when websocket.session_scope is shared.
func NewServer(cfg config.Config, session *Session, factory estimator.Factory, m *metrics.Metrics, logger util.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		session: session,
		factory: factory,
		metrics: m,
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: originAllowed,
	}
	return s
}

type configureRequest struct {
	Configuration json.RawMessage `json:"configuration"`
}

type estimateRequest struct {
	DataFrame json.RawMessage `json:"data_frame"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type frameResponse struct {
	Frame *Frame `json:"frame"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Hostname string `json:"hostname"`
	Version  string `json:"version"`
}

// Handler returns the gateway routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/configure", s.handleConfigure)
	mux.HandleFunc("/estimate", s.handleEstimate)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.cfg.WebSocket.IsEnabled() {
		mux.HandleFunc(s.cfg.WebSocket.Path, s.handleWebSocket)
	}
	if s.cfg.Probe.IsEnabled() {
		mux.HandleFunc("/probe/download", s.handleProbeDownload)
		mux.HandleFunc("/probe/upload", s.handleProbeUpload)
	}
	if s.cfg.Metrics.IsEnabled() {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	addr := util.NetJoin(s.cfg.Server.BindAddr, s.cfg.Server.BindPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.addr = ln.Addr()
	s.done = ctx.Done()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway server error", "error", err)
		}
	}()
	s.logger.Info("gateway server started", "addr", ln.Addr().String(), "websocket", s.cfg.WebSocket.IsEnabled(), "session_scope", s.cfg.WebSocket.SessionScope)
	return nil
}

// Addr is the listening address after Start.
func (s *Server) Addr() net.Addr {
	return s.addr
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed", Kind: KindValidation})
		return
	}
	start := time.Now()
	ctx, cancel := s.requestContext(r.Context())
	defer cancel()

	var req configureRequest
	err := decodeBody(w, r, s.cfg.Server.MaxBodyBytes(), &req)
	if err == nil {
		err = s.configure(ctx, s.session, req.Configuration)
	}
	if err != nil {
		s.writeError(w, opConfigure, start, err)
		return
	}
	s.metrics.ObserveRequest(transportREST, opConfigure, metrics.OutcomeOK, time.Since(start))
	s.logger.Info("estimator configured", "transport", transportREST, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, statusResponse{Status: StatusConfigured})
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed", Kind: KindValidation})
		return
	}
	start := time.Now()
	ctx, cancel := s.requestContext(r.Context())
	defer cancel()

	var req estimateRequest
	var frame *Frame
	err := decodeBody(w, r, s.cfg.Server.MaxBodyBytes(), &req)
	if err == nil {
		frame, err = s.estimate(ctx, s.session, req.DataFrame)
	}
	if err != nil {
		s.writeError(w, opEstimate, start, err)
		return
	}
	s.metrics.ObserveRequest(transportREST, opEstimate, metrics.OutcomeOK, time.Since(start))
	writeJSON(w, http.StatusOK, frameResponse{Frame: frame})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Hostname: s.cfg.Hostname, Version: version.Version})
}

func (s *Server) configure(ctx context.Context, session *Session, raw json.RawMessage) error {
	doc, err := protocol.ParseConfiguration(raw)
	if err != nil {
		return err
	}
	return session.Configure(ctx, doc.EstimatorConfig())
}

func (s *Server) estimate(ctx context.Context, session *Session, raw json.RawMessage) (*Frame, error) {
	doc, err := protocol.ParseDataFrame(raw)
	if err != nil {
		return nil, err
	}
	frame, err := session.Estimate(ctx, doc)
	if err != nil {
		return nil, err
	}
	s.metrics.AddFrame(frame.Len())
	return frame, nil
}

func (s *Server) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.cfg.Server.RequestTimeout.Duration())
}

func (s *Server) writeError(w http.ResponseWriter, op string, start time.Time, err error) {
	status, kind := Classify(err)
	s.metrics.ObserveRequest(transportREST, op, kind, time.Since(start))
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "transport", transportREST, "operation", op, "kind", kind, "error", err)
	} else {
		s.logger.Debug("request rejected", "transport", transportREST, "operation", op, "kind", kind, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", protocol.ErrValidation, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: invalid json: %v", protocol.ErrValidation, err)
	}
	return nil
}

func originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	return strings.EqualFold(parsed.Host, r.Host)
}

// writeJSON encodes resp before committing status, so an unencodable body
// becomes a 500 instead of a truncated 200.
func writeJSON(w http.ResponseWriter, status int, resp any) {
	body, err := json.Marshal(resp)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorResponse{Error: fmt.Sprintf("%v: encode response: %v", ErrDownstream, err), Kind: KindDownstream})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
