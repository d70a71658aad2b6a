package app

import (
	"context"
	"fmt"
	"net"

	"github.com/NodePath81/pmugateway/internal/config"
	"github.com/NodePath81/pmugateway/internal/estimator"
	"github.com/NodePath81/pmugateway/internal/gateway"
	"github.com/NodePath81/pmugateway/internal/metrics"
	"github.com/NodePath81/pmugateway/internal/util"
)

// Runtime is one configured gateway instance: metrics, the shared REST
// session and the HTTP server.
type Runtime struct {
	cfg     config.Config
	ctx     context.Context
	cancel  context.CancelFunc
	logger  util.Logger
	metrics *metrics.Metrics
	session *gateway.Session
	server  *gateway.Server
}

func NewRuntime(cfg config.Config, logger util.Logger) (*Runtime, error) {
	factory, err := estimatorFactory(cfg.Estimator)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := metrics.NewMetrics()
	session := gateway.NewSession(factory, logger)
	return &Runtime{
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		metrics: m,
		session: session,
		server:  gateway.NewServer(cfg, session, factory, m, logger),
	}, nil
}

func (r *Runtime) Start() error {
	if r.cfg.Metrics.IsEnabled() {
		r.metrics.Start(r.ctx.Done())
	}
	if err := r.server.Start(r.ctx); err != nil {
		r.Stop()
		return err
	}
	return nil
}

// Stop shuts the server down within server.shutdown_timeout and releases
// the shared estimator.
func (r *Runtime) Stop() {
	r.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Server.ShutdownTimeout.Duration())
	if err := r.server.Shutdown(ctx); err != nil {
		r.logger.Warn("gateway shutdown incomplete", "error", err)
	}
	cancel()
	r.session.Close()
}

// Addr is the gateway listening address once started.
func (r *Runtime) Addr() net.Addr {
	return r.server.Addr()
}

func estimatorFactory(cfg config.EstimatorConfig) (estimator.Factory, error) {
	switch cfg.Kind {
	case config.EstimatorIpDFT:
		return estimator.New, nil
	default:
		return nil, fmt.Errorf("unsupported estimator.kind %q", cfg.Kind)
	}
}
