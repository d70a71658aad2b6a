package gateway

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"github.com/NodePath81/pmugateway/internal/codec"
	"github.com/NodePath81/pmugateway/internal/estimator"
	"github.com/NodePath81/pmugateway/internal/protocol"
	"github.com/NodePath81/pmugateway/internal/util"
	"golang.org/x/sync/errgroup"
)

// Session owns one configuration and an estimator per channel key, so
// stateful stages such as ROCOF only ever see a single channel's history.
// Configure and Estimate hold an exclusive slot, so an estimate never sees a
// half-replaced configuration and concurrent configures complete one at a time.
type Session struct {
	factory estimator.Factory
	logger  util.Logger
	slot    chan struct{}

	configured bool
	cfg        estimator.Config
	// spare is the estimator that validated cfg; the first channel adopts it.
	spare    estimator.Estimator
	channels map[string]estimator.Estimator
}

func NewSession(factory estimator.Factory, logger util.Logger) *Session {
	return &Session{
		factory: factory,
		logger:  logger,
		slot:    make(chan struct{}, 1),
	}
}

func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for session: %v", ErrTimeout, ctx.Err())
	}
}

func (s *Session) release() {
	<-s.slot
}

// Configure replaces the current estimator with a fresh one built from cfg.
// On failure the session is left unconfigured.
func (s *Session) Configure(ctx context.Context, cfg estimator.Config) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.teardown()
	est := s.factory()
	if err := est.Configure(cfg); err != nil {
		_ = est.Close()
		return fmt.Errorf("%w: configure: %w", ErrDownstream, err)
	}
	s.configured = true
	s.cfg = cfg
	s.spare = est
	s.channels = make(map[string]estimator.Estimator)
	return nil
}

// channel returns the estimator bound to key, building one on first use.
func (s *Session) channel(key string) (estimator.Estimator, error) {
	if est, ok := s.channels[key]; ok {
		return est, nil
	}
	est := s.spare
	s.spare = nil
	if est == nil {
		est = s.factory()
		if err := est.Configure(s.cfg); err != nil {
			_ = est.Close()
			return nil, fmt.Errorf("configure: %w", err)
		}
	}
	s.channels[key] = est
	return est, nil
}

// Estimate decodes every channel of frame and runs the estimator over them in
// frame order. A channel without a result fails the whole frame.
func (s *Session) Estimate(ctx context.Context, frame protocol.DataFrame) (*Frame, error) {
	samples := make([][]float64, len(frame.Channels))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, ch := range frame.Channels {
		i, ch := i, ch
		g.Go(func() error {
			decoded, err := codec.DecodeSamples(ch.Payload)
			if err != nil {
				return fmt.Errorf("%s: %w", ch.Key(), err)
			}
			samples[i] = decoded
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	mid := codec.MidWindowFraction(frame.Timestamp.FRACSEC, frame.Timestamp.Timebase)

	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	if !s.configured {
		return nil, ErrNotConfigured
	}
	out := newFrame(len(frame.Channels))
	for i, ch := range frame.Channels {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		est, err := s.channel(ch.Key())
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrDownstream, ch.Key(), err)
		}
		res, err := est.Estimate(samples[i], mid)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrDownstream, ch.Key(), err)
		}
		if res == nil {
			return nil, fmt.Errorf("%w: %s: no result", ErrDownstream, ch.Key())
		}
		if !finite(res) {
			return nil, fmt.Errorf("%w: %s: non-finite result", ErrDownstream, ch.Key())
		}
		out.set(ch.Key(), res)
	}
	return out, nil
}

// Config returns the active estimator configuration.
func (s *Session) Config(ctx context.Context) (estimator.Config, bool, error) {
	if err := s.acquire(ctx); err != nil {
		return estimator.Config{}, false, err
	}
	defer s.release()
	return s.cfg, s.configured, nil
}

// finite reports whether every numeric field of res can be encoded as JSON.
func finite(res *estimator.Result) bool {
	for _, v := range [...]float64{res.Amplitude, res.Phase, res.Frequency, res.ROCOF} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Close tears down every estimator.
func (s *Session) Close() {
	s.slot <- struct{}{}
	defer s.release()
	s.teardown()
}

func (s *Session) teardown() {
	if s.spare != nil {
		s.closeEstimator("", s.spare)
	}
	for key, est := range s.channels {
		s.closeEstimator(key, est)
	}
	s.spare = nil
	s.channels = nil
	s.configured = false
	s.cfg = estimator.Config{}
}

func (s *Session) closeEstimator(key string, est estimator.Estimator) {
	if err := est.Close(); err != nil {
		s.logger.Warn("estimator close failed", "channel", key, "error", err)
	}
}
