// Package loadgen drives concurrent gateway clients and records the
// round-trip time of every estimate request.
package loadgen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NodePath81/pmugateway/internal/protocol"
	"github.com/NodePath81/pmugateway/internal/util"
)

// ErrTransport marks a dial, write, read or timeout failure. The client
// redials before its next request.
var ErrTransport = errors.New("transport failure")

// ServerError is an error reply from the gateway. The connection stays usable.
type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// Signal shapes the synthetic waveform. Channel c carries
// BaseFrequency + FrequencyStep*c.
type Signal struct {
	Amplitude     float64
	BaseFrequency float64
	FrequencyStep float64
	Phase         float64
}

type Params struct {
	Clients        int
	Iterations     int
	Channels       int
	Configuration  protocol.Configuration
	Signal         Signal
	Timestamp      protocol.Timestamp
	RequestTimeout time.Duration
	// RecordResults keeps the estimate body of successful requests.
	RecordResults bool
	Logger        util.Logger
}

// Measurement is one estimate request. Result holds the frame JSON when
// results are recorded.
type Measurement struct {
	ClientID  int
	Iteration int
	Elapsed   time.Duration
	Result    string
	Err       error
}

func (m Measurement) OK() bool {
	return m.Err == nil
}

// ElapsedMs returns the round-trip time in milliseconds.
func (m Measurement) ElapsedMs() float64 {
	return float64(m.Elapsed) / float64(time.Millisecond)
}

// Run starts p.Clients clients in parallel. Each configures once and then
// sends p.Iterations estimates. The result always holds
// Clients*Iterations measurements ordered by client, then iteration.
func Run(ctx context.Context, p Params, dial Dialer) []Measurement {
	logger := p.Logger
	if logger == nil {
		logger = util.Discard()
	}
	channels := Synthesize(p.Configuration.Signal, p.Signal, p.Channels)
	buffers := make([][]Measurement, p.Clients)

	// Workers record failures as measurements and never abort their peers.
	var wg sync.WaitGroup
	for id := 0; id < p.Clients; id++ {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := &worker{
				id:       id,
				params:   p,
				channels: channels,
				dial:     dial,
				logger:   logger.With("client", id),
			}
			buffers[id] = w.run(ctx)
		}()
	}
	wg.Wait()

	out := make([]Measurement, 0, p.Clients*p.Iterations)
	for _, buf := range buffers {
		out = append(out, buf...)
	}
	return out
}

type worker struct {
	id       int
	params   Params
	channels []protocol.Channel
	dial     Dialer
	logger   util.Logger
	client   Client
}

func (w *worker) run(ctx context.Context) []Measurement {
	out := make([]Measurement, 0, w.params.Iterations)
	defer w.drop()

	ts := w.params.Timestamp
	frameRate := w.params.Configuration.Synchrophasor.FrameRate
	for i := 0; i < w.params.Iterations; i++ {
		frame := protocol.DataFrame{Timestamp: ts, Channels: w.channels}
		ts = Advance(ts, frameRate)

		if w.client == nil {
			if err := w.connect(ctx); err != nil {
				w.logger.Debug("connect failed", "iteration", i, "error", err)
				out = append(out, Measurement{ClientID: w.id, Iteration: i, Err: err})
				continue
			}
		}
		out = append(out, w.estimate(ctx, i, frame))
	}
	return out
}

// connect dials and configures a fresh client.
func (w *worker) connect(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, w.params.RequestTimeout)
	defer cancel()
	client, err := w.dial(reqCtx)
	if err != nil {
		return err
	}
	if err := client.Configure(reqCtx, w.params.Configuration); err != nil {
		client.Close()
		return fmt.Errorf("configure: %w", err)
	}
	w.client = client
	return nil
}

func (w *worker) estimate(ctx context.Context, iteration int, frame protocol.DataFrame) Measurement {
	reqCtx, cancel := context.WithTimeout(ctx, w.params.RequestTimeout)
	defer cancel()

	start := time.Now()
	body, err := w.client.Estimate(reqCtx, frame)
	m := Measurement{
		ClientID:  w.id,
		Iteration: iteration,
		Elapsed:   time.Since(start),
		Err:       err,
	}
	if err != nil {
		w.logger.Debug("estimate failed", "iteration", iteration, "error", err)
		if errors.Is(err, ErrTransport) {
			w.drop()
		}
		return m
	}
	if w.params.RecordResults {
		m.Result = string(body)
	}
	return m
}

func (w *worker) drop() {
	if w.client == nil {
		return
	}
	if err := w.client.Close(); err != nil {
		w.logger.Debug("close client", "error", err)
	}
	w.client = nil
}

// transportError wraps err with ErrTransport, reporting a deadline as a
// timeout.
func transportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: timeout: %w", ErrTransport, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}
