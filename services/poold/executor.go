package poold

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"omnipool/core/events"
	"omnipool/core/state"
	"omnipool/core/types"
	"omnipool/native/pool"
	"omnipool/observability"
	telemetry "omnipool/observability/otel"
)

var sequenceKey = []byte("poold/event-sequence")

// Envelope is a committed event stamped with its position in the stream.
type Envelope struct {
	Sequence uint64       `json:"sequence"`
	Time     time.Time    `json:"time"`
	Event    *types.Event `json:"event"`
}

// EventType implements events.Event.
func (e *Envelope) EventType() string {
	if e == nil || e.Event == nil {
		return ""
	}
	return e.Event.Type
}

type eventSource interface {
	Event() *types.Event
}

// Executor serialises engine calls. Each call runs against the journal and is
// committed to the database only when it succeeds; its events reach the sinks
// after the commit.
type Executor struct {
	mu      sync.Mutex
	engine  *pool.Engine
	journal *state.Journal
	buffer  *events.Recorder
	sink    events.Emitter
	metrics *observability.PoolMetrics
	meters  *poolMeters
	tracer  trace.Tracer
	logger  *slog.Logger
	label   func(common.Address) string
	now     func() time.Time
}

// ExecutorOption customises an Executor.
type ExecutorOption func(*Executor)

// WithSink sets the emitter receiving committed envelopes.
func WithSink(sink events.Emitter) ExecutorOption {
	return func(x *Executor) {
		if sink != nil {
			x.sink = sink
		}
	}
}

// WithLogger overrides the executor logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(x *Executor) {
		if logger != nil {
			x.logger = logger
		}
	}
}

// WithAssetLabels sets the function naming assets in metrics.
func WithAssetLabels(label func(common.Address) string) ExecutorOption {
	return func(x *Executor) {
		if label != nil {
			x.label = label
		}
	}
}

// WithMeterProvider routes operation counters to provider instead of the
// global one.
func WithMeterProvider(provider metric.MeterProvider) ExecutorOption {
	return func(x *Executor) {
		if provider != nil {
			x.meters = newPoolMeters(provider)
		}
	}
}

// WithClock overrides the timestamp source for envelopes.
func WithClock(now func() time.Time) ExecutorOption {
	return func(x *Executor) {
		if now != nil {
			x.now = now
		}
	}
}

// NewExecutor binds the engine's emitter to an internal buffer. The engine
// must already use journal as its state.
func NewExecutor(engine *pool.Engine, journal *state.Journal, opts ...ExecutorOption) *Executor {
	x := &Executor{
		engine:  engine,
		journal: journal,
		buffer:  &events.Recorder{},
		sink:    events.NoopEmitter{},
		metrics: observability.Pool(),
		meters:  defaultMeters(),
		tracer:  telemetry.Tracer("omnipool/poold"),
		logger:  slog.Default(),
		label:   func(a common.Address) string { return a.Hex() },
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(x)
		}
	}
	engine.SetEmitter(x.buffer)
	return x
}

// Do runs fn as operation op on behalf of caller. fn must not retain the
// engine after it returns.
func (x *Executor) Do(ctx context.Context, op string, caller common.Address, fn func(ctx context.Context, engine *pool.Engine) error) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	ctx, span := x.tracer.Start(ctx, "pool."+op, trace.WithAttributes(
		attribute.String("pool.op", op),
		attribute.String("pool.caller", caller.Hex()),
	))
	defer span.End()

	start := x.now()
	x.buffer.Events = nil
	err := fn(ctx, x.engine)
	var committed []*Envelope
	if err == nil {
		committed, err = x.commit(start)
	}
	if err != nil {
		x.journal.Discard()
		x.buffer.Events = nil
	}
	kind := pool.KindName(err)
	x.metrics.ObserveOperation(op, kind, time.Since(start))
	x.meters.recordOperation(ctx, op, kind)
	span.SetAttributes(attribute.String("pool.outcome", kind))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		x.logger.Warn("pool operation rejected", "op", op, "caller", caller.Hex(), "kind", kind, "error", err)
		return err
	}
	span.SetStatus(codes.Ok, "")
	for _, env := range committed {
		x.observe(env.Event)
		x.sink.Emit(env)
	}
	x.refreshSolvency(committed)
	x.logger.Info("pool operation committed", "op", op, "caller", caller.Hex(), "kind", kind, "events", len(committed))
	return nil
}

// View runs a read-only fn while no operation is in flight.
func (x *Executor) View(fn func(engine *pool.Engine) error) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return fn(x.engine)
}

// Sequence returns the number of committed events.
func (x *Executor) Sequence() (uint64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	var seq uint64
	if _, err := x.journal.KVGet(sequenceKey, &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (x *Executor) commit(at time.Time) ([]*Envelope, error) {
	pending := x.buffer.Events
	x.buffer.Events = nil
	var seq uint64
	if _, err := x.journal.KVGet(sequenceKey, &seq); err != nil {
		return nil, fmt.Errorf("poold: load sequence: %w", err)
	}
	out := make([]*Envelope, 0, len(pending))
	for _, evt := range pending {
		src, ok := evt.(eventSource)
		if !ok || src.Event() == nil {
			continue
		}
		seq++
		out = append(out, &Envelope{Sequence: seq, Time: at.UTC(), Event: src.Event()})
	}
	if len(out) > 0 {
		if err := x.journal.KVPut(sequenceKey, seq); err != nil {
			return nil, fmt.Errorf("poold: store sequence: %w", err)
		}
	}
	if err := x.journal.Commit(); err != nil {
		return nil, fmt.Errorf("poold: %w", err)
	}
	return out, nil
}

func (x *Executor) observe(evt *types.Event) {
	if fee, ok := parseAttrAmount(evt, "fee"); ok {
		if asset := firstAttr(evt, "asset", "srcAsset"); asset != "" {
			x.metrics.RecordFee(x.label(common.HexToAddress(asset)), fee)
		}
	}
	if received, ok := parseAttrAmount(evt, "received"); ok {
		x.metrics.RecordSwap(x.label(common.HexToAddress(evt.Attr("dstAsset"))), received)
	}
}

func (x *Executor) refreshSolvency(committed []*Envelope) {
	seen := make(map[common.Address]struct{})
	for _, env := range committed {
		for _, key := range []string{"asset", "srcAsset", "dstAsset"} {
			raw := env.Event.Attr(key)
			if !common.IsHexAddress(raw) {
				continue
			}
			asset := common.HexToAddress(raw)
			if _, dup := seen[asset]; dup {
				continue
			}
			seen[asset] = struct{}{}
			report, err := x.engine.Solvency(asset)
			if err != nil {
				x.logger.Warn("solvency refresh failed", "asset", asset.Hex(), "error", err)
				continue
			}
			x.metrics.SetSolvency(x.label(asset), report.Gap(), report.Liabilities())
		}
	}
}

func parseAttrAmount(evt *types.Event, key string) (*big.Int, bool) {
	raw := strings.TrimSpace(evt.Attr(key))
	if raw == "" {
		return nil, false
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() <= 0 {
		return nil, false
	}
	return v, true
}
