// Package relay turns sensor lines into sequenced blink events and hands the
// encoded messages to its sinks.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/blinkrelay/errors"
	"github.com/c360/blinkrelay/message"
	"github.com/c360/blinkrelay/metric"
	"github.com/c360/blinkrelay/pkg/timestamp"
	"github.com/c360/blinkrelay/processor/parser"
)

// Outcome is what happened to one input line.
type Outcome int

const (
	// OutcomeEmpty is a blank line, dropped silently.
	OutcomeEmpty Outcome = iota
	// OutcomeMalformed is a line with fewer than two fields.
	OutcomeMalformed
	// OutcomeInvalid is a line whose signal or peak is not numeric.
	OutcomeInvalid
	// OutcomeIgnored is a non-trigger sample with raw forwarding off.
	OutcomeIgnored
	// OutcomeSample is a non-trigger sample that was forwarded.
	OutcomeSample
	// OutcomeDuplicate is a trigger inside the debounce window.
	OutcomeDuplicate
	// OutcomeBlink is an accepted trigger that became a blink event.
	OutcomeBlink
	// OutcomeEncodeFailed is a message that could not be encoded and was
	// not delivered. No sequence number is used up.
	OutcomeEncodeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEmpty:
		return "empty"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeSample:
		return "sample"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeBlink:
		return "blink"
	case OutcomeEncodeFailed:
		return "encode_failed"
	default:
		return "unknown"
	}
}

// Sink receives every encoded message the relay produces.
type Sink interface {
	Deliver(ctx context.Context, msgType message.Type, data []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, msgType message.Type, data []byte) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, msgType message.Type, data []byte) error {
	return f(ctx, msgType, data)
}

// Config holds the relay settings.
type Config struct {
	DebounceWindow time.Duration `json:"debounce_window"`
	ForwardRaw     bool          `json:"forward_raw"`
}

// DefaultConfig returns a 350ms window with raw forwarding off.
func DefaultConfig() Config {
	return Config{DebounceWindow: DefaultDebounceWindow}
}

// Deps are the optional collaborators of a Relay.
type Deps struct {
	Logger          *slog.Logger
	Clock           timestamp.Clock
	MetricsRegistry *metric.MetricsRegistry
}

type namedSink struct {
	name string
	sink Sink
}

// Relay owns the debounce and sequence state for one sensor stream. Lines
// must be fed from a single goroutine, which Run does.
type Relay struct {
	cfg     Config
	parser  *parser.RecordParser
	gate    *Gate
	seq     *Sequencer
	logger  *slog.Logger
	clock   timestamp.Clock
	metrics *Metrics

	// roughly one malformed line in a hundred is logged
	malformedLog rate.Sometimes

	sinksMu sync.RWMutex
	sinks   []namedSink

	lastBlinkMs int64

	lines      atomic.Int64
	blinks     atomic.Int64
	duplicates atomic.Int64
	rejected   atomic.Int64
	samples    atomic.Int64
	sinkErrors atomic.Int64
}

// New creates a relay with no sinks.
func New(cfg Config, deps Deps) (*Relay, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = timestamp.System
	}
	metrics, err := newMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, "Relay", "New", "register metrics")
	}

	return &Relay{
		cfg:          cfg,
		parser:       parser.NewRecordParser(),
		gate:         NewGate(cfg.DebounceWindow),
		seq:          &Sequencer{},
		logger:       logger.With("component", "relay"),
		clock:        clock,
		metrics:      metrics,
		malformedLog: rate.Sometimes{Every: 100},
	}, nil
}

// AddSink registers a sink under name. Sinks receive messages in
// registration order.
func (r *Relay) AddSink(name string, s Sink) {
	r.sinksMu.Lock()
	defer r.sinksMu.Unlock()
	r.sinks = append(r.sinks, namedSink{name: name, sink: s})
}

// Run processes lines until ctx is done or lines is closed.
func (r *Relay) Run(ctx context.Context, lines <-chan string) error {
	r.logger.Info("Relay running",
		"debounce_window", r.gate.Window(), "forward_raw", r.cfg.ForwardRaw)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				r.logger.Warn("Line source closed, no further events will be produced")
				return nil
			}
			r.Process(ctx, line)
		}
	}
}

// Process runs one line through parse, debounce, sequencing and delivery.
func (r *Relay) Process(ctx context.Context, line string) Outcome {
	r.lines.Add(1)

	sample, err := r.parser.Parse(line)
	if err != nil {
		r.rejected.Add(1)
		switch {
		case errors.Is(err, parser.ErrEmptyLine):
			return r.record(OutcomeEmpty)
		case errors.Is(err, parser.ErrTooFewFields):
			r.malformedLog.Do(func() {
				r.logger.Warn("Malformed serial line", "line", line)
			})
			return r.record(OutcomeMalformed)
		default:
			return r.record(OutcomeInvalid)
		}
	}

	nowMs := r.clock.NowMs()

	if !sample.IsTrigger {
		if !r.cfg.ForwardRaw {
			return r.record(OutcomeIgnored)
		}
		msg := message.NewSample(nowMs, sample.Value, sample.Peak)
		data, err := message.Encode(msg)
		if err != nil {
			r.encodeFailed(msg.MessageType(), err)
			return r.record(OutcomeEncodeFailed)
		}
		r.publish(ctx, msg.MessageType(), data)
		r.samples.Add(1)
		if r.metrics != nil {
			r.metrics.samplesTotal.Inc()
		}
		return r.record(OutcomeSample)
	}

	if !r.gate.Accept(nowMs) {
		r.duplicates.Add(1)
		return r.record(OutcomeDuplicate)
	}

	var (
		evt  message.Blink
		data []byte
	)
	_, err = r.seq.Issue(func(seq int64) error {
		evt = message.NewBlink(seq, nowMs, sample.SourceTimestamp, sample.Value)
		var encErr error
		data, encErr = message.Encode(evt)
		return encErr
	})
	if err != nil {
		r.encodeFailed(message.TypeBlink, err)
		return r.record(OutcomeEncodeFailed)
	}
	r.publish(ctx, evt.MessageType(), data)
	r.blinks.Add(1)

	if r.metrics != nil {
		r.metrics.blinksTotal.Inc()
		r.metrics.lastSeq.Set(float64(evt.Seq))
		if r.lastBlinkMs != 0 {
			r.metrics.blinkInterval.Observe(timestamp.Between(r.lastBlinkMs, nowMs).Seconds())
		}
	}
	r.lastBlinkMs = nowMs

	attrs := []any{"seq", evt.Seq, "t_proxy", evt.ProxyTimestamp, "value", sample.Value}
	if evt.SourceTimestamp != nil {
		attrs = append(attrs, "t_arduino", *evt.SourceTimestamp)
	}
	r.logger.Info("Blink", attrs...)

	return r.record(OutcomeBlink)
}

func (r *Relay) record(o Outcome) Outcome {
	if r.metrics != nil {
		r.metrics.linesTotal.WithLabelValues(o.String()).Inc()
	}
	return o
}

func (r *Relay) encodeFailed(msgType message.Type, err error) {
	r.logger.Error("Dropping message that failed to encode", "type", msgType, "error", err)
}

func (r *Relay) publish(ctx context.Context, msgType message.Type, data []byte) {
	r.sinksMu.RLock()
	sinks := r.sinks
	r.sinksMu.RUnlock()

	for _, s := range sinks {
		if err := s.sink.Deliver(ctx, msgType, data); err != nil {
			r.sinkErrors.Add(1)
			if r.metrics != nil {
				r.metrics.sinkErrors.WithLabelValues(s.name).Inc()
			}
			r.logger.Warn("Sink delivery failed", "sink", s.name, "type", msgType, "error", err)
		}
	}
}

// Stats is a point-in-time view of relay counters.
type Stats struct {
	Lines      int64
	Blinks     int64
	Duplicates int64
	Rejected   int64
	Samples    int64
	SinkErrors int64
	LastSeq    int64
}

// Stats returns the relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Lines:      r.lines.Load(),
		Blinks:     r.blinks.Load(),
		Duplicates: r.duplicates.Load(),
		Rejected:   r.rejected.Load(),
		Samples:    r.samples.Load(),
		SinkErrors: r.sinkErrors.Load(),
		LastSeq:    r.seq.Last(),
	}
}
