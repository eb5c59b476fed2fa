// Package ledger appends control decisions to a Kafka topic so they can be
// audited after the fact.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"smart_farm/internal/sysmgr"
)

// Writer is implemented by *kafka.Writer.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter returns a synchronous writer for topic.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

// Record is one ledger entry.
type Record struct {
	ID             string           `json:"id"`
	Seq            uint64           `json:"seq"`
	At             time.Time        `json:"at"`
	ConfiguredMode sysmgr.Mode      `json:"configured_mode"`
	EffectiveMode  sysmgr.Mode      `json:"effective_mode"`
	Critical       bool             `json:"critical"`
	AvgTemperature float64          `json:"avg_temperature"`
	AvgHumidity    float64          `json:"avg_humidity"`
	Valid          bool             `json:"valid"`
	Commands       []sysmgr.Command `json:"commands"`
	WriteFailures  int              `json:"write_failures"`
}

// Ledger is a sysmgr.Observer. Only ticks that switched something, ran the
// fail-safe override or changed the effective mode are recorded.
type Ledger struct {
	w       Writer
	log     *slog.Logger
	queue   chan Record
	timeout time.Duration

	lastMode sysmgr.Mode
}

// New returns a ledger buffering up to depth records.
func New(w Writer, depth int, log *slog.Logger) *Ledger {
	if depth <= 0 {
		depth = 64
	}
	return &Ledger{
		w:       w,
		log:     log.With("component", "ledger"),
		queue:   make(chan Record, depth),
		timeout: 5 * time.Second,
	}
}

// Observe queues the report if it carries a decision. It never blocks; a full
// queue drops the record.
func (l *Ledger) Observe(rep sysmgr.Report) {
	changed := rep.EffectiveMode != l.lastMode
	l.lastMode = rep.EffectiveMode
	if len(rep.Commands) == 0 && !rep.Critical && !changed {
		return
	}
	rec := Record{
		ID:             uuid.NewString(),
		Seq:            rep.Seq,
		At:             rep.At,
		ConfiguredMode: rep.ConfiguredMode,
		EffectiveMode:  rep.EffectiveMode,
		Critical:       rep.Critical,
		AvgTemperature: rep.Sensors.AvgTemp,
		AvgHumidity:    rep.Sensors.AvgHum,
		Valid:          rep.Sensors.Valid,
		Commands:       rep.Commands,
		WriteFailures:  rep.WriteFailures,
	}
	select {
	case l.queue <- rec:
	default:
		l.log.Warn("ledger queue full, dropping record", "seq", rep.Seq)
	}
}

// Run writes queued records until ctx is done, then closes the writer.
func (l *Ledger) Run(ctx context.Context) error {
	defer l.w.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec := <-l.queue:
			if err := l.write(ctx, rec); err != nil {
				l.log.Error("ledger write failed", "seq", rec.Seq, "error", err)
			}
		}
	}
}

func (l *Ledger) write(ctx context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.w.WriteMessages(ctx, kafka.Message{Key: []byte(rec.ID), Value: b, Time: rec.At})
}
