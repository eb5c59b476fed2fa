package main

import (
	"context"
	"log/slog"
	"time"

	"smart_farm/internal/sysmgr"
)

// reportLogger is implemented by *storage.SQLStore.
type reportLogger interface {
	LogReport(ctx context.Context, r sysmgr.Report) error
}

// historyLog writes tick averages to the database off the tick goroutine.
type historyLog struct {
	db    reportLogger
	log   *slog.Logger
	queue chan sysmgr.Report
}

func newHistoryLog(db reportLogger, log *slog.Logger) *historyLog {
	return &historyLog{db: db, log: log.With("component", "history"), queue: make(chan sysmgr.Report, 32)}
}

func (h *historyLog) Observe(rep sysmgr.Report) {
	select {
	case h.queue <- rep:
	default:
		h.log.Warn("history queue full, dropping tick", "seq", rep.Seq)
	}
}

func (h *historyLog) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rep := <-h.queue:
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := h.db.LogReport(wctx, rep); err != nil {
				h.log.Error("sensor history insert failed", "seq", rep.Seq, "error", err)
			} else {
				h.log.Debug("sensor history stored", "seq", rep.Seq)
			}
			cancel()
		}
	}
}
