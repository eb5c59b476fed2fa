// Command smart_farm runs the greenhouse system manager: it reads the ESP32
// sensor node over serial, drives the actuators, and serves the control API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"

	"smart_farm/internal/ledger"
	"smart_farm/internal/link"
	"smart_farm/internal/metrics"
	"smart_farm/internal/mqttbus"
	"smart_farm/internal/relay"
	"smart_farm/internal/storage"
	"smart_farm/internal/sysmgr"
)

func main() {
	cfg, err := loadEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("system manager stopped", "error", err)
		os.Exit(1)
	}
	log.Info("system manager stopped")
}

func run(cfg *appConfig, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	persist, history, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	if history != nil {
		defer history.Close()
	}

	board, err := link.Open(link.Config{Port: cfg.SerialPort, Baud: cfg.SerialBaud, Stale: cfg.SensorStale}, log)
	if err != nil {
		return err
	}
	defer board.Close()
	log.Info("serial port opened", "port", cfg.SerialPort)

	bank, err := buildBank(cfg, board)
	if err != nil {
		return err
	}

	faults := &faultFanout{log: log.With("component", "faults")}
	store := sysmgr.NewStore(persist, log)
	store.Init(ctx)

	mgr := sysmgr.New(sysmgr.Options{
		SensorIDs:      cfg.SensorIDs,
		Tick:           cfg.Tick,
		TempAlpha:      cfg.TempAlpha,
		HumAlpha:       cfg.HumAlpha,
		FireThresholdC: cfg.FireC,
		FailSafeLight:  firstUnit(bank, sysmgr.ClassLight),
		AlarmLED:       firstUnit(bank, sysmgr.ClassLED),
	}, store, board, bank, faults, log)

	m := metrics.New()
	mgr.AddObserver(m)
	faults.add(m)

	if cfg.MQTTBroker != "" {
		client, err := mqttbus.Connect(cfg.MQTTBroker, cfg.MQTTClientID, log)
		if err != nil {
			// control keeps running without the dashboard
			log.Error("mqtt unavailable", "broker", cfg.MQTTBroker, "error", err)
		} else {
			defer client.Disconnect(250)
			bus := mqttbus.New(client, cfg.MQTTTopicPrefix, log)
			mgr.AddObserver(bus)
			faults.add(bus)
			if err := bus.SubscribeConfig(store); err != nil {
				log.Error("mqtt config subscription failed", "error", err)
			}
			log.Info("mqtt client connected", "broker", cfg.MQTTBroker)
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		l := ledger.New(ledger.NewWriter(cfg.KafkaBrokers, cfg.LedgerTopic), 64, log)
		mgr.AddObserver(l)
		go l.Run(ctx)
	}

	var hs historySource
	if history != nil {
		hl := newHistoryLog(history, log)
		mgr.AddObserver(hl)
		go hl.run(ctx)
		hs = history
	}

	srv := &server{mgr: mgr, history: hs, metrics: m.Handler(), log: log.With("component", "http")}
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handlers.LoggingHandler(os.Stdout, srv.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
			stop()
		}
	}()

	err = mgr.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := httpSrv.Shutdown(shutdownCtx); serr != nil {
		log.Error("http shutdown failed", "error", serr)
	}
	if serr := store.SaveIfDirty(shutdownCtx); serr != nil {
		log.Error("final configuration save failed", "error", serr)
	}
	return err
}

// openStorage returns the configuration persistence and, with a database,
// the store that also keeps the sensor history.
func openStorage(ctx context.Context, cfg *appConfig, log *slog.Logger) (sysmgr.Persistence, *storage.SQLStore, error) {
	if cfg.DBDriver == "" {
		log.Info("using file storage", "dir", cfg.ConfigDir)
		return &storage.FileStore{Dir: cfg.ConfigDir}, nil, nil
	}
	db, err := storage.OpenSQL(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, nil, err
	}
	log.Info("database opened", "driver", cfg.DBDriver)
	return db, db, nil
}

func buildBank(cfg *appConfig, board *link.Board) (*sysmgr.Bank, error) {
	bank := sysmgr.NewBank()
	switch cfg.ActuatorBackend {
	case "gpio":
		wiring, err := relay.ParseWiring(cfg.RelayPins)
		if err != nil {
			return nil, err
		}
		relays, err := relay.Open(wiring)
		if err != nil {
			return nil, err
		}
		for _, c := range sysmgr.Classes {
			if units := relays.Units(c); len(units) > 0 {
				bank.Attach(c, relays.Actuator(c), units...)
			}
		}
	default:
		for _, c := range sysmgr.Classes {
			if units := cfg.Units[c]; len(units) > 0 {
				bank.Attach(c, board.Actuator(c), units...)
			}
		}
	}
	return bank, nil
}

func firstUnit(b *sysmgr.Bank, c sysmgr.Class) int {
	if units := b.Units(c); len(units) > 0 {
		return units[0]
	}
	return 0
}

// faultFanout logs every fault and forwards it to the registered reporters.
type faultFanout struct {
	log       *slog.Logger
	reporters []sysmgr.FaultReporter
}

func (f *faultFanout) add(r sysmgr.FaultReporter) { f.reporters = append(f.reporters, r) }

func (f *faultFanout) ReportFault(id sysmgr.FaultID, err error) {
	f.log.Warn("fault", "fault", id, "error", err)
	for _, r := range f.reporters {
		r.ReportFault(id, err)
	}
}
