// Package sysmgr is the greenhouse system manager: it smooths sensor
// readings, decides actuator states from hysteresis bands, duty cycles and
// the light schedule, and owns the persisted runtime configuration.
//
// The manager holds no package state. The caller builds a Manager with its
// collaborators and calls Tick at a fixed period; every tick runs to
// completion before the next one starts.
package sysmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultFireThresholdC is the smoothed temperature treated as a fire.
const DefaultFireThresholdC = 80.0

// Options describes the hardware topology and the fixed tuning of a Manager.
type Options struct {
	SensorIDs      []int
	Tick           time.Duration
	TempAlpha      float64
	HumAlpha       float64
	FireThresholdC float64
	FailSafeLight  int // light unit forced on in fail-safe
	AlarmLED       int // LED unit lit while fail-safe is active
	Clock          Clock
}

func (o *Options) setDefaults() {
	if o.Tick <= 0 {
		o.Tick = time.Second
	}
	if o.TempAlpha <= 0 || o.TempAlpha > 1 {
		o.TempAlpha = DefaultTempAlpha
	}
	if o.HumAlpha <= 0 || o.HumAlpha > 1 {
		o.HumAlpha = DefaultHumAlpha
	}
	if o.FireThresholdC <= 0 {
		o.FireThresholdC = DefaultFireThresholdC
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// Report summarises one tick for observers.
type Report struct {
	Seq            uint64         `json:"seq"`
	At             time.Time      `json:"at"`
	ConfiguredMode Mode           `json:"configured_mode"`
	EffectiveMode  Mode           `json:"effective_mode"`
	Critical       bool           `json:"critical"`
	Sensors        SensorSnapshot `json:"sensors"`
	States         ActuatorStates `json:"states"`
	Commands       []Command      `json:"commands,omitempty"`
	WriteFailures  int            `json:"write_failures"`
	SaveError      string         `json:"save_error,omitempty"`
}

// Observer receives the report of every tick. Observe is called on the tick
// goroutine and must return quickly.
type Observer interface {
	Observe(Report)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Report)

func (f ObserverFunc) Observe(r Report) { f(r) }

// Manager runs the control loop.
type Manager struct {
	opts    Options
	store   *Store
	bank    *Bank
	sensors SensorReader
	agg     *Aggregator
	cycles  *CycleEngine
	faults  FaultReporter
	log     *slog.Logger

	observers []Observer
	seq       uint64
	effective Mode // mode that ran in the previous tick

	mu   sync.RWMutex
	last Report
}

// New builds a manager. store must already be initialised.
func New(opts Options, store *Store, sensors SensorReader, bank *Bank, faults FaultReporter, log *slog.Logger) *Manager {
	opts.setDefaults()
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "sysmgr")
	m := &Manager{
		opts:    opts,
		store:   store,
		bank:    bank,
		sensors: sensors,
		cycles:  NewCycleEngine(opts.Tick),
		faults:  faults,
		log:     log,
	}
	m.agg = NewAggregator(opts.SensorIDs, opts.TempAlpha, opts.HumAlpha, opts.FireThresholdC, FaultFunc(m.report), log)
	return m
}

// AddObserver registers o for every subsequent tick.
func (m *Manager) AddObserver(o Observer) {
	m.observers = append(m.observers, o)
}

// Tick runs one control cycle: aggregate sensors, check the critical guard,
// dispatch the mode strategy, refresh the actuator snapshot and persist the
// configuration if it changed.
func (m *Manager) Tick(ctx context.Context) Report {
	t := &tick{cfg: m.store.Get()}
	t.snap = m.agg.Update(m.sensors)

	critical := IsCritical(t.snap, m.opts.FireThresholdC)
	effective := m.dispatch(t, critical)
	states := Refresh(m.bank)

	m.seq++
	rep := Report{
		Seq:            m.seq,
		At:             m.opts.Clock(),
		ConfiguredMode: t.cfg.Mode,
		EffectiveMode:  effective,
		Critical:       critical,
		Sensors:        t.snap,
		States:         states,
		Commands:       t.commands,
		WriteFailures:  t.failures,
	}

	if err := m.store.SaveIfDirty(ctx); err != nil {
		rep.SaveError = err.Error()
		m.log.Error("configuration save failed, will retry", "error", err)
		m.report(FaultConfigPersist, err)
	}

	m.mu.Lock()
	m.last = rep
	m.mu.Unlock()

	for _, o := range m.observers {
		o.Observe(rep)
	}
	return rep
}

// Run ticks every opts.Tick until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	tk := time.NewTicker(m.opts.Tick)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tk.C:
			m.Tick(ctx)
		}
	}
}

// Last returns the report of the most recent tick.
func (m *Manager) Last() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Store returns the configuration store.
func (m *Manager) Store() *Store { return m.store }

// Command switches units by hand. It is refused while the threshold layer
// owns the actuators (Automatic and Fail-safe). In Hybrid the class is
// flagged as overridden so the automatic layer leaves it alone.
func (m *Manager) Command(c Class, target Target, on bool) error {
	cfg := m.store.Get()
	switch cfg.Mode {
	case ModeManual:
	case ModeHybrid:
		if !cfg.HybridOverride.For(c) && c != ClassLED {
			err := m.store.Modify(func(cfg *Config) error {
				cfg.HybridOverride.Set(c, true)
				return nil
			})
			if err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: manual commands are not accepted in %s mode", ErrBusy, cfg.Mode)
	}
	if err := m.bank.Apply(c, target, on); err != nil {
		m.report(FaultActuator, err)
		return err
	}
	m.log.Info("manual command", "class", c, "target", target, "on", on)
	return nil
}

// ReleaseOverride hands class c back to the automatic layer.
func (m *Manager) ReleaseOverride(c Class) error {
	return m.store.Modify(func(cfg *Config) error {
		cfg.HybridOverride.Set(c, false)
		return nil
	})
}

func (m *Manager) report(id FaultID, err error) {
	if m.faults != nil {
		m.faults.ReportFault(id, err)
	}
}
