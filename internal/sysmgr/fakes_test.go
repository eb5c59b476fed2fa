package sysmgr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSensors struct {
	temp     map[int]float64
	hum      map[int]float64
	tempErr  map[int]error
	humErr   map[int]error
	noHumid  map[int]bool
	tempRead int
}

func newFakeSensors() *fakeSensors {
	return &fakeSensors{
		temp:    map[int]float64{},
		hum:     map[int]float64{},
		tempErr: map[int]error{},
		humErr:  map[int]error{},
		noHumid: map[int]bool{},
	}
}

func (f *fakeSensors) Temperature(id int) (float64, error) {
	f.tempRead++
	if err := f.tempErr[id]; err != nil {
		return 0, err
	}
	v, ok := f.temp[id]
	if !ok {
		return 0, fmt.Errorf("%w: sensor %d", ErrNotFound, id)
	}
	return v, nil
}

func (f *fakeSensors) Humidity(id int) (float64, error) {
	if err := f.humErr[id]; err != nil {
		return 0, err
	}
	v, ok := f.hum[id]
	if !ok {
		return 0, fmt.Errorf("%w: sensor %d", ErrNotFound, id)
	}
	return v, nil
}

func (f *fakeSensors) HumiditySupported(id int) bool { return !f.noHumid[id] }

type fakeActuator struct {
	mu     sync.Mutex
	state  map[int]bool
	fail   map[int]bool
	writes int
}

func newFakeActuator() *fakeActuator {
	return &fakeActuator{state: map[int]bool{}, fail: map[int]bool{}}
}

func (f *fakeActuator) Set(unit int, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.fail[unit] {
		return fmt.Errorf("%w: unit %d stuck", ErrTimeout, unit)
	}
	f.state[unit] = on
	return nil
}

func (f *fakeActuator) State(unit int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state[unit], nil
}

func (f *fakeActuator) on(unit int) bool {
	on, _ := f.State(unit)
	return on
}

type faultLog struct {
	mu     sync.Mutex
	faults []FaultID
}

func (f *faultLog) ReportFault(id FaultID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, id)
}

func (f *faultLog) count(id FaultID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, x := range f.faults {
		if x == id {
			n++
		}
	}
	return n
}

type memPersistence struct {
	blobs   map[int][]byte
	loadErr error
	saveErr error
	saves   int
}

func newMemPersistence() *memPersistence {
	return &memPersistence{blobs: map[int][]byte{}}
}

func (p *memPersistence) LoadConfig(_ context.Context, id int) ([]byte, error) {
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	b, ok := p.blobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (p *memPersistence) SaveConfig(_ context.Context, id int, blob []byte) error {
	p.saves++
	if p.saveErr != nil {
		return p.saveErr
	}
	p.blobs[id] = append([]byte(nil), blob...)
	return nil
}

// rig wires a manager with one sensor and one unit per class.
type rig struct {
	sensors *fakeSensors
	act     map[Class]*fakeActuator
	faults  *faultLog
	persist *memPersistence
	store   *Store
	mgr     *Manager
	now     time.Time
}

func newRig(cfg Config, sensorIDs ...int) *rig {
	if len(sensorIDs) == 0 {
		sensorIDs = []int{0}
	}
	r := &rig{
		sensors: newFakeSensors(),
		act:     map[Class]*fakeActuator{},
		faults:  &faultLog{},
		persist: newMemPersistence(),
		now:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	bank := NewBank()
	for _, c := range Classes {
		r.act[c] = newFakeActuator()
		bank.Attach(c, r.act[c], 0)
	}
	r.store = NewStore(r.persist, quietLogger())
	r.store.Init(context.Background())
	if err := r.store.Update(cfg); err != nil {
		panic(err)
	}
	r.mgr = New(Options{
		SensorIDs: sensorIDs,
		Tick:      time.Second,
		TempAlpha: 1,
		HumAlpha:  1,
		Clock:     func() time.Time { return r.now },
	}, r.store, r.sensors, bank, r.faults, quietLogger())
	return r
}

func (r *rig) tick() Report {
	return r.mgr.Tick(context.Background())
}
