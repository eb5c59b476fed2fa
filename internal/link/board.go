// Package link talks to the ESP32 sensor/relay node over a serial line.
//
// The node streams one JSON object per line for every sensor sample:
//
//	{"sensor":1,"temperature":24.5,"humidity":60.1}
//
// and accepts relay commands such as "fan:0:on", answering each with
// "ack fan:0:on" or "err fan:0:on <reason>". The node sends "boot" once it
// has started with every relay off.
package link

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"

	"smart_farm/internal/link/wire"
	"smart_farm/internal/sysmgr"
)

// Config describes the serial port and protocol timings.
type Config struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
	AckTimeout  time.Duration
	Stale       time.Duration // samples older than this are not served
}

func (c *Config) setDefaults() {
	if c.Baud == 0 {
		c.Baud = 115200
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 2 * time.Second
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = 2 * time.Second
	}
	if c.Stale == 0 {
		c.Stale = 30 * time.Second
	}
}

// Sample is one sensor line sent by the node.
type Sample = wire.Sample

type reading struct {
	Sample
	at time.Time
}

type unitKey struct {
	class sysmgr.Class
	unit  int
}

// Board is the host side of the serial link. It implements
// sysmgr.SensorReader and hands out one sysmgr.Actuator per class.
type Board struct {
	port io.ReadWriteCloser
	cfg  Config
	log  *slog.Logger
	now  func() time.Time

	mu       sync.Mutex
	readings map[int]reading
	states   map[unitKey]bool
	onSample func(Sample)

	cmdMu sync.Mutex // one command/ack exchange at a time
	acks  chan string

	closeOnce sync.Once
	done      chan struct{}
}

// Open opens the serial port named in cfg and starts reading from it.
func Open(cfg Config, log *slog.Logger) (*Board, error) {
	cfg.setDefaults()
	p, err := serial.OpenPort(&serial.Config{Name: cfg.Port, Baud: cfg.Baud, ReadTimeout: cfg.ReadTimeout})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Port, err)
	}
	return NewBoard(p, cfg, log), nil
}

// NewBoard runs the protocol over an already open port.
func NewBoard(port io.ReadWriteCloser, cfg Config, log *slog.Logger) *Board {
	cfg.setDefaults()
	b := &Board{
		port:     port,
		cfg:      cfg,
		log:      log.With("component", "link"),
		now:      time.Now,
		readings: make(map[int]reading),
		states:   make(map[unitKey]bool),
		acks:     make(chan string, 4),
		done:     make(chan struct{}),
	}
	go b.readLoop()
	return b
}

// OnSample registers fn to receive every decoded sample.
func (b *Board) OnSample(fn func(Sample)) {
	b.mu.Lock()
	b.onSample = fn
	b.mu.Unlock()
}

// Close stops the reader and closes the port.
func (b *Board) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.port.Close()
	})
	return err
}

func (b *Board) readLoop() {
	r := bufio.NewReader(b.port)
	for {
		line, err := r.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			b.handleLine(line)
		}
		if err != nil {
			select {
			case <-b.done:
				return
			default:
			}
			if err == io.EOF {
				// read timeout with nothing buffered
				continue
			}
			b.log.Warn("serial read failed", "error", err)
			select {
			case <-b.done:
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (b *Board) handleLine(line string) {
	switch {
	case strings.HasPrefix(line, "{"):
		var s Sample
		if err := json.Unmarshal([]byte(line), &s); err != nil {
			b.log.Warn("bad sample line", "error", err, "line", line)
			return
		}
		b.mu.Lock()
		b.readings[s.Sensor] = reading{Sample: s, at: b.now()}
		fn := b.onSample
		b.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	case line == wire.Boot:
		// The node starts with every relay off.
		b.mu.Lock()
		clear(b.states)
		b.mu.Unlock()
		b.log.Warn("node rebooted, relay states reset")
	case wire.IsReply(line):
		select {
		case b.acks <- line:
		default:
			b.log.Debug("unsolicited reply", "line", line)
		}
	default:
		b.log.Debug("non-protocol line", "line", line)
	}
}

func (b *Board) latest(id int) (reading, error) {
	b.mu.Lock()
	rd, ok := b.readings[id]
	b.mu.Unlock()
	if !ok {
		return reading{}, fmt.Errorf("%w: sensor %d has not reported", sysmgr.ErrNotFound, id)
	}
	if age := b.now().Sub(rd.at); age > b.cfg.Stale {
		return reading{}, fmt.Errorf("%w: sensor %d silent for %s", sysmgr.ErrTimeout, id, age.Round(time.Second))
	}
	return rd, nil
}

// Temperature returns the latest temperature of sensor id.
func (b *Board) Temperature(id int) (float64, error) {
	rd, err := b.latest(id)
	if err != nil {
		return 0, err
	}
	return rd.Temperature, nil
}

// Humidity returns the latest humidity of sensor id.
func (b *Board) Humidity(id int) (float64, error) {
	rd, err := b.latest(id)
	if err != nil {
		return 0, err
	}
	if rd.Humidity == nil {
		return 0, fmt.Errorf("%w: sensor %d has no humidity channel", sysmgr.ErrNotSupported, id)
	}
	return *rd.Humidity, nil
}

// HumiditySupported reports whether the last sample of id carried humidity.
func (b *Board) HumiditySupported(id int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	rd, ok := b.readings[id]
	return ok && rd.Humidity != nil
}

// Command sends one relay command and waits for the node's reply.
func (b *Board) Command(c sysmgr.Class, unit int, on bool) error {
	cmd := wire.FormatCommand(c.String(), unit, on)

	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()

drain:
	for {
		select {
		case stale := <-b.acks:
			b.log.Debug("dropping late reply", "line", stale)
		default:
			break drain
		}
	}

	if _, err := b.port.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("%w: write %q: %v", sysmgr.ErrGeneric, cmd, err)
	}

	timer := time.NewTimer(b.cfg.AckTimeout)
	defer timer.Stop()
	for {
		select {
		case reply := <-b.acks:
			if reason, ok := wire.Rejection(reply, cmd); ok {
				return fmt.Errorf("%w: node rejected %q: %s", sysmgr.ErrGeneric, cmd, reason)
			}
			if reply != wire.Ack(cmd) {
				b.log.Debug("reply for another command", "want", cmd, "got", reply)
				continue
			}
			b.mu.Lock()
			b.states[unitKey{c, unit}] = on
			b.mu.Unlock()
			return nil
		case <-timer.C:
			return fmt.Errorf("%w: no ack for %q", sysmgr.ErrTimeout, cmd)
		case <-b.done:
			return fmt.Errorf("%w: link closed", sysmgr.ErrNotInitialized)
		}
	}
}

// State returns the last acknowledged state of a unit.
func (b *Board) State(c sysmgr.Class, unit int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[unitKey{c, unit}]
}

// Actuator returns the driver for class c.
func (b *Board) Actuator(c sysmgr.Class) sysmgr.Actuator {
	return classActuator{b: b, class: c}
}

type classActuator struct {
	b     *Board
	class sysmgr.Class
}

func (a classActuator) Set(unit int, on bool) error { return a.b.Command(a.class, unit, on) }

func (a classActuator) State(unit int) (bool, error) { return a.b.State(a.class, unit), nil }
