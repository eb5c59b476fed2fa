//go:build tinygo

// Firmware for the ESP32 greenhouse node, built with
//
//	tinygo flash -target=esp32-coreboard-v2 ./firmware
//
// It streams one DHT22 sample per sensor every two seconds and switches the
// relays on command from the host.
package main

import (
	"machine"
	"time"

	"tinygo.org/x/drivers/dht"

	"smart_farm/internal/link/wire"
)

type probe struct {
	id  int
	dev dht.Device
}

type relay struct {
	class string
	unit  int
	pin   machine.Pin
}

var (
	uart = machine.Serial

	probes = []probe{
		{id: 1, dev: dht.New(machine.GPIO4, dht.DHT22)},
		{id: 2, dev: dht.New(machine.GPIO16, dht.DHT22)},
		{id: 3, dev: dht.New(machine.GPIO17, dht.DHT22)},
		{id: 4, dev: dht.New(machine.GPIO18, dht.DHT22)},
	}

	relays = []relay{
		{"fan", 0, machine.GPIO25},
		{"heater", 0, machine.GPIO26},
		{"pump", 0, machine.GPIO27},
		{"vent", 0, machine.GPIO32},
		{"light", 0, machine.GPIO33},
		{"led", 0, machine.GPIO2},
	}
)

func main() {
	for _, r := range relays {
		r.pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
		r.pin.Low()
	}
	reply(wire.Boot)

	go commands()

	buf := make([]byte, 0, 64)
	for {
		for _, p := range probes {
			temp, hum, err := p.dev.Measurements()
			if err != nil {
				continue
			}
			h := float64(hum) / 10
			buf = wire.AppendSample(buf[:0], wire.Sample{
				Sensor:      p.id,
				Temperature: float64(temp) / 10,
				Humidity:    &h,
			})
			uart.Write(buf)
		}
		time.Sleep(2 * time.Second)
	}
}

// commands reads host lines and answers each with ack or err.
func commands() {
	line := make([]byte, 0, 32)
	for {
		if uart.Buffered() == 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		b, err := uart.ReadByte()
		if err != nil {
			continue
		}
		if b != '\n' {
			if len(line) < cap(line) {
				line = append(line, b)
			}
			continue
		}
		reply(handle(string(line)))
		line = line[:0]
	}
}

func handle(cmd string) string {
	class, unit, on, err := wire.ParseCommand(cmd)
	if err != nil {
		return wire.Reject(cmd, "malformed command")
	}
	for _, r := range relays {
		if r.class == class && r.unit == unit {
			r.pin.Set(on)
			return wire.Ack(wire.FormatCommand(class, unit, on))
		}
	}
	return wire.Reject(cmd, "no relay "+class)
}

func reply(s string) {
	uart.Write([]byte(s + "\n"))
}
