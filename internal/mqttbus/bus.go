// Package mqttbus publishes the control loop state over MQTT and accepts
// configuration pushed by the dashboard.
//
// Topics, relative to the configured prefix:
//
//	<prefix>/dashboard  tick summary, every tick
//	<prefix>/alerts     faults
//	<prefix>/config     inbound configuration documents
//	<prefix>/status     configuration accepted from <prefix>/config
package mqttbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"smart_farm/internal/sysmgr"
)

// Client is the part of mqtt.Client the bus uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Connect dials broker and waits for the session.
func Connect(broker, clientID string, log *slog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("mqtt connection lost", "error", err)
		})
	c := mqtt.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("%w: mqtt connect to %s", sysmgr.ErrTimeout, broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return c, nil
}

// Bus is a sysmgr.Observer and a sysmgr.FaultReporter.
type Bus struct {
	client Client
	prefix string
	log    *slog.Logger
	now    func() time.Time
}

// New builds a bus publishing under prefix, e.g. "smartfarm".
func New(c Client, prefix string, log *slog.Logger) *Bus {
	return &Bus{client: c, prefix: prefix, log: log.With("component", "mqtt"), now: time.Now}
}

func (b *Bus) topic(name string) string { return b.prefix + "/" + name }

// Dashboard is the per-tick message on <prefix>/dashboard.
type Dashboard struct {
	Seq            uint64                `json:"seq"`
	At             time.Time             `json:"at"`
	Mode           sysmgr.Mode           `json:"mode"`
	EffectiveMode  sysmgr.Mode           `json:"effective_mode"`
	Critical       bool                  `json:"critical"`
	AvgTemperature *float64              `json:"avg_temperature"`
	AvgHumidity    *float64              `json:"avg_humidity"`
	States         sysmgr.ActuatorStates `json:"states"`
}

// DashboardOf extracts the dashboard message from a report. Averages are null
// when no sensor contributed.
func DashboardOf(rep sysmgr.Report) Dashboard {
	d := Dashboard{
		Seq:           rep.Seq,
		At:            rep.At,
		Mode:          rep.ConfiguredMode,
		EffectiveMode: rep.EffectiveMode,
		Critical:      rep.Critical,
		States:        rep.States,
	}
	if rep.Sensors.Valid {
		v := rep.Sensors.AvgTemp
		d.AvgTemperature = &v
	}
	if rep.Sensors.HumValid {
		v := rep.Sensors.AvgHum
		d.AvgHumidity = &v
	}
	return d
}

// Alert is the message on <prefix>/alerts.
type Alert struct {
	Fault sysmgr.FaultID `json:"fault"`
	Error string         `json:"error,omitempty"`
	At    time.Time      `json:"at"`
}

// Observe publishes the tick summary.
func (b *Bus) Observe(rep sysmgr.Report) {
	b.publish("dashboard", DashboardOf(rep))
}

// ReportFault publishes an alert.
func (b *Bus) ReportFault(id sysmgr.FaultID, err error) {
	a := Alert{Fault: id, At: b.now()}
	if err != nil {
		a.Error = err.Error()
	}
	b.publish("alerts", a)
}

// publish does not wait for the broker so it is safe on the tick goroutine.
func (b *Bus) publish(name string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.log.Error("encode mqtt payload", "topic", name, "error", err)
		return
	}
	topic := b.topic(name)
	tok := b.client.Publish(topic, 0, false, payload)
	go func() {
		if tok.WaitTimeout(5*time.Second) && tok.Error() != nil {
			b.log.Warn("mqtt publish failed", "topic", topic, "error", tok.Error())
		}
	}()
}

// SubscribeConfig applies every document received on <prefix>/config to
// store.
func (b *Bus) SubscribeConfig(store *sysmgr.Store) error {
	tok := b.client.Subscribe(b.topic("config"), 1, func(_ mqtt.Client, msg mqtt.Message) {
		b.applyConfig(store, msg.Payload())
	})
	if !tok.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("%w: subscribe %s", sysmgr.ErrTimeout, b.topic("config"))
	}
	return tok.Error()
}

func (b *Bus) applyConfig(store *sysmgr.Store, payload []byte) {
	cfg, err := sysmgr.UnmarshalConfig(payload)
	if err == nil {
		err = store.Update(cfg)
	}
	if err != nil {
		b.log.Warn("rejected configuration from mqtt", "error", err)
		b.ReportFault(sysmgr.FaultConfigInvalid, err)
		return
	}
	b.log.Info("configuration updated from mqtt", "mode", cfg.Mode)
	b.publish("status", store.Get())
}
