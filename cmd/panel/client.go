package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// apiClient talks to the system manager HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{base: base, http: &http.Client{Timeout: 5 * time.Second}}
}

type overrides struct {
	Fans    bool `json:"fans"`
	Heaters bool `json:"heaters"`
	Pumps   bool `json:"pumps"`
	Vents   bool `json:"vents"`
	Lights  bool `json:"lights"`
}

type actuatorView struct {
	ConfiguredMode string          `json:"configured_mode"`
	EffectiveMode  string          `json:"effective_mode"`
	Critical       bool            `json:"critical"`
	States         map[string]bool `json:"states"`
	HybridOverride overrides       `json:"hybrid_override"`
}

type sensorView struct {
	Seq      uint64  `json:"seq"`
	AvgTemp  float64 `json:"avg_temperature"`
	AvgHum   float64 `json:"avg_humidity"`
	Valid    bool    `json:"valid"`
	HumValid bool    `json:"humidity_valid"`
}

func (c *apiClient) do(method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			return fmt.Errorf("server error [%d]: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server error [%d]: %s", resp.StatusCode, string(b))
	}
	if out == nil || len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, out)
}

func (c *apiClient) actuators() (actuatorView, error) {
	var v actuatorView
	err := c.do(http.MethodGet, "/actuators", nil, &v)
	return v, err
}

func (c *apiClient) sensors() (sensorView, error) {
	var v sensorView
	err := c.do(http.MethodGet, "/sensor-data", nil, &v)
	return v, err
}

func (c *apiClient) setMode(mode string) error {
	return c.do(http.MethodPost, "/mode", map[string]string{"mode": mode}, nil)
}

// command switches every unit of class.
func (c *apiClient) command(class string, on bool) error {
	cmd := "off"
	if on {
		cmd = "on"
	}
	return c.do(http.MethodPost, "/control/"+class, map[string]any{"unit": nil, "command": cmd}, nil)
}

func (c *apiClient) release(class string) error {
	return c.do(http.MethodDelete, "/control/"+class, nil, nil)
}
