package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"smart_farm/internal/storage"
	"smart_farm/internal/sysmgr"
)

// historySource is implemented by *storage.SQLStore.
type historySource interface {
	History(ctx context.Context, limit int) ([]storage.HistoryRow, error)
}

type server struct {
	mgr     *sysmgr.Manager
	history historySource // nil without a database
	metrics http.Handler
	log     *slog.Logger
}

func (s *server) routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/sensor-data", s.fetchSensorData).Methods("GET")
	router.HandleFunc("/sensor-history", s.fetchSensorHistory).Methods("GET")
	router.HandleFunc("/actuators", s.fetchActuators).Methods("GET")
	router.HandleFunc("/config", s.fetchConfig).Methods("GET")
	router.HandleFunc("/config", s.replaceConfig).Methods("PUT")
	router.HandleFunc("/mode", s.setMode).Methods("POST")
	router.HandleFunc("/control/{class}", s.control).Methods("POST")
	router.HandleFunc("/control/{class}", s.releaseControl).Methods("DELETE")
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics).Methods("GET")
	}
	return router
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sysmgr.ErrInvalidParameter):
		status = http.StatusBadRequest
	case errors.Is(err, sysmgr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, sysmgr.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, sysmgr.ErrNotSupported):
		status = http.StatusNotImplemented
	case errors.Is(err, sysmgr.ErrNotInitialized):
		status = http.StatusServiceUnavailable
	case errors.Is(err, sysmgr.ErrTimeout):
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type sensorDataResponse struct {
	Seq uint64    `json:"seq"`
	At  time.Time `json:"at"`
	sysmgr.SensorSnapshot
}

func (s *server) fetchSensorData(w http.ResponseWriter, r *http.Request) {
	rep := s.mgr.Last()
	if rep.Seq == 0 {
		writeError(w, fmt.Errorf("%w: no tick has run yet", sysmgr.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, sensorDataResponse{Seq: rep.Seq, At: rep.At, SensorSnapshot: rep.Sensors})
}

func (s *server) fetchSensorHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, fmt.Errorf("%w: sensor history needs a database", sysmgr.ErrNotSupported))
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, fmt.Errorf("%w: limit must be 1..1000", sysmgr.ErrInvalidParameter))
			return
		}
		limit = n
	}
	rows, err := s.history.History(r.Context(), limit)
	if err != nil {
		s.log.Error("history query failed", "error", err)
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []storage.HistoryRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

type actuatorsResponse struct {
	Seq            uint64                `json:"seq"`
	ConfiguredMode sysmgr.Mode           `json:"configured_mode"`
	EffectiveMode  sysmgr.Mode           `json:"effective_mode"`
	Critical       bool                  `json:"critical"`
	States         sysmgr.ActuatorStates `json:"states"`
	HybridOverride sysmgr.Overrides      `json:"hybrid_override"`
}

func (s *server) fetchActuators(w http.ResponseWriter, r *http.Request) {
	rep := s.mgr.Last()
	writeJSON(w, http.StatusOK, actuatorsResponse{
		Seq:            rep.Seq,
		ConfiguredMode: s.mgr.Store().Get().Mode,
		EffectiveMode:  rep.EffectiveMode,
		Critical:       rep.Critical,
		States:         rep.States,
		HybridOverride: s.mgr.Store().Get().HybridOverride,
	})
}

func (s *server) fetchConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Store().Get())
}

func (s *server) replaceConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, fmt.Errorf("%w: read body: %v", sysmgr.ErrInvalidParameter, err))
		return
	}
	cfg, err := sysmgr.UnmarshalConfig(body)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.mgr.Store().Update(cfg); err != nil {
		writeError(w, err)
		return
	}
	s.log.Info("configuration replaced", "mode", cfg.Mode)
	writeJSON(w, http.StatusOK, s.mgr.Store().Get())
}

func (s *server) setMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid JSON", sysmgr.ErrInvalidParameter))
		return
	}
	mode, err := sysmgr.ParseMode(req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}
	err = s.mgr.Store().Modify(func(cfg *sysmgr.Config) error {
		if cfg.Mode != mode {
			// overrides belong to one Hybrid session
			cfg.HybridOverride = sysmgr.Overrides{}
		}
		cfg.Mode = mode
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.log.Info("mode changed", "mode", mode)
	writeJSON(w, http.StatusOK, map[string]sysmgr.Mode{"mode": mode})
}

type controlRequest struct {
	Unit    *int   `json:"unit"`
	Command string `json:"command"`
}

func (s *server) control(w http.ResponseWriter, r *http.Request) {
	c, err := sysmgr.ParseClass(mux.Vars(r)["class"])
	if err != nil {
		writeError(w, err)
		return
	}
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid JSON", sysmgr.ErrInvalidParameter))
		return
	}
	cmd := strings.ToLower(req.Command)
	if cmd != "on" && cmd != "off" {
		writeError(w, fmt.Errorf("%w: use 'on' or 'off'", sysmgr.ErrInvalidParameter))
		return
	}
	target := sysmgr.AllUnits()
	if req.Unit != nil {
		target = sysmgr.Unit(*req.Unit)
	}
	if err := s.mgr.Command(c, target, cmd == "on"); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sysmgr.Command{Class: c, Target: target, On: cmd == "on"})
}

func (s *server) releaseControl(w http.ResponseWriter, r *http.Request) {
	c, err := sysmgr.ParseClass(mux.Vars(r)["class"])
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.mgr.ReleaseOverride(c); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
