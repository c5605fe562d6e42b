// Package web is the REST facade over the receiver: Bluetooth
// management, volume, and playback transport. Handlers are stateless
// request/response glue; all state lives behind the injected
// collaborators.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"btreceiver/internal/bluetooth"
	"btreceiver/internal/mixer"
	"btreceiver/internal/player"
)

// Player is the playback session's transport surface.
type Player interface {
	Start() bool
	Stop()
	Next() bool
	Previous() bool
	ToggleShuffle() bool
	Status() player.Status
}

// BluetoothManager is the adapter/device inventory accessor.
type BluetoothManager interface {
	AdapterInfo() (bluetooth.AdapterInfo, error)
	Devices() ([]bluetooth.Device, error)
	ConnectedDevice() (*bluetooth.Device, error)
	SetDiscoverable(discoverable bool, timeout uint32) error
	RemoveDevice(address string) error
	TrustDevice(address string) error
}

// VolumeMixer reads and writes the output volume.
type VolumeMixer interface {
	Volume() int
	SetVolume(level int) bool
}

// ServiceControl restarts the Bluetooth system services.
type ServiceControl interface {
	RestartStack() error
}

// MountInfo reports the removable-media mount, when the monitor runs.
type MountInfo interface {
	Mounted() (string, bool)
}

// Server is the HTTP facade.
type Server struct {
	player    Player
	bluetooth BluetoothManager
	mixer     VolumeMixer
	services  ServiceControl
	mounts    MountInfo // nil when the media monitor is disabled

	sysInfo func() SystemInfo
	httpSrv *http.Server
}

// NewServer wires the facade. bt may be nil when the system bus is not
// reachable; mounts may be nil when the removable-media monitor is not
// running.
func NewServer(p Player, bt BluetoothManager, mixer VolumeMixer, services ServiceControl, mounts MountInfo) *Server {
	return &Server{
		player:    p,
		bluetooth: bt,
		mixer:     mixer,
		services:  services,
		mounts:    mounts,
		sysInfo:   readSystemInfo,
	}
}

// Router builds the chi route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/devices", s.handleDevices)
		r.Post("/discoverable", s.handleSetDiscoverable)
		r.Delete("/device/{address}", s.handleRemoveDevice)
		r.Post("/device/{address}/trust", s.handleTrustDevice)
		r.Get("/volume", s.handleGetVolume)
		r.Post("/volume", s.handleSetVolume)
		r.Post("/restart", s.handleRestart)

		r.Route("/player", func(r chi.Router) {
			r.Get("/status", s.handlePlayerStatus)
			r.Post("/start", s.handlePlayerStart)
			r.Post("/stop", s.handlePlayerStop)
			r.Post("/next", s.handlePlayerNext)
			r.Post("/previous", s.handlePlayerPrevious)
			r.Post("/shuffle", s.handlePlayerShuffle)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})

	return r
}

// ListenAndServe runs the HTTP server until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	log.Info().Str("addr", addr).Msg("Web interface listening")

	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

// requireBluetooth rejects the request when the daemon is running without
// a BlueZ connection. Playback endpoints keep working regardless.
func (s *Server) requireBluetooth(w http.ResponseWriter) bool {
	if s.bluetooth == nil {
		writeError(w, http.StatusServiceUnavailable, "Bluetooth unavailable")
		return false
	}
	return true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireBluetooth(w) {
		return
	}

	adapter, err := s.bluetooth.AdapterInfo()
	if err != nil {
		log.Error().Err(err).Msg("Error getting adapter info")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	connected, err := s.bluetooth.ConnectedDevice()
	if err != nil {
		log.Error().Err(err).Msg("Error getting connected device")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	payload := map[string]any{
		"success":          true,
		"adapter":          adapter,
		"connected_device": connected,
		"system":           s.sysInfo(),
		"volume":           s.mixer.Volume(),
		"player":           s.playerStatus(),
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if !s.requireBluetooth(w) {
		return
	}

	devices, err := s.bluetooth.Devices()
	if err != nil {
		log.Error().Err(err).Msg("Error getting devices")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "devices": devices})
}

func (s *Server) handleSetDiscoverable(w http.ResponseWriter, r *http.Request) {
	if !s.requireBluetooth(w) {
		return
	}

	req := struct {
		Discoverable *bool  `json:"discoverable"`
		Timeout      uint32 `json:"timeout"`
	}{}
	// An empty body means "enable with no timeout".
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	discoverable := true
	if req.Discoverable != nil {
		discoverable = *req.Discoverable
	}

	if err := s.bluetooth.SetDiscoverable(discoverable, req.Timeout); err != nil {
		log.Error().Err(err).Msg("Error setting discoverable")
		writeError(w, http.StatusInternalServerError, "Failed to set discoverable mode")
		return
	}

	message := "Discoverable mode disabled"
	if discoverable {
		message = "Discoverable mode enabled"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"discoverable": discoverable,
		"message":      message,
	})
}

func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	if !s.requireBluetooth(w) {
		return
	}

	address := chi.URLParam(r, "address")
	if err := s.bluetooth.RemoveDevice(address); err != nil {
		log.Error().Err(err).Str("address", address).Msg("Error removing device")
		writeError(w, http.StatusInternalServerError, "Failed to remove device")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Device " + address + " removed",
	})
}

func (s *Server) handleTrustDevice(w http.ResponseWriter, r *http.Request) {
	if !s.requireBluetooth(w) {
		return
	}

	address := chi.URLParam(r, "address")
	if err := s.bluetooth.TrustDevice(address); err != nil {
		log.Error().Err(err).Str("address", address).Msg("Error trusting device")
		writeError(w, http.StatusInternalServerError, "Failed to trust device")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Device " + address + " trusted",
	})
}

func (s *Server) handleGetVolume(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "volume": s.mixer.Volume()})
}

func (s *Server) handleSetVolume(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Level *int `json:"level"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Level == nil {
		writeError(w, http.StatusBadRequest, "missing volume level")
		return
	}

	// Echo the level actually applied, not the raw request.
	level := mixer.Clamp(*req.Level)
	if !s.mixer.SetVolume(level) {
		writeError(w, http.StatusInternalServerError, "Failed to set volume")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"volume":  level,
	})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.services.RestartStack(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Services restarted"})
}

func (s *Server) handlePlayerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "player": s.playerStatus()})
}

func (s *Server) handlePlayerStart(w http.ResponseWriter, r *http.Request) {
	if s.player.Start() {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Playback started"})
		return
	}
	if s.player.Status().Playing {
		writeError(w, http.StatusConflict, "already playing")
		return
	}
	writeError(w, http.StatusNotFound, "no tracks found")
}

func (s *Server) handlePlayerStop(w http.ResponseWriter, r *http.Request) {
	s.player.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Playback stopped"})
}

func (s *Server) handlePlayerNext(w http.ResponseWriter, r *http.Request) {
	if !s.player.Next() {
		writeError(w, http.StatusConflict, "not currently playing")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Skipped to next track"})
}

func (s *Server) handlePlayerPrevious(w http.ResponseWriter, r *http.Request) {
	if !s.player.Previous() {
		writeError(w, http.StatusConflict, "not currently playing")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Went to previous track"})
}

func (s *Server) handlePlayerShuffle(w http.ResponseWriter, r *http.Request) {
	shuffle := s.player.ToggleShuffle()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "shuffle": shuffle})
}

// playerStatus augments the session snapshot with mount state when the
// media monitor is running.
func (s *Server) playerStatus() map[string]any {
	st := s.player.Status()
	payload := map[string]any{
		"is_playing":    st.Playing,
		"is_paused":     st.Paused,
		"current_file":  st.Track,
		"current_index": st.Index,
		"total_tracks":  st.Total,
		"shuffle":       st.Shuffle,
		"loop":          st.Loop,
	}
	if s.mounts != nil {
		mount, ok := s.mounts.Mounted()
		payload["media_mounted"] = ok
		payload["media_mount"] = mount
	}
	return payload
}
