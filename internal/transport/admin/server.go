// Package admin serves the local-only HTTP control surface of the daemon.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"settlecraft.ai/internal/sim/blueprint"
	"settlecraft.ai/internal/sim/geom"
	"settlecraft.ai/internal/sim/model"
	"settlecraft.ai/internal/sim/settlement"
	"settlecraft.ai/internal/sim/territory"
)

// Host is the part of a settlement host the admin API drives.
type Host interface {
	Now() uint64
	Stations() []settlement.StationView
	PlaceStation(pos geom.Vec3i, blueprintID string, rotation int) (*model.Station, error)
	RemoveStation(pos geom.Vec3i) error
}

// SnapshotFunc writes a snapshot and returns the tick it captured.
type SnapshotFunc func(ctx context.Context) (uint64, error)

type Server struct {
	host     Host
	snapshot SnapshotFunc
	log      *zap.Logger
}

func NewServer(host Host, snapshot SnapshotFunc, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{host: host, snapshot: snapshot, log: log}
}

// Register mounts the endpoints under /admin/v1/.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/v1/state", s.local(s.handleState))
	mux.HandleFunc("/admin/v1/stations", s.local(s.handleStations))
	mux.HandleFunc("/admin/v1/snapshot", s.local(s.handleSnapshot))
}

type StateResponse struct {
	Tick     uint64                   `json:"tick"`
	Stations []settlement.StationView `json:"stations"`
}

// PlaceRequest is the body of POST /admin/v1/stations and DELETE uses only
// Pos.
type PlaceRequest struct {
	Pos       [3]int `json:"pos"`
	Blueprint string `json:"blueprint"`
	Rotation  int    `json:"rotation"`
}

type PlaceResponse struct {
	Pos     [3]int `json:"pos"`
	AgentID string `json:"agent_id"`
	Steps   int    `json:"steps"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) local(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func (s *Server) handleState(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(rw, http.StatusOK, StateResponse{Tick: s.host.Now(), Stations: s.host.Stations()})
}

func (s *Server) handleStations(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(rw, http.StatusOK, s.host.Stations())
	case http.MethodPost:
		var req PlaceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Blueprint == "" {
			writeJSON(rw, http.StatusBadRequest, errorResponse{Error: "expected {pos, blueprint, rotation}"})
			return
		}
		pos := geom.Vec3i{X: req.Pos[0], Y: req.Pos[1], Z: req.Pos[2]}
		st, err := s.host.PlaceStation(pos, req.Blueprint, req.Rotation)
		if err != nil {
			writeJSON(rw, statusFor(err), errorResponse{Error: err.Error()})
			return
		}
		s.log.Info("station placed via admin", zap.Stringer("pos", pos), zap.String("blueprint", req.Blueprint))
		resp := PlaceResponse{Pos: req.Pos, AgentID: st.AgentID}
		for _, v := range s.host.Stations() {
			if v.Pos == pos {
				resp.Steps = v.Total
			}
		}
		writeJSON(rw, http.StatusCreated, resp)
	case http.MethodDelete:
		var req PlaceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(rw, http.StatusBadRequest, errorResponse{Error: "expected {pos}"})
			return
		}
		if err := s.host.RemoveStation(geom.Vec3i{X: req.Pos[0], Y: req.Pos[1], Z: req.Pos[2]}); err != nil {
			writeJSON(rw, statusFor(err), errorResponse{Error: err.Error()})
			return
		}
		rw.WriteHeader(http.StatusNoContent)
	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSnapshot(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.snapshot == nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "snapshots disabled"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	tick, err := s.snapshot(ctx)
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "tick": tick, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": tick})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, territory.ErrClaimConflict):
		return http.StatusConflict
	case errors.Is(err, settlement.ErrNoStation):
		return http.StatusNotFound
	case errors.Is(err, blueprint.ErrTemplateNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
