// Package api provides the HTTP API for inspecting the label field.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/macro-immunet/internal/engine"
	"github.com/talgya/macro-immunet/internal/field"
	"github.com/talgya/macro-immunet/internal/labels"
	"github.com/talgya/macro-immunet/internal/persistence"
	"github.com/talgya/macro-immunet/internal/space"
)

// Server serves the field state over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Eng      *engine.Engine
	DB       *persistence.DB // Optional; history endpoints return 503 without it
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	// Grid dumps are the expensive read; limit them per client.
	GridLimiter *RateLimiter

	srv *http.Server
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	if s.GridLimiter == nil {
		s.GridLimiter = NewRateLimiter(60, time.Minute)
	}

	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/field", s.handleField)
	mux.HandleFunc("/api/v1/grid", s.GridLimiter.Middleware(s.handleGrid))
	mux.HandleFunc("/api/v1/entries", s.handleEntries)
	mux.HandleFunc("/api/v1/labels", s.handleLabels)
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.HandleFunc("/api/v1/space", s.handleSpace)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/snapshot", s.adminOnly(s.handleSnapshot))
	mux.HandleFunc("/api/v1/prune", s.adminOnly(s.handlePrune))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops a server started with Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(s.AdminKey)) == 1
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no IMMUNESIM_API_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	fs := s.Sim.Field
	last := s.Sim.LastReport()

	status := map[string]any{
		"tick":            fs.Tick(),
		"entries":         fs.Len(),
		"pending":         fs.Pending(),
		"coords":          len(fs.Snapshot()),
		"claim_cooldown":  fs.ClaimCooldown(),
		"prune_threshold": fs.PruneThreshold(),
		"last_report":     last,
	}
	if s.DB != nil {
		run := map[string]string{}
		for _, key := range []string{"seed", "started_at", "version"} {
			if v, err := s.DB.GetMeta(key); err == nil {
				run[key] = v
			}
		}
		status["run"] = run
	}
	if s.Eng != nil {
		status["speed"] = s.Eng.Speed()
		status["running"] = s.Eng.Running()
	}
	writeJSON(w, status)
}

// parseCoord reads the x and y query parameters.
func parseCoord(r *http.Request) (field.Coord, error) {
	q := r.URL.Query()
	x, err := strconv.ParseFloat(q.Get("x"), 64)
	if err != nil {
		return field.Coord{}, fmt.Errorf("invalid x: %q", q.Get("x"))
	}
	y, err := strconv.ParseFloat(q.Get("y"), 64)
	if err != nil {
		return field.Coord{}, fmt.Errorf("invalid y: %q", q.Get("y"))
	}
	return field.Coord{X: x, Y: y}, nil
}

// handleField serves GET /api/v1/field?x=&y=&label=
func (s *Server) handleField(w http.ResponseWriter, r *http.Request) {
	c, err := parseCoord(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	label := r.URL.Query().Get("label")
	if label == "" {
		http.Error(w, "label is required", http.StatusBadRequest)
		return
	}

	fs := s.Sim.Field
	resp := map[string]any{
		"x":         c.X,
		"y":         c.Y,
		"label":     label,
		"value":     fs.Read(c, label),
		"half_life": fs.HalfLife(label),
		"exists":    false,
	}
	if m, ok := labels.Lookup(label); ok {
		resp["kind"] = m.Kind.String()
	} else {
		resp["kind"] = "unregistered"
	}
	if e, ok := fs.Inspect(c, label); ok {
		resp["exists"] = true
		resp["settled"] = e.Value
		resp["last_tick"] = e.LastTick
		resp["owner"] = e.Lease.Owner
		if e.Lease.Cooling {
			resp["cooldown_until"] = e.Lease.CooldownUntil
		}
	}
	writeJSON(w, resp)
}

type gridCell struct {
	X      float64            `json:"x"`
	Y      float64            `json:"y"`
	Labels map[string]float64 `json:"labels"`
}

// handleGrid serves GET /api/v1/grid[?label=] as a list of cells ordered by
// coordinate. With label set, only cells holding that label are returned.
func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	only := r.URL.Query().Get("label")
	grid := s.Sim.Field.Snapshot()

	cells := make([]gridCell, 0, len(grid))
	for c, row := range grid {
		var out map[string]float64
		if only != "" {
			v, ok := row[only]
			if !ok {
				continue
			}
			out = map[string]float64{only: v}
		} else {
			// The snapshot is shared; copy before handing it to the encoder.
			out = make(map[string]float64, len(row))
			for k, v := range row {
				out[k] = v
			}
		}
		cells = append(cells, gridCell{X: c.X, Y: c.Y, Labels: out})
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].X != cells[j].X {
			return cells[i].X < cells[j].X
		}
		return cells[i].Y < cells[j].Y
	})

	writeJSON(w, map[string]any{
		"tick":  s.Sim.Field.Tick(),
		"cells": cells,
	})
}

// handleEntries serves GET /api/v1/entries[?label=][&owned=true]
func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	label := q.Get("label")
	ownedOnly := q.Get("owned") == "true"

	entries := s.Sim.Field.Entries()
	out := entries[:0]
	for _, e := range entries {
		if label != "" && e.Label != label {
			continue
		}
		if ownedOnly && e.Owner == "" {
			continue
		}
		out = append(out, e)
	}
	writeJSON(w, out)
}

// handleLabels serves GET /api/v1/labels[?kind=]. With a database attached,
// labels that have been recorded are listed under "sampled".
func (s *Server) handleLabels(w http.ResponseWriter, r *http.Request) {
	type labelInfo struct {
		Name     string  `json:"name"`
		Kind     string  `json:"kind"`
		HalfLife float64 `json:"half_life"`
		Notes    string  `json:"notes,omitempty"`
	}

	all := labels.All()
	if name := r.URL.Query().Get("kind"); name != "" {
		k, ok := labels.ParseKind(name)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown kind %q", name), http.StatusBadRequest)
			return
		}
		all = labels.OfKind(k)
	}

	out := make([]labelInfo, 0, len(all))
	for _, m := range all {
		out = append(out, labelInfo{
			Name:     m.Name,
			Kind:     m.Kind.String(),
			HalfLife: s.Sim.Field.HalfLife(m.Name),
			Notes:    m.Notes,
		})
	}

	resp := map[string]any{"labels": out}
	if s.DB != nil {
		sampled, err := s.DB.Labels()
		if err != nil {
			slog.Error("sampled labels query failed", "error", err)
			http.Error(w, "labels query failed", http.StatusInternalServerError)
			return
		}
		if sampled == nil {
			sampled = []string{}
		}
		resp["sampled"] = sampled
	}
	writeJSON(w, resp)
}

// handleHistory serves GET /api/v1/history?label=[&x=&y=][&limit=]
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	label := q.Get("label")
	if label == "" {
		http.Error(w, "label is required", http.StatusBadRequest)
		return
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 10000 {
			http.Error(w, "limit must be 1-10000", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var (
		samples []persistence.Sample
		err     error
	)
	if q.Has("x") || q.Has("y") {
		c, perr := parseCoord(r)
		if perr != nil {
			http.Error(w, perr.Error(), http.StatusBadRequest)
			return
		}
		samples, err = s.DB.HistoryAt(c, label, limit)
	} else {
		samples, err = s.DB.History(label, limit)
	}
	if err != nil {
		slog.Error("history query failed", "label", label, "error", err)
		http.Error(w, "history query failed", http.StatusInternalServerError)
		return
	}
	if samples == nil {
		samples = []persistence.Sample{}
	}
	writeJSON(w, samples)
}

// handleSpace serves GET /api/v1/space[?region=][&name=]
func (s *Server) handleSpace(w http.ResponseWriter, r *http.Request) {
	sp := s.Sim.Space
	if sp == nil {
		writeJSON(w, map[string]any{"regions": []string{}})
		return
	}
	q := r.URL.Query()
	region := q.Get("region")
	if region == "" {
		writeJSON(w, map[string]any{"regions": sp.Regions()})
		return
	}

	var ents []space.Entity
	if name := q.Get("name"); name != "" {
		ents = sp.ByName(region, name)
	} else {
		ents = sp.List(region, nil)
	}
	if ents == nil {
		ents = []space.Entity{}
	}
	writeJSON(w, map[string]any{"region": region, "entities": ents})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "engine not available", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	if err := s.DB.SaveFieldState(s.Sim.Field); err != nil {
		slog.Error("snapshot save failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"tick":    s.Sim.Field.Tick(),
		"message": "field recorded",
	})
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	removed := s.Sim.Field.Prune()
	slog.Info("manual prune", "removed", removed, "tick", s.Sim.Field.Tick())
	writeJSON(w, map[string]any{
		"removed": removed,
		"entries": s.Sim.Field.Len(),
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
