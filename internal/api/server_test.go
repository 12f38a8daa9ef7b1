package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/talgya/macro-immunet/internal/engine"
	"github.com/talgya/macro-immunet/internal/field"
	"github.com/talgya/macro-immunet/internal/labels"
	"github.com/talgya/macro-immunet/internal/persistence"
	"github.com/talgya/macro-immunet/internal/space"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	fs := field.New(field.Config{
		HalfLives:      map[string]float64{"IL12": 8},
		ClaimCooldown:  2,
		PruneThreshold: 0.5,
	})
	fs.Submit(
		field.Intent{Coord: field.Coord{X: 3, Y: 4}, Label: "IL12", Amount: 8},
		field.Intent{Coord: field.Coord{X: 0, Y: 0}, Label: "TNF", Amount: 1},
		field.Intent{Coord: field.Coord{X: 1, Y: 0}, Label: "IL12", Amount: 0.75},
	)
	fs.ApplyTick(0)
	fs.ApplyTick(8)
	fs.Claim(field.Coord{X: 0, Y: 0}, "TNF", "mac")

	sp := space.New(2)
	sp.Add("lung", space.Entity{Name: "ANTIGEN_PARTICLE", Coord: field.Coord{X: 1, Y: 1}})

	return &Server{
		Sim:      engine.NewSimulation(fs, sp),
		Eng:      engine.NewEngine(),
		AdminKey: "secret",
	}
}

func do(t *testing.T, h http.Handler, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestStatus(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d", rec.Code)
	}
	var got struct {
		Tick    int64   `json:"tick"`
		Entries int     `json:"entries"`
		Speed   float64 `json:"speed"`
	}
	decode(t, rec, &got)
	if got.Tick != 8 || got.Entries != 3 || got.Speed != 1 {
		t.Errorf("status = %+v", got)
	}
}

func TestFieldRead(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/field?x=3&y=4&label=IL12", "", "")
	var got struct {
		Value  float64 `json:"value"`
		Exists bool    `json:"exists"`
	}
	decode(t, rec, &got)
	if !got.Exists || got.Value != 4 {
		t.Errorf("field = %+v, want 4", got)
	}

	// 0.75 halves to 0.375, under the 0.5 floor.
	rec = do(t, h, http.MethodGet, "/api/v1/field?x=1&y=0&label=IL12", "", "")
	decode(t, rec, &got)
	if !got.Exists || got.Value != 0 {
		t.Errorf("floored field = %+v, want 0", got)
	}

	var owned struct {
		Owner string `json:"owner"`
	}
	decode(t, do(t, h, http.MethodGet, "/api/v1/field?x=0&y=0&label=TNF", "", ""), &owned)
	if owned.Owner != "mac" {
		t.Errorf("owner = %q", owned.Owner)
	}

	for _, target := range []string{
		"/api/v1/field?x=a&y=0&label=IL12",
		"/api/v1/field?x=0&label=IL12",
		"/api/v1/field?x=0&y=0",
	} {
		if rec := do(t, h, http.MethodGet, target, "", ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: code %d, want 400", target, rec.Code)
		}
	}
}

func TestGridFilterAndLimit(t *testing.T) {
	s := newTestServer(t)
	s.GridLimiter = NewRateLimiter(2, time.Minute)
	h := s.Handler()

	var got struct {
		Tick  int64      `json:"tick"`
		Cells []gridCell `json:"cells"`
	}
	decode(t, do(t, h, http.MethodGet, "/api/v1/grid?label=IL12", "", ""), &got)
	if len(got.Cells) != 2 {
		t.Fatalf("IL12 cells = %+v", got.Cells)
	}
	if got.Cells[0].X != 1 || got.Cells[1].Labels["IL12"] != 4 {
		t.Errorf("cells not ordered or wrong: %+v", got.Cells)
	}

	got.Cells = nil
	decode(t, do(t, h, http.MethodGet, "/api/v1/grid", "", ""), &got)
	if len(got.Cells) != 3 {
		t.Errorf("all cells = %d, want 3", len(got.Cells))
	}

	rec := do(t, h, http.MethodGet, "/api/v1/grid", "", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request code %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestEntriesOwnedFilter(t *testing.T) {
	s := newTestServer(t)
	var got []field.EntryView
	decode(t, do(t, s.Handler(), http.MethodGet, "/api/v1/entries?owned=true", "", ""), &got)
	if len(got) != 1 || got[0].Label != "TNF" || got[0].Owner != "mac" {
		t.Errorf("owned entries = %+v", got)
	}
}

func TestSpeedRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	if rec := do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":2}`, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: code %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":2}`, "wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: code %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":-1}`, "secret"); rec.Code != http.StatusBadRequest {
		t.Errorf("negative speed: code %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":2.5}`, "secret")
	if rec.Code != http.StatusOK || s.Eng.Speed() != 2.5 {
		t.Fatalf("speed = %g, code %d", s.Eng.Speed(), rec.Code)
	}

	// GET passes through without a token.
	if rec := do(t, h, http.MethodGet, "/api/v1/speed", "", ""); rec.Code != http.StatusOK {
		t.Errorf("get speed: code %d", rec.Code)
	}

	s.AdminKey = ""
	if rec := do(t, s.Handler(), http.MethodPost, "/api/v1/speed", `{"speed":1}`, "secret"); rec.Code != http.StatusForbidden {
		t.Errorf("disabled admin: code %d", rec.Code)
	}
}

func TestHistoryAndSnapshot(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	if rec := do(t, h, http.MethodGet, "/api/v1/history?label=IL12", "", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("history without db: code %d", rec.Code)
	}

	db, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s.DB = db

	if rec := do(t, h, http.MethodPost, "/api/v1/snapshot", "", "secret"); rec.Code != http.StatusOK {
		t.Fatalf("snapshot: code %d: %s", rec.Code, rec.Body.String())
	}

	var samples []persistence.Sample
	decode(t, do(t, h, http.MethodGet, "/api/v1/history?label=IL12", "", ""), &samples)
	if len(samples) != 2 {
		t.Fatalf("history = %+v", samples)
	}

	samples = nil
	decode(t, do(t, h, http.MethodGet, "/api/v1/history?label=IL12&x=3&y=4", "", ""), &samples)
	if len(samples) != 1 || samples[0].Value != 4 || samples[0].Tick != 8 {
		t.Errorf("history at (3,4) = %+v", samples)
	}

	if rec := do(t, h, http.MethodGet, "/api/v1/history?label=IL12&limit=0", "", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("limit 0: code %d", rec.Code)
	}
}

func TestPrune(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/prune", "", "secret")
	var got struct {
		Removed int `json:"removed"`
		Entries int `json:"entries"`
	}
	decode(t, rec, &got)
	if got.Removed != 1 || got.Entries != 2 {
		t.Errorf("prune = %+v, want 1 removed and 2 left", got)
	}
}

func TestSpace(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	var regions struct {
		Regions []string `json:"regions"`
	}
	decode(t, do(t, h, http.MethodGet, "/api/v1/space", "", ""), &regions)
	if len(regions.Regions) != 1 || regions.Regions[0] != "lung" {
		t.Errorf("regions = %v", regions.Regions)
	}

	var ents struct {
		Entities []space.Entity `json:"entities"`
	}
	decode(t, do(t, h, http.MethodGet, "/api/v1/space?region=lung&name=antigen-particle", "", ""), &ents)
	if len(ents.Entities) != 1 {
		t.Errorf("entities = %+v", ents.Entities)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := rl.Allow("a"); !ok {
			t.Fatalf("request %d refused", i)
		}
	}
	ok, wait := rl.Allow("a")
	if ok || wait != time.Minute {
		t.Fatalf("third request ok=%v wait=%v", ok, wait)
	}
	if ok, _ := rl.Allow("b"); !ok {
		t.Fatal("other client refused")
	}

	now = now.Add(time.Minute)
	if ok, _ := rl.Allow("a"); !ok {
		t.Fatal("refused after window reset")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	if got := clientIP(req); got != "10.0.0.7" {
		t.Errorf("remote = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.9" {
		t.Errorf("forwarded = %q", got)
	}
}

func TestLabels(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	type labelsResp struct {
		Labels []struct {
			Name string `json:"name"`
			Kind string `json:"kind"`
		} `json:"labels"`
		Sampled []string `json:"sampled"`
	}

	var all labelsResp
	decode(t, do(t, h, http.MethodGet, "/api/v1/labels", "", ""), &all)
	if len(all.Labels) != len(labels.All()) || all.Sampled != nil {
		t.Fatalf("labels = %d, sampled = %v", len(all.Labels), all.Sampled)
	}

	var fields labelsResp
	decode(t, do(t, h, http.MethodGet, "/api/v1/labels?kind=field", "", ""), &fields)
	if len(fields.Labels) == 0 || len(fields.Labels) != len(labels.OfKind(labels.KindField)) {
		t.Fatalf("field labels = %+v", fields.Labels)
	}
	for _, l := range fields.Labels {
		if l.Kind != "field" {
			t.Errorf("%s has kind %s", l.Name, l.Kind)
		}
	}

	if rec := do(t, h, http.MethodGet, "/api/v1/labels?kind=organ", "", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown kind: code %d", rec.Code)
	}

	db, err := persistence.Open(filepath.Join(t.TempDir(), "labels.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s.DB = db

	var empty labelsResp
	decode(t, do(t, h, http.MethodGet, "/api/v1/labels", "", ""), &empty)
	if empty.Sampled == nil || len(empty.Sampled) != 0 {
		t.Fatalf("sampled before recording = %v", empty.Sampled)
	}

	if err := db.SaveFieldState(s.Sim.Field); err != nil {
		t.Fatal(err)
	}
	var sampled labelsResp
	decode(t, do(t, h, http.MethodGet, "/api/v1/labels", "", ""), &sampled)
	if strings.Join(sampled.Sampled, ",") != "IL12,TNF" {
		t.Errorf("sampled = %v", sampled.Sampled)
	}
}

func TestFieldKind(t *testing.T) {
	h := newTestServer(t).Handler()

	var got map[string]any
	decode(t, do(t, h, http.MethodGet, "/api/v1/field?x=0&y=0&label=tnf", "", ""), &got)
	if got["kind"] != "field" {
		t.Errorf("TNF kind = %v", got["kind"])
	}

	got = nil
	decode(t, do(t, h, http.MethodGet, "/api/v1/field?x=0&y=0&label=MYSTERY", "", ""), &got)
	if got["kind"] != "unregistered" {
		t.Errorf("unknown label kind = %v", got["kind"])
	}
}

func TestStatusRunMeta(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	var bare map[string]any
	decode(t, do(t, h, http.MethodGet, "/api/v1/status", "", ""), &bare)
	if _, ok := bare["run"]; ok {
		t.Fatal("run metadata reported without a database")
	}

	db, err := persistence.Open(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := db.SaveMeta("seed", "42"); err != nil {
		t.Fatal(err)
	}
	s.DB = db

	var got struct {
		Run map[string]string `json:"run"`
	}
	decode(t, do(t, h, http.MethodGet, "/api/v1/status", "", ""), &got)
	if got.Run["seed"] != "42" {
		t.Errorf("run = %v", got.Run)
	}
	if _, ok := got.Run["started_at"]; ok {
		t.Errorf("missing key reported: %v", got.Run)
	}
}

func TestCheckBearerToken(t *testing.T) {
	s := &Server{AdminKey: "secret"}
	tests := map[string]bool{
		"":               false,
		"secret":         false,
		"Bearer ":        false,
		"Bearer secre":   false,
		"Bearer secret!": false,
		"Bearer SECRET":  false,
		"Basic secret":   false,
		"Bearer secret":  true,
	}
	for header, want := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/speed", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		if got := s.checkBearerToken(req); got != want {
			t.Errorf("checkBearerToken(%q) = %v, want %v", header, got, want)
		}
	}
}
