package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"enviroflow/internal/database"
	"enviroflow/internal/poll"
	"enviroflow/internal/sensor"
)

type fakeStore struct {
	controllers []database.Controller
	readings    []database.Reading
	ports       []database.Port
	upserted    []database.UpsertControllerParams
}

func (s *fakeStore) ListControllers(ctx context.Context) ([]database.Controller, error) {
	return s.controllers, nil
}

func (s *fakeStore) GetController(ctx context.Context, id string) (database.Controller, error) {
	for _, controller := range s.controllers {
		if controller.ID == id {
			return controller, nil
		}
	}
	return database.Controller{}, database.ErrNotFound
}

func (s *fakeStore) UpsertController(ctx context.Context, params database.UpsertControllerParams) (database.Controller, error) {
	s.upserted = append(s.upserted, params)
	controller := database.Controller{ID: params.ID}
	if params.Name != nil {
		controller.Name = *params.Name
	}
	if params.Brand != nil {
		controller.Brand = *params.Brand
	}
	return controller, nil
}

func (s *fakeStore) UpdateControllerStatus(ctx context.Context, id string, update database.ControllerStatusUpdate) error {
	return nil
}

func (s *fakeStore) InsertReadings(ctx context.Context, readings []database.Reading) error {
	return nil
}

func (s *fakeStore) RecentReadings(ctx context.Context, controllerID string, limit int) ([]database.Reading, error) {
	if limit > 0 && len(s.readings) > limit {
		return s.readings[:limit], nil
	}
	return s.readings, nil
}

func (s *fakeStore) UpsertPort(ctx context.Context, port database.Port) error { return nil }

func (s *fakeStore) UpsertModeConfig(ctx context.Context, m database.ModeConfig) error { return nil }

func (s *fakeStore) InsertCapture(ctx context.Context, capture database.Capture) error { return nil }

func (s *fakeStore) ListPorts(ctx context.Context, controllerID string) ([]database.Port, error) {
	return s.ports, nil
}

func (s *fakeStore) Close() error { return nil }

type fakeLatest struct {
	rows []database.Reading
	hit  bool
}

func (l *fakeLatest) Latest(ctx context.Context, controllerID string) ([]database.Reading, bool) {
	return l.rows, l.hit
}

type fakePoller struct {
	result poll.Result
	err    error
	calls  int
}

func (p *fakePoller) PollOne(ctx context.Context, id string) (poll.Result, error) {
	p.calls++
	return p.result, p.err
}

func newTestServer(t *testing.T, store *fakeStore, latest LatestSource, poller OnDemandPoller) *Server {
	t.Helper()
	s, err := New(store, latest, poller, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func doJSON(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	payload := map[string]json.RawMessage{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("response is not a JSON object: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, payload
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, &fakeStore{}, nil, &fakePoller{})
	rec, _ := doJSON(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetControllerNotFound(t *testing.T) {
	s := newTestServer(t, &fakeStore{}, nil, &fakePoller{})
	rec, _ := doJSON(t, s, http.MethodGet, "/api/controllers/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListControllersHidesCredentials(t *testing.T) {
	store := &fakeStore{controllers: []database.Controller{{
		ID: "ctl-1", Name: "Tent A", Brand: database.BrandACInfinity,
		Credentials: "super-secret",
	}}}
	s := newTestServer(t, store, nil, &fakePoller{})

	rec, _ := doJSON(t, s, http.MethodGet, "/api/controllers", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "super-secret") {
		t.Error("credentials leaked in the controllers listing")
	}
}

func TestUpsertControllerGeneratesID(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(t, store, nil, &fakePoller{})

	rec, _ := doJSON(t, s, http.MethodPost, "/api/controllers",
		`{"name":"Tent A","brand":"ac_infinity"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if len(store.upserted) != 1 || store.upserted[0].ID == "" {
		t.Errorf("expected generated controller id, got %+v", store.upserted)
	}
}

func TestUpsertControllerRejectsBareNew(t *testing.T) {
	s := newTestServer(t, &fakeStore{}, nil, &fakePoller{})
	rec, _ := doJSON(t, s, http.MethodPost, "/api/controllers", `{"name":"Tent A"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestReadingsLimitValidation(t *testing.T) {
	s := newTestServer(t, &fakeStore{}, nil, &fakePoller{})
	rec, _ := doJSON(t, s, http.MethodGet, "/api/controllers/ctl-1/readings?limit=zero", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestLatestFallsBackToStore(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{readings: []database.Reading{
		{ID: 3, Type: sensor.TypeTemperature, Port: 0, Value: 75, RecordedAt: now},
		{ID: 2, Type: sensor.TypeTemperature, Port: 0, Value: 74, RecordedAt: now.Add(-time.Minute)},
		{ID: 1, Type: sensor.TypeHumidity, Port: 0, Value: 61, RecordedAt: now.Add(-time.Minute)},
	}}
	s := newTestServer(t, store, &fakeLatest{hit: false}, &fakePoller{})

	rec, payload := doJSON(t, s, http.MethodGet, "/api/controllers/ctl-1/latest", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var source string
	if err := json.Unmarshal(payload["source"], &source); err != nil || source != "store" {
		t.Errorf("source = %q, want store", source)
	}
	var rows []database.Reading
	if err := json.Unmarshal(payload["readings"], &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 reduced readings, got %d", len(rows))
	}
	if rows[0].Value != 75 {
		t.Errorf("superseded temperature served: %+v", rows[0])
	}
}

func TestLatestServesCacheHit(t *testing.T) {
	latest := &fakeLatest{hit: true, rows: []database.Reading{
		{Type: sensor.TypeTemperature, Value: 75},
	}}
	s := newTestServer(t, &fakeStore{}, latest, &fakePoller{})

	rec, payload := doJSON(t, s, http.MethodGet, "/api/controllers/ctl-1/latest", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var source string
	if err := json.Unmarshal(payload["source"], &source); err != nil || source != "cache" {
		t.Errorf("source = %q, want cache", source)
	}
}

func TestPollEndpoint(t *testing.T) {
	poller := &fakePoller{result: poll.Result{
		ControllerID: "ctl-1", Status: poll.StatusSuccess, Readings: 3,
	}}
	s := newTestServer(t, &fakeStore{}, nil, poller)

	rec, _ := doJSON(t, s, http.MethodPost, "/api/controllers/ctl-1/poll", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if poller.calls != 1 {
		t.Errorf("poller calls = %d, want 1", poller.calls)
	}
}

func TestPollEndpointNotFound(t *testing.T) {
	poller := &fakePoller{err: database.ErrNotFound}
	s := newTestServer(t, &fakeStore{}, nil, poller)

	rec, _ := doJSON(t, s, http.MethodPost, "/api/controllers/missing/poll", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
