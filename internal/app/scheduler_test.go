package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"enviroflow/internal/config"
	"enviroflow/internal/database"
	"enviroflow/internal/poll"
)

type fakeStore struct {
	controllers []database.Controller
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
	return database.Controller{}, nil
}

func (s *fakeStore) UpdateControllerStatus(ctx context.Context, id string, update database.ControllerStatusUpdate) error {
	return nil
}

func (s *fakeStore) InsertReadings(ctx context.Context, readings []database.Reading) error {
	return nil
}

func (s *fakeStore) RecentReadings(ctx context.Context, controllerID string, limit int) ([]database.Reading, error) {
	return nil, nil
}

func (s *fakeStore) UpsertPort(ctx context.Context, port database.Port) error { return nil }

func (s *fakeStore) UpsertModeConfig(ctx context.Context, mode database.ModeConfig) error {
	return nil
}

func (s *fakeStore) InsertCapture(ctx context.Context, capture database.Capture) error {
	return nil
}

func (s *fakeStore) ListPorts(ctx context.Context, controllerID string) ([]database.Port, error) {
	return nil, nil
}

func (s *fakeStore) Close() error { return nil }

type countingPoller struct {
	mu    sync.Mutex
	polls map[string]int
}

func (p *countingPoller) Poll(ctx context.Context, controller database.Controller) poll.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.polls == nil {
		p.polls = make(map[string]int)
	}
	p.polls[controller.ID]++
	return poll.Result{ControllerID: controller.ID, Status: poll.StatusSuccess}
}

func (p *countingPoller) count(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls[id]
}

func newTestScheduler(store *fakeStore, poller controllerPoller) *Scheduler {
	cfg := config.AppConfig{Intervals: config.IntervalConfig{PollSeconds: 90, Workers: 2}}
	return NewScheduler(store, poller, nil, nil, cfg,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPollAllSkipsCSVUpload(t *testing.T) {
	store := &fakeStore{controllers: []database.Controller{
		{ID: "ctl-1", Brand: database.BrandACInfinity},
		{ID: "ctl-2", Brand: database.BrandCSVUpload},
		{ID: "ctl-3", Brand: database.BrandEcowitt},
	}}
	poller := &countingPoller{}
	s := newTestScheduler(store, poller)

	if err := s.pollAll(context.Background()); err != nil {
		t.Fatalf("pollAll: %v", err)
	}

	if poller.count("ctl-1") != 1 || poller.count("ctl-3") != 1 {
		t.Errorf("pollable controllers not polled: %v", poller.polls)
	}
	if poller.count("ctl-2") != 0 {
		t.Error("csv_upload controller was polled")
	}
}

func TestPollAllSkipsInFlightController(t *testing.T) {
	store := &fakeStore{controllers: []database.Controller{
		{ID: "ctl-1", Brand: database.BrandACInfinity},
		{ID: "ctl-2", Brand: database.BrandACInfinity},
	}}
	poller := &countingPoller{}
	s := newTestScheduler(store, poller)

	if !s.claim("ctl-1") {
		t.Fatal("claim on a free controller failed")
	}
	if err := s.pollAll(context.Background()); err != nil {
		t.Fatalf("pollAll: %v", err)
	}

	if poller.count("ctl-1") != 0 {
		t.Error("in-flight controller was polled again")
	}
	if poller.count("ctl-2") != 1 {
		t.Error("free controller was not polled")
	}

	// The skipped controller must still be claimed by its original poll.
	if s.claim("ctl-1") {
		t.Error("in-flight claim was dropped by the skipped round")
	}
	// Polled controllers must be released afterwards.
	if !s.claim("ctl-2") {
		t.Error("completed poll did not release its claim")
	}
}

func TestPollOne(t *testing.T) {
	store := &fakeStore{controllers: []database.Controller{
		{ID: "ctl-1", Brand: database.BrandACInfinity},
	}}
	poller := &countingPoller{}
	s := newTestScheduler(store, poller)

	result, err := s.PollOne(context.Background(), "ctl-1")
	if err != nil {
		t.Fatalf("PollOne: %v", err)
	}
	if result.ControllerID != "ctl-1" || result.Status != poll.StatusSuccess {
		t.Errorf("unexpected result: %+v", result)
	}
	if !s.claim("ctl-1") {
		t.Error("PollOne did not release its claim")
	}

	if _, err := s.PollOne(context.Background(), "ctl-1"); err == nil {
		t.Error("expected error while controller is claimed")
	}
	s.release("ctl-1")

	if _, err := s.PollOne(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown controller")
	}
}
