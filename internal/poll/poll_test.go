package poll

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"enviroflow/internal/adapter"
	"enviroflow/internal/creds"
	"enviroflow/internal/database"
	"enviroflow/internal/sensor"
)

var testNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

// fakeStore records every write the pipeline makes.
type fakeStore struct {
	recent    []database.Reading
	recentErr error
	insertErr error

	inserted    [][]database.Reading
	statuses    []statusCall
	ports       []database.Port
	modes       []database.ModeConfig
	captures    []database.Capture
	recentCalls int
}

type statusCall struct {
	id     string
	update database.ControllerStatusUpdate
}

func (s *fakeStore) ListControllers(ctx context.Context) ([]database.Controller, error) {
	return nil, nil
}

func (s *fakeStore) GetController(ctx context.Context, id string) (database.Controller, error) {
	return database.Controller{}, database.ErrNotFound
}

func (s *fakeStore) UpsertController(ctx context.Context, params database.UpsertControllerParams) (database.Controller, error) {
	return database.Controller{}, nil
}

func (s *fakeStore) UpdateControllerStatus(ctx context.Context, id string, update database.ControllerStatusUpdate) error {
	s.statuses = append(s.statuses, statusCall{id: id, update: update})
	return nil
}

func (s *fakeStore) InsertReadings(ctx context.Context, readings []database.Reading) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, readings)
	return nil
}

func (s *fakeStore) RecentReadings(ctx context.Context, controllerID string, limit int) ([]database.Reading, error) {
	s.recentCalls++
	if s.recentErr != nil {
		return nil, s.recentErr
	}
	if limit > 0 && len(s.recent) > limit {
		return s.recent[:limit], nil
	}
	return s.recent, nil
}

func (s *fakeStore) UpsertPort(ctx context.Context, port database.Port) error {
	s.ports = append(s.ports, port)
	return nil
}

func (s *fakeStore) UpsertModeConfig(ctx context.Context, mode database.ModeConfig) error {
	s.modes = append(s.modes, mode)
	return nil
}

func (s *fakeStore) InsertCapture(ctx context.Context, capture database.Capture) error {
	s.captures = append(s.captures, capture)
	return nil
}

func (s *fakeStore) ListPorts(ctx context.Context, controllerID string) ([]database.Port, error) {
	return nil, nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) lastStatus(t *testing.T) statusCall {
	t.Helper()
	if len(s.statuses) == 0 {
		t.Fatal("no controller status update recorded")
	}
	return s.statuses[len(s.statuses)-1]
}

type fakeAdapter struct {
	session    adapter.Session
	connectErr error
	connects   int
}

func (a *fakeAdapter) Connect(ctx context.Context, controllerID string, credentials creds.Credentials, externalID string) (adapter.Session, error) {
	a.connects++
	if a.connectErr != nil {
		return nil, a.connectErr
	}
	return a.session, nil
}

type fakeSession struct {
	readings    []sensor.Reading
	readErr     error
	disconnects int
}

func (s *fakeSession) ReadSensors(ctx context.Context) ([]sensor.Reading, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.readings, nil
}

func (s *fakeSession) Disconnect(ctx context.Context) error {
	s.disconnects++
	return nil
}

// richSession adds the port-aware read capability on top of fakeSession.
type richSession struct {
	fakeSession
	rich    adapter.RichReadings
	richErr error
}

func (s *richSession) ReadSensorsAndPorts(ctx context.Context) (adapter.RichReadings, error) {
	if s.richErr != nil {
		return adapter.RichReadings{}, s.richErr
	}
	return s.rich, nil
}

type fakeDecryptor struct {
	fields map[string]any
	err    error
}

func (d *fakeDecryptor) Decrypt(blob string) (map[string]any, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.fields, nil
}

func newTestPoller(store *fakeStore, dec creds.Decryptor, registry *adapter.Registry) *Poller {
	p := New(store, dec, registry, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.now = func() time.Time { return testNow }
	return p
}

func testController(brand string) database.Controller {
	return database.Controller{
		ID:          "ctl-1",
		Brand:       brand,
		ExternalID:  "dev-1",
		Name:        "Tent A",
		Credentials: `{"email":"grower@example.com","password":"pw"}`,
		Status:      database.StatusOnline,
	}
}

func registryWith(brand string, a adapter.Adapter) *adapter.Registry {
	registry := adapter.NewRegistry()
	registry.Register(brand, a)
	return registry
}

func strVal(t *testing.T, p *string) string {
	t.Helper()
	if p == nil {
		t.Fatal("expected non-nil string field")
	}
	return *p
}

func TestPollSkipsCSVUpload(t *testing.T) {
	store := &fakeStore{}
	fa := &fakeAdapter{}
	p := newTestPoller(store, &fakeDecryptor{}, registryWith(database.BrandACInfinity, fa))

	result := p.Poll(context.Background(), testController(database.BrandCSVUpload))

	if result.Status != StatusSkipped {
		t.Fatalf("status = %s, want skipped", result.Status)
	}
	if fa.connects != 0 || len(store.statuses) != 0 || len(store.inserted) != 0 {
		t.Error("csv_upload poll must not touch the adapter or the store")
	}
}

func TestPollSkipsUnknownBrand(t *testing.T) {
	store := &fakeStore{}
	p := newTestPoller(store, &fakeDecryptor{}, adapter.NewRegistry())

	result := p.Poll(context.Background(), testController("mystery_brand"))

	if result.Status != StatusSkipped {
		t.Fatalf("status = %s, want skipped", result.Status)
	}
	if result.Error == "" {
		t.Error("skip reason missing")
	}
}

func TestPollDecryptFailure(t *testing.T) {
	store := &fakeStore{}
	fa := &fakeAdapter{}
	p := newTestPoller(store, &fakeDecryptor{err: creds.ErrCannotDecrypt},
		registryWith(database.BrandACInfinity, fa))

	controller := testController(database.BrandACInfinity)
	controller.Credentials = "bm90LWpzb24="

	result := p.Poll(context.Background(), controller)

	if result.Status != StatusFailed || result.Error != "Credentials cannot be decrypted" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if fa.connects != 0 {
		t.Error("connect must not be attempted with unreadable credentials")
	}
	status := store.lastStatus(t)
	if strVal(t, status.update.Status) != database.StatusError {
		t.Errorf("controller status = %q, want error", strVal(t, status.update.Status))
	}
	if strVal(t, status.update.LastError) != "Credentials cannot be decrypted" {
		t.Errorf("last_error = %q", strVal(t, status.update.LastError))
	}
}

func TestPollIncompleteCredentials(t *testing.T) {
	store := &fakeStore{}
	fa := &fakeAdapter{}
	p := newTestPoller(store, &fakeDecryptor{}, registryWith(database.BrandACInfinity, fa))

	controller := testController(database.BrandACInfinity)
	controller.Credentials = `{"email":"grower@example.com"}`

	result := p.Poll(context.Background(), controller)

	if result.Status != StatusFailed || result.Error != "Incomplete credentials" {
		t.Fatalf("unexpected result: %+v", result)
	}
	status := store.lastStatus(t)
	if strVal(t, status.update.Status) != database.StatusError {
		t.Errorf("controller status = %q, want error", strVal(t, status.update.Status))
	}
}

func TestPollConnectFailure(t *testing.T) {
	store := &fakeStore{
		recent: []database.Reading{{
			Type: sensor.TypeTemperature, Value: 75,
			RecordedAt: testNow.Add(-2 * time.Minute),
		}},
	}
	fa := &fakeAdapter{connectErr: errors.New("dial tcp: connection refused")}
	p := newTestPoller(store, &fakeDecryptor{}, registryWith(database.BrandACInfinity, fa))

	result := p.Poll(context.Background(), testController(database.BrandACInfinity))

	if result.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if store.recentCalls != 0 {
		t.Error("connect failures must not fall back to cached data")
	}
	status := store.lastStatus(t)
	if strVal(t, status.update.Status) != database.StatusOffline {
		t.Errorf("controller status = %q, want offline", strVal(t, status.update.Status))
	}
}

func TestPollSuccess(t *testing.T) {
	store := &fakeStore{}
	session := &fakeSession{readings: []sensor.Reading{
		{Type: sensor.TypeTemperature, Value: 75, Unit: "°F", RecordedAt: testNow},
		{Type: sensor.TypeHumidity, Value: 65, Unit: "%", RecordedAt: testNow},
		{Type: sensor.TypeCO2, Value: 99999, Unit: "ppm", RecordedAt: testNow}, // out of range
	}}
	fa := &fakeAdapter{session: session}
	p := newTestPoller(store, &fakeDecryptor{}, registryWith(database.BrandACInfinity, fa))

	result := p.Poll(context.Background(), testController(database.BrandACInfinity))

	if result.Status != StatusSuccess {
		t.Fatalf("unexpected result: %+v", result)
	}
	// Two valid readings plus the derived vpd.
	if result.Readings != 3 {
		t.Fatalf("readings = %d, want 3", result.Readings)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("expected one insert batch, got %d", len(store.inserted))
	}
	rows := store.inserted[0]
	var vpd *database.Reading
	for i := range rows {
		if rows[i].Type == sensor.TypeCO2 {
			t.Error("out-of-range co2 reading was persisted")
		}
		if rows[i].Type == sensor.TypeVPD {
			vpd = &rows[i]
		}
	}
	if vpd == nil || vpd.Value != 1.04 {
		t.Fatalf("derived vpd = %+v, want 1.04 kPa", vpd)
	}

	status := store.lastStatus(t)
	if strVal(t, status.update.Status) != database.StatusOnline {
		t.Errorf("controller status = %q, want online", strVal(t, status.update.Status))
	}
	if status.update.LastSeen == nil || !status.update.LastSeen.Equal(testNow) {
		t.Errorf("last_seen = %v, want poll time", status.update.LastSeen)
	}
	if strVal(t, status.update.LastError) != "" {
		t.Error("successful poll must clear last_error")
	}
	if session.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", session.disconnects)
	}
}

func TestPollRichRead(t *testing.T) {
	store := &fakeStore{}
	modeID := 2
	session := &richSession{rich: adapter.RichReadings{
		Sensors: []sensor.Reading{
			{Type: sensor.TypeTemperature, Value: 75, Unit: "°F", RecordedAt: testNow},
			{Type: sensor.TypeHumidity, Value: 65, Unit: "%", RecordedAt: testNow},
			{Type: sensor.TypeVPD, Value: 1.04, Unit: "kPa", RecordedAt: testNow},
		},
		Ports: []adapter.PortState{{
			Port: 1, Name: "Exhaust Fan", DeviceType: "fan",
			Connected: true, On: true, PowerLevel: 6, ModeID: &modeID,
			SupportsDimming: true, Online: true, Raw: []byte(`{}`),
		}},
		Modes: []adapter.ModeState{{Port: 1, ModeID: 2, Name: "Auto", Raw: []byte(`{}`)}},
		Capture: &adapter.Capture{
			Endpoint: "/api/user/devInfoListAll", Response: []byte(`{"code":200}`),
			LatencyMS: 42, Success: true, CapturedAt: testNow,
		},
	}}
	fa := &fakeAdapter{session: session}
	p := newTestPoller(store, &fakeDecryptor{}, registryWith(database.BrandACInfinity, fa))

	result := p.Poll(context.Background(), testController(database.BrandACInfinity))

	if result.Status != StatusSuccess || result.Readings != 3 || result.Ports != 1 || result.Modes != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", result.Warnings)
	}
	if len(store.ports) != 1 || store.ports[0].DeviceType != "fan" {
		t.Errorf("unexpected port rows: %+v", store.ports)
	}
	if len(store.captures) != 1 {
		t.Fatalf("expected one capture row, got %d", len(store.captures))
	}
	capture := store.captures[0]
	if capture.ID == "" || capture.ContentHash == "" {
		t.Errorf("capture missing id or content hash: %+v", capture)
	}
}

func TestPollRichReadFallsBackToBasic(t *testing.T) {
	store := &fakeStore{}
	session := &richSession{
		fakeSession: fakeSession{readings: []sensor.Reading{
			{Type: sensor.TypeTemperature, Value: 75, Unit: "°F", RecordedAt: testNow},
		}},
		richErr: errors.New("ports endpoint down"),
	}
	fa := &fakeAdapter{session: session}
	p := newTestPoller(store, &fakeDecryptor{}, registryWith(database.BrandACInfinity, fa))

	result := p.Poll(context.Background(), testController(database.BrandACInfinity))

	if result.Status != StatusSuccess || result.Readings != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Ports != 0 || len(store.ports) != 0 {
		t.Error("no port rows expected after a rich-read failure")
	}
}

func TestPollDegradesToCache(t *testing.T) {
	cases := []struct {
		name       string
		age        time.Duration
		wantTier   Tier
		wantStatus string
	}{
		{"fresh", 3 * time.Minute, TierFresh, database.StatusOnline},
		{"recent_cache", 10 * time.Minute, TierRecentCache, database.StatusOnline},
		{"interpolated", 20 * time.Minute, TierInterpolated, database.StatusOnline},
		{"last_known", 2 * time.Hour, TierLastKnown, database.StatusOffline},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeStore{recent: []database.Reading{
				{ID: 2, Type: sensor.TypeTemperature, Port: 0, Value: 74, Unit: "°F",
					RecordedAt: testNow.Add(-tc.age)},
				{ID: 1, Type: sensor.TypeHumidity, Port: 0, Value: 60, Unit: "%",
					RecordedAt: testNow.Add(-tc.age)},
			}}
			session := &fakeSession{readErr: errors.New("api timeout")}
			fa := &fakeAdapter{session: session}
			p := newTestPoller(store, &fakeDecryptor{}, registryWith(database.BrandACInfinity, fa))

			result := p.Poll(context.Background(), testController(database.BrandACInfinity))

			if result.Status != StatusDegraded || result.Tier != tc.wantTier {
				t.Fatalf("unexpected result: %+v", result)
			}
			if result.Readings != 2 {
				t.Errorf("readings = %d, want 2", result.Readings)
			}
			if len(store.inserted) != 1 {
				t.Fatalf("expected one stale insert batch, got %d", len(store.inserted))
			}
			for _, row := range store.inserted[0] {
				if !row.Stale {
					t.Error("degraded rows must be marked stale")
				}
			}

			status := store.lastStatus(t)
			if strVal(t, status.update.Status) != tc.wantStatus {
				t.Errorf("controller status = %q, want %q", strVal(t, status.update.Status), tc.wantStatus)
			}
			lastError := strVal(t, status.update.LastError)
			if !strings.Contains(lastError, "api timeout") ||
				!strings.Contains(lastError, fmt.Sprintf("using %s cache", tc.wantTier)) {
				t.Errorf("last_error = %q", lastError)
			}
			if session.disconnects != 1 {
				t.Errorf("disconnects = %d, want 1", session.disconnects)
			}
		})
	}
}

func TestPollDegradeKeepsLatestPerSensor(t *testing.T) {
	// Newest-first cache with two generations of the same temperature sensor
	// plus a second port: only the latest row per (type, port) survives, and
	// the tier follows the oldest survivor.
	store := &fakeStore{recent: []database.Reading{
		{ID: 4, Type: sensor.TypeTemperature, Port: 0, Value: 75,
			RecordedAt: testNow.Add(-2 * time.Minute)},
		{ID: 3, Type: sensor.TypeTemperature, Port: 2, Value: 68,
			RecordedAt: testNow.Add(-25 * time.Minute)},
		{ID: 2, Type: sensor.TypeTemperature, Port: 0, Value: 74,
			RecordedAt: testNow.Add(-40 * time.Minute)},
		{ID: 1, Type: sensor.TypeHumidity, Port: 0, Value: 61,
			RecordedAt: testNow.Add(-40 * time.Minute)},
	}}
	session := &fakeSession{readErr: errors.New("api timeout")}
	fa := &fakeAdapter{session: session}
	p := newTestPoller(store, &fakeDecryptor{}, registryWith(database.BrandACInfinity, fa))

	result := p.Poll(context.Background(), testController(database.BrandACInfinity))

	if result.Status != StatusDegraded || result.Readings != 3 {
		t.Fatalf("unexpected result: %+v", result)
	}
	// Oldest surviving sensor is 40 minutes stale.
	if result.Tier != TierInterpolated {
		t.Errorf("tier = %s, want interpolated", result.Tier)
	}
	for _, row := range store.inserted[0] {
		if row.Type == sensor.TypeTemperature && row.Port == 0 && row.Value != 75 {
			t.Errorf("superseded temperature row persisted: %+v", row)
		}
	}
}

func TestPollFailsWithEmptyCache(t *testing.T) {
	store := &fakeStore{}
	session := &fakeSession{readErr: errors.New("api timeout")}
	fa := &fakeAdapter{session: session}
	p := newTestPoller(store, &fakeDecryptor{}, registryWith(database.BrandACInfinity, fa))

	result := p.Poll(context.Background(), testController(database.BrandACInfinity))

	if result.Status != StatusFailed || result.Readings != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(store.inserted) != 0 {
		t.Error("nothing should be persisted with no live read and no cache")
	}
	status := store.lastStatus(t)
	if status.update.Status != nil {
		t.Errorf("controller status = %q, want untouched", *status.update.Status)
	}
	if strVal(t, status.update.LastError) != "api timeout" {
		t.Errorf("last_error = %q", strVal(t, status.update.LastError))
	}
}

func TestClassifyAgeBoundaries(t *testing.T) {
	cases := []struct {
		age  time.Duration
		want Tier
	}{
		{0, TierFresh},
		{5*time.Minute - time.Second, TierFresh},
		{5 * time.Minute, TierRecentCache},
		{15 * time.Minute, TierInterpolated},
		{60 * time.Minute, TierLastKnown},
		{24 * time.Hour, TierLastKnown},
	}
	for _, tc := range cases {
		if got := classifyAge(tc.age); got != tc.want {
			t.Errorf("classifyAge(%v) = %s, want %s", tc.age, got, tc.want)
		}
	}
}
