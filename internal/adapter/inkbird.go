package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"enviroflow/internal/creds"
	"enviroflow/internal/sensor"
)

const (
	inkbirdDefaultBaseURL = "https://api.inkbird.com"
	inkbirdRequestTimeout = 10 * time.Second
	inkbirdTokenTTL       = 6 * time.Hour
)

// Inkbird polls the Inkbird cloud API (ITC/IBS sensors). Only the basic
// sensors-only read is available; the API exposes no port detail.
type Inkbird struct {
	baseURL    string
	httpClient *http.Client
	tokens     *TokenCache
}

// InkbirdOption mutates the adapter during construction.
type InkbirdOption func(*Inkbird)

// WithInkbirdBaseURL overrides the API base URL (handy for tests).
func WithInkbirdBaseURL(base string) InkbirdOption {
	return func(a *Inkbird) {
		a.baseURL = strings.TrimRight(base, "/")
	}
}

// WithInkbirdHTTPClient allows configuring a custom http.Client.
func WithInkbirdHTTPClient(h *http.Client) InkbirdOption {
	return func(a *Inkbird) {
		a.httpClient = h
	}
}

// NewInkbird builds the adapter around a shared token cache.
func NewInkbird(tokens *TokenCache, opts ...InkbirdOption) *Inkbird {
	a := &Inkbird{
		baseURL: inkbirdDefaultBaseURL,
		tokens:  tokens,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: inkbirdRequestTimeout}
	}
	if a.tokens == nil {
		a.tokens = NewTokenCache()
	}
	return a
}

type inkbirdLoginResponse struct {
	Token string `json:"token"`
}

type inkbirdSensorsResponse struct {
	Sensors []inkbirdSensor `json:"sensors"`
}

type inkbirdSensor struct {
	Type  string  `json:"type"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Connect logs into the Inkbird cloud (or reuses a cached token) and binds
// a session to the device identified by externalID.
func (a *Inkbird) Connect(ctx context.Context, controllerID string, credentials creds.Credentials, externalID string) (Session, error) {
	token, ok := a.tokens.Get(controllerID)
	if !ok {
		fresh, err := a.login(ctx, credentials)
		if err != nil {
			return nil, err
		}
		a.tokens.Put(controllerID, fresh, inkbirdTokenTTL)
		token = fresh
	}

	return &inkbirdSession{
		adapter:      a,
		controllerID: controllerID,
		token:        token,
		devID:        externalID,
	}, nil
}

func (a *Inkbird) login(ctx context.Context, credentials creds.Credentials) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"email":    credentials.Email,
		"password": credentials.Password,
	})
	if err != nil {
		return "", fmt.Errorf("marshal inkbird login: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/v1/login",
		bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create inkbird login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("inkbird login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("inkbird login: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var login inkbirdLoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		return "", fmt.Errorf("decode inkbird login response: %w", err)
	}
	if strings.TrimSpace(login.Token) == "" {
		return "", fmt.Errorf("inkbird login succeeded but token is empty")
	}
	return login.Token, nil
}

type inkbirdSession struct {
	adapter      *Inkbird
	controllerID string
	token        string
	devID        string
}

// ReadSensors fetches the device's current sensor values.
func (s *inkbirdSession) ReadSensors(ctx context.Context) ([]sensor.Reading, error) {
	endpoint := fmt.Sprintf("/api/v1/devices/%s/sensors", s.devID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.adapter.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create inkbird sensors request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.adapter.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inkbird sensors: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		s.adapter.tokens.Delete(s.controllerID)
		return nil, fmt.Errorf("inkbird sensors: token rejected")
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("inkbird sensors: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload inkbirdSensorsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode inkbird sensors response: %w", err)
	}

	now := time.Now().UTC()
	readings := make([]sensor.Reading, 0, len(payload.Sensors))
	for _, item := range payload.Sensors {
		readings = append(readings, sensor.Reading{
			Type:       sensor.Type(item.Type),
			Port:       0,
			Value:      item.Value,
			Unit:       item.Unit,
			RecordedAt: now,
		})
	}
	return readings, nil
}

// Disconnect is a no-op; the token stays cached for the next poll.
func (s *inkbirdSession) Disconnect(ctx context.Context) error {
	return nil
}
