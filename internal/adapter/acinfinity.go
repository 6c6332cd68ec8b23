package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"enviroflow/internal/creds"
	"enviroflow/internal/sensor"
)

const (
	acDefaultBaseURL = "http://www.acinfinityserver.com"
	acRequestTimeout = 10 * time.Second
	acTokenTTL       = 12 * time.Hour

	// Response codes used by the AC Infinity app API.
	acCodeOK           = 200
	acCodeInvalidToken = 10001
)

// ACInfinity polls the AC Infinity app API (UIS controllers). It supports
// the rich read: device-level climate sensors plus per-port state and mode
// configuration.
type ACInfinity struct {
	baseURL    string
	httpClient *http.Client
	tokens     *TokenCache
}

// ACInfinityOption mutates the adapter during construction.
type ACInfinityOption func(*ACInfinity)

// WithACInfinityBaseURL overrides the API base URL (handy for tests).
func WithACInfinityBaseURL(base string) ACInfinityOption {
	return func(a *ACInfinity) {
		a.baseURL = strings.TrimRight(base, "/")
	}
}

// WithACInfinityHTTPClient allows configuring a custom http.Client.
func WithACInfinityHTTPClient(h *http.Client) ACInfinityOption {
	return func(a *ACInfinity) {
		a.httpClient = h
	}
}

// NewACInfinity builds the adapter around a shared token cache.
func NewACInfinity(tokens *TokenCache, opts ...ACInfinityOption) *ACInfinity {
	a := &ACInfinity{
		baseURL: acDefaultBaseURL,
		tokens:  tokens,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: acRequestTimeout}
	}
	if a.tokens == nil {
		a.tokens = NewTokenCache()
	}
	return a
}

type acEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type acLoginData struct {
	AppID string `json:"appId"`
}

type acDevice struct {
	DevID      string       `json:"devId"`
	DevName    string       `json:"devName"`
	DeviceInfo acDeviceInfo `json:"deviceInfo"`
}

type acDeviceInfo struct {
	// Climate values are fixed-point: hundredths of a degree Celsius,
	// hundredths of a percent, hundredths of a kPa.
	Temperature int      `json:"temperature"`
	Humidity    int      `json:"humidity"`
	VPDNums     int      `json:"vpdnums"`
	Online      int      `json:"online"`
	Ports       []acPort `json:"ports"`
}

type acPort struct {
	Port      int          `json:"port"`
	PortName  string       `json:"portName"`
	LoadType  int          `json:"loadType"`
	LoadState int          `json:"loadState"`
	Speak     int          `json:"speak"`
	Online    int          `json:"online"`
	CurMode   int          `json:"curMode"`
	ModeSets  []acModeSet  `json:"modeSetList"`
}

type acModeSet struct {
	ModeID       int      `json:"modeId"`
	ModeName     string   `json:"modeName"`
	TempHighF    *float64 `json:"devHtf"`
	TempLowF     *float64 `json:"devLtf"`
	HumidityHigh *float64 `json:"devHh"`
	HumidityLow  *float64 `json:"devLh"`
	VPDHigh      *float64 `json:"vpdHigh"`
	VPDLow       *float64 `json:"vpdLow"`
	Transition   *float64 `json:"transition"`
	Buffer       *float64 `json:"buffer"`
	TimerSec     *int     `json:"timerSec"`
	CycleOnSec   *int     `json:"onSpead"`
	CycleOffSec  *int     `json:"offSpead"`
	SchedStart   *string  `json:"schedStartTime"`
	SchedEnd     *string  `json:"schedEndTime"`
}

// Connect logs into the app API (or reuses a cached token) and binds a
// session to the device identified by externalID.
func (a *ACInfinity) Connect(ctx context.Context, controllerID string, credentials creds.Credentials, externalID string) (Session, error) {
	token, ok := a.tokens.Get(controllerID)
	if !ok {
		fresh, err := a.login(ctx, credentials)
		if err != nil {
			return nil, err
		}
		a.tokens.Put(controllerID, fresh, acTokenTTL)
		token = fresh
	}

	return &acSession{
		adapter:      a,
		controllerID: controllerID,
		token:        token,
		devID:        externalID,
	}, nil
}

func (a *ACInfinity) login(ctx context.Context, credentials creds.Credentials) (string, error) {
	form := url.Values{}
	form.Set("appEmail", credentials.Email)
	form.Set("appPasswordl", credentials.Password)

	envelope, _, err := a.post(ctx, "/api/user/appUserLogin", "", form)
	if err != nil {
		return "", fmt.Errorf("ac_infinity login: %w", err)
	}

	var data acLoginData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return "", fmt.Errorf("decode ac_infinity login data: %w", err)
	}
	if strings.TrimSpace(data.AppID) == "" {
		return "", fmt.Errorf("ac_infinity login succeeded but token is empty")
	}
	return data.AppID, nil
}

func (a *ACInfinity) post(ctx context.Context, endpoint, token string, form url.Values) (acEnvelope, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return acEnvelope{}, nil, fmt.Errorf("create request %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if token != "" {
		req.Header.Set("token", token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return acEnvelope{}, nil, fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return acEnvelope{}, nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	if resp.StatusCode >= 400 {
		return acEnvelope{}, body, fmt.Errorf("%s: %d %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var envelope acEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return acEnvelope{}, body, fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	if envelope.Code != acCodeOK {
		return envelope, body, fmt.Errorf("%s: api code %d: %s", endpoint, envelope.Code, envelope.Msg)
	}
	return envelope, body, nil
}

type acSession struct {
	adapter      *ACInfinity
	controllerID string
	token        string
	devID        string
}

// ReadSensors fetches device-level climate readings only.
func (s *acSession) ReadSensors(ctx context.Context) ([]sensor.Reading, error) {
	device, _, err := s.fetchDevice(ctx)
	if err != nil {
		return nil, err
	}
	return acSensors(device, time.Now().UTC()), nil
}

// ReadSensorsAndPorts fetches climate readings plus port and mode state in
// one call, keeping the raw exchange for the audit table.
func (s *acSession) ReadSensorsAndPorts(ctx context.Context) (RichReadings, error) {
	start := time.Now()
	device, body, err := s.fetchDevice(ctx)
	if err != nil {
		return RichReadings{}, err
	}
	now := time.Now().UTC()

	rich := RichReadings{
		Sensors: acSensors(device, now),
		Capture: &Capture{
			Endpoint:   "/api/user/devInfoListAll",
			Request:    []byte("userId=" + s.token),
			Response:   body,
			LatencyMS:  time.Since(start).Milliseconds(),
			Success:    true,
			CapturedAt: now,
		},
	}

	for _, port := range device.DeviceInfo.Ports {
		raw, _ := json.Marshal(port)
		modeID := port.CurMode
		rich.Ports = append(rich.Ports, PortState{
			Port:            port.Port,
			Name:            port.PortName,
			DeviceType:      acLoadType(port.LoadType),
			Connected:       port.LoadState != 0,
			On:              port.Speak > 0,
			PowerLevel:      port.Speak,
			ModeID:          &modeID,
			SupportsDimming: acSupportsDimming(port.LoadType),
			Online:          port.Online != 0,
			Raw:             raw,
		})

		for _, mode := range port.ModeSets {
			rawMode, _ := json.Marshal(mode)
			rich.Modes = append(rich.Modes, ModeState{
				Port:         port.Port,
				ModeID:       mode.ModeID,
				Name:         mode.ModeName,
				TempHighF:    mode.TempHighF,
				TempLowF:     mode.TempLowF,
				HumidityHigh: mode.HumidityHigh,
				HumidityLow:  mode.HumidityLow,
				VPDHigh:      mode.VPDHigh,
				VPDLow:       mode.VPDLow,
				Transition:   mode.Transition,
				Buffer:       mode.Buffer,
				TimerSec:     mode.TimerSec,
				CycleOnSec:   mode.CycleOnSec,
				CycleOffSec:  mode.CycleOffSec,
				SchedStart:   mode.SchedStart,
				SchedEnd:     mode.SchedEnd,
				Raw:          rawMode,
			})
		}
	}

	return rich, nil
}

// Disconnect is a no-op: the app API has no logout and the token stays
// cached for the next poll.
func (s *acSession) Disconnect(ctx context.Context) error {
	return nil
}

func (s *acSession) fetchDevice(ctx context.Context) (acDevice, []byte, error) {
	form := url.Values{}
	form.Set("userId", s.token)

	envelope, body, err := s.adapter.post(ctx, "/api/user/devInfoListAll", s.token, form)
	if err != nil {
		if envelope.Code == acCodeInvalidToken {
			s.adapter.tokens.Delete(s.controllerID)
		}
		return acDevice{}, nil, fmt.Errorf("ac_infinity device list: %w", err)
	}

	var devices []acDevice
	if err := json.Unmarshal(envelope.Data, &devices); err != nil {
		return acDevice{}, nil, fmt.Errorf("decode ac_infinity device list: %w", err)
	}

	for _, device := range devices {
		if device.DevID == s.devID {
			return device, body, nil
		}
	}
	return acDevice{}, nil, fmt.Errorf("device %s not found in ac_infinity account", s.devID)
}

func acSensors(device acDevice, now time.Time) []sensor.Reading {
	info := device.DeviceInfo
	tempC := float64(info.Temperature) / 100
	tempF := tempC*9/5 + 32

	return []sensor.Reading{
		{Type: sensor.TypeTemperature, Port: 0, Value: tempF, Unit: "°F", RecordedAt: now},
		{Type: sensor.TypeHumidity, Port: 0, Value: float64(info.Humidity) / 100, Unit: "%", RecordedAt: now},
		{Type: sensor.TypeVPD, Port: 0, Value: float64(info.VPDNums) / 100, Unit: "kPa", RecordedAt: now},
	}
}

// Load types as reported by UIS firmware.
func acLoadType(loadType int) string {
	switch loadType {
	case 1:
		return "fan"
	case 2:
		return "light"
	case 3:
		return "humidifier"
	case 4:
		return "heater"
	case 5:
		return "outlet"
	default:
		return "unknown"
	}
}

func acSupportsDimming(loadType int) bool {
	return loadType == 1 || loadType == 2
}
