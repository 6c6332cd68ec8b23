package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"enviroflow/internal/creds"
	"enviroflow/internal/sensor"
)

const (
	ecowittDefaultBaseURL = "https://api.ecowitt.net"
	ecowittRequestTimeout = 10 * time.Second
)

// Ecowitt polls the Ecowitt open API (weather stations and WH-series
// sensors). Authentication is key-based, so there is no login phase and no
// token cache; Connect only validates that the device is reachable.
type Ecowitt struct {
	baseURL    string
	httpClient *http.Client
}

// EcowittOption mutates the adapter during construction.
type EcowittOption func(*Ecowitt)

// WithEcowittBaseURL overrides the API base URL (handy for tests).
func WithEcowittBaseURL(base string) EcowittOption {
	return func(a *Ecowitt) {
		a.baseURL = strings.TrimRight(base, "/")
	}
}

// WithEcowittHTTPClient allows configuring a custom http.Client.
func WithEcowittHTTPClient(h *http.Client) EcowittOption {
	return func(a *Ecowitt) {
		a.httpClient = h
	}
}

// NewEcowitt builds the adapter.
func NewEcowitt(opts ...EcowittOption) *Ecowitt {
	a := &Ecowitt{baseURL: ecowittDefaultBaseURL}
	for _, opt := range opts {
		opt(a)
	}
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: ecowittRequestTimeout}
	}
	return a
}

type ecowittEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data ecowittRealtime `json:"data"`
}

type ecowittRealtime struct {
	Indoor  ecowittClimate `json:"indoor"`
	Outdoor ecowittClimate `json:"outdoor"`
	CO2     *ecowittCO2    `json:"co2_aqi_combo"`
	Solar   *ecowittSolar  `json:"solar_and_uvi"`
}

type ecowittClimate struct {
	Temperature *ecowittValue `json:"temperature"`
	Humidity    *ecowittValue `json:"humidity"`
}

type ecowittCO2 struct {
	CO2 *ecowittValue `json:"co2"`
}

type ecowittSolar struct {
	Solar *ecowittValue `json:"solar"`
}

// ecowittValue carries a unit-tagged value; the API reports numbers as
// strings.
type ecowittValue struct {
	Unit  string `json:"unit"`
	Value string `json:"value"`
}

func (v *ecowittValue) float() (float64, bool) {
	if v == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.Value), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Connect binds a session; Ecowitt has no session state to establish.
func (a *Ecowitt) Connect(ctx context.Context, controllerID string, credentials creds.Credentials, externalID string) (Session, error) {
	mac := credentials.MAC
	if strings.TrimSpace(externalID) != "" {
		mac = externalID
	}
	return &ecowittSession{adapter: a, credentials: credentials, mac: mac}, nil
}

type ecowittSession struct {
	adapter     *Ecowitt
	credentials creds.Credentials
	mac         string
}

// ReadSensors fetches the station's current readings. Indoor values win over
// outdoor ones when both are present, since grow rooms mount the sensor
// array inside.
func (s *ecowittSession) ReadSensors(ctx context.Context) ([]sensor.Reading, error) {
	query := url.Values{}
	query.Set("application_key", s.credentials.ApplicationKey)
	query.Set("api_key", s.credentials.APIKey)
	query.Set("mac", s.mac)
	query.Set("call_back", "all")

	endpoint := s.adapter.baseURL + "/api/v3/device/real_time?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create ecowitt request: %w", err)
	}

	resp, err := s.adapter.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ecowitt real_time: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("ecowitt real_time: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var envelope ecowittEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode ecowitt response: %w", err)
	}
	if envelope.Code != 0 {
		return nil, fmt.Errorf("ecowitt real_time: api code %d: %s", envelope.Code, envelope.Msg)
	}

	now := time.Now().UTC()
	var readings []sensor.Reading

	climate := envelope.Data.Indoor
	if climate.Temperature == nil && climate.Humidity == nil {
		climate = envelope.Data.Outdoor
	}
	if value, ok := climate.Temperature.float(); ok {
		readings = append(readings, sensor.Reading{
			Type: sensor.TypeTemperature, Value: value, Unit: "°F", RecordedAt: now,
		})
	}
	if value, ok := climate.Humidity.float(); ok {
		readings = append(readings, sensor.Reading{
			Type: sensor.TypeHumidity, Value: value, Unit: "%", RecordedAt: now,
		})
	}
	if envelope.Data.CO2 != nil {
		if value, ok := envelope.Data.CO2.CO2.float(); ok {
			readings = append(readings, sensor.Reading{
				Type: sensor.TypeCO2, Value: value, Unit: "ppm", RecordedAt: now,
			})
		}
	}
	if envelope.Data.Solar != nil {
		if value, ok := envelope.Data.Solar.Solar.float(); ok {
			// Rough lux conversion from W/m²; good enough for trend display.
			readings = append(readings, sensor.Reading{
				Type: sensor.TypeLight, Value: value * 126.7, Unit: "lux", RecordedAt: now,
			})
		}
	}

	return readings, nil
}

// Disconnect is a no-op; the Ecowitt API is stateless.
func (s *ecowittSession) Disconnect(ctx context.Context) error {
	return nil
}
