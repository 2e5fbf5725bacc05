// Package netatmo provides a client for the Netatmo Energy API, the
// target system that is written to so it mirrors Ngenic's intent.
package netatmo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mkarlsson/tunesync/internal/httpkit"
)

// tokenTimeout bounds the OAuth2 grant call.
const tokenTimeout = 10 * time.Second

// Mode is a Netatmo room setpoint mode.
type Mode string

const (
	// ModeManual pins the room to an explicit temperature until the
	// setpoint end time.
	ModeManual Mode = "manual"
	// ModeProgram returns the room to its programmed weekly schedule.
	ModeProgram Mode = "program"
)

// Client is a Netatmo Energy REST API client. Data calls take the
// bearer token as a parameter; the token lifecycle lives in the auth
// package.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	username     string
	password     string
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewClient creates a Netatmo client. baseURL includes scheme and host
// (e.g. "https://api.netatmo.com").
func NewClient(baseURL, clientID, clientSecret, username, password string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		username:     username,
		password:     password,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(2, 2*time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// APIError is a non-2xx response from the Netatmo API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("netatmo API error %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus implements httpkit.StatusError.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// FetchToken performs the OAuth2 password grant and returns a bearer
// token. Satisfies auth.TokenFunc.
func (c *Client) FetchToken(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, tokenTimeout)
	defer cancel()

	form := url.Values{
		"grant_type":    {"password"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"username":      {c.username},
		"password":      {c.password},
		"scope":         {"read_thermostat write_thermostat"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 512)}
	}

	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("token response carried no access_token")
	}
	return result.AccessToken, nil
}

// Setpoint describes one room-state write. Temperature and EndTime are
// only sent when set; a ModeProgram write carries the mode alone.
type Setpoint struct {
	HomeID      string
	RoomID      string
	Mode        Mode
	Temperature *float64 // degrees Celsius
	EndTime     *int64   // unix seconds; when the manual override lapses
}

type setpointRoom struct {
	ID          string   `json:"id"`
	Mode        Mode     `json:"therm_setpoint_mode"`
	Temperature *float64 `json:"therm_setpoint_temperature,omitempty"`
	EndTime     *int64   `json:"therm_setpoint_end_time,omitempty"`
}

type setpointPayload struct {
	Home struct {
		ID    string         `json:"id"`
		Rooms []setpointRoom `json:"rooms"`
	} `json:"home"`
}

// SetRoomThermpoint writes a room setpoint. The Netatmo API applies
// the write atomically per room; the bridge only ever writes one room
// per call.
func (c *Client) SetRoomThermpoint(ctx context.Context, token string, sp Setpoint) error {
	var payload setpointPayload
	payload.Home.ID = sp.HomeID
	payload.Home.Rooms = []setpointRoom{{
		ID:          sp.RoomID,
		Mode:        sp.Mode,
		Temperature: sp.Temperature,
		EndTime:     sp.EndTime,
	}}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode setpoint: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/setthermpoint", strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("setthermpoint %s/%s: %w", sp.HomeID, sp.RoomID, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 512)}
	}
	return nil
}
