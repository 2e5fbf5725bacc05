// Package ngenic provides a client for the Ngenic Tune cloud API, the
// source system whose reported room state is treated as ground truth.
package ngenic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mkarlsson/tunesync/internal/httpkit"
)

// tokenTimeout bounds the token grant call, which is cheap and should
// fail fast. Data calls use the client-wide timeout.
const tokenTimeout = 10 * time.Second

// Client is an Ngenic Tune REST API client. Data calls take the bearer
// token as a parameter; the token lifecycle lives in the auth package.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	refreshToken string
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewClient creates an Ngenic client. baseURL includes scheme and host
// (e.g. "https://api.ngenic.com").
func NewClient(baseURL, clientID, clientSecret, refreshToken string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(2, 2*time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// APIError is a non-2xx response from the Ngenic API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ngenic API error %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus implements httpkit.StatusError.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Override is a user-set manual target on an Ngenic room, as opposed
// to the room following its programmed schedule.
type Override struct {
	Temperature float64 `json:"temperature"`
}

// RoomSnapshot is the live state of one Ngenic room. TargetTemperature
// is nil when the room is following its schedule.
type RoomSnapshot struct {
	UUID               string    `json:"uuid"`
	Name               string    `json:"name"`
	CurrentTemperature float64   `json:"currentTemperature"`
	TargetTemperature  *Override `json:"targetTemperature"`
}

// FetchToken performs the refresh-token grant against the Ngenic auth
// endpoint and returns a bearer token. Satisfies auth.TokenFunc.
func (c *Client) FetchToken(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, tokenTimeout)
	defer cancel()

	grant := struct {
		GrantType    string `json:"grantType"`
		ClientID     string `json:"clientId"`
		ClientSecret string `json:"clientSecret"`
		RefreshToken string `json:"refreshToken"`
	}{
		GrantType:    "refresh_token",
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		RefreshToken: c.refreshToken,
	}

	payload, err := json.Marshal(grant)
	if err != nil {
		return "", fmt.Errorf("encode grant: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/token", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 512)}
	}

	var result struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("token response carried no accessToken")
	}
	return result.AccessToken, nil
}

// GetRoom retrieves the live snapshot for one room.
func (c *Client) GetRoom(ctx context.Context, token, roomUUID string) (*RoomSnapshot, error) {
	url := fmt.Sprintf("%s/v3/tune/rooms/%s", c.baseURL, roomUUID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", roomUUID, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 512)}
	}

	var snapshot RoomSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", roomUUID, err)
	}
	return &snapshot, nil
}
