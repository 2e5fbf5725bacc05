package ngenic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mkarlsson/tunesync/internal/httpkit"
)

func TestFetchToken_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/token" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON grant, got Content-Type %q", ct)
		}
		var grant struct {
			GrantType    string `json:"grantType"`
			ClientID     string `json:"clientId"`
			RefreshToken string `json:"refreshToken"`
		}
		if err := json.NewDecoder(r.Body).Decode(&grant); err != nil {
			t.Fatalf("decode grant: %v", err)
		}
		if grant.GrantType != "refresh_token" {
			t.Errorf("expected refresh_token grant, got %q", grant.GrantType)
		}
		if grant.ClientID != "tune_web" {
			t.Errorf("expected client id tune_web, got %q", grant.ClientID)
		}
		if grant.RefreshToken != "refresh-1" {
			t.Errorf("expected refresh token refresh-1, got %q", grant.RefreshToken)
		}
		json.NewEncoder(w).Encode(map[string]string{"accessToken": "bearer-ng"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tune_web", "secret", "refresh-1", nil)
	tok, err := c.FetchToken(context.Background())
	if err != nil {
		t.Fatalf("FetchToken: %v", err)
	}
	if tok != "bearer-ng" {
		t.Errorf("expected bearer-ng, got %q", tok)
	}
}

func TestFetchToken_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("bad refresh token"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tune_web", "secret", "stale", nil)
	_, err := c.FetchToken(context.Background())
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !httpkit.IsStatus(err, http.StatusUnauthorized) {
		t.Errorf("expected a 401 StatusError, got %v", err)
	}
}

func TestFetchToken_EmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tune_web", "secret", "refresh-1", nil)
	if _, err := c.FetchToken(context.Background()); err == nil {
		t.Fatal("expected error for empty accessToken")
	}
}

func TestGetRoom_WithOverride(t *testing.T) {
	const roomUUID = "6cd0d3b8-3b0c-4b5e-9a39-2f8a7c8e3d11"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/tune/rooms/"+roomUUID {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer bearer-ng" {
			t.Errorf("expected bearer header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"uuid": "` + roomUUID + `",
			"name": "Living room",
			"currentTemperature": 20.6,
			"targetTemperature": {"temperature": 22.5}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tune_web", "secret", "refresh-1", nil)
	snap, err := c.GetRoom(context.Background(), "bearer-ng", roomUUID)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if snap.CurrentTemperature != 20.6 {
		t.Errorf("expected current 20.6, got %v", snap.CurrentTemperature)
	}
	if snap.TargetTemperature == nil || snap.TargetTemperature.Temperature != 22.5 {
		t.Errorf("expected override 22.5, got %+v", snap.TargetTemperature)
	}
}

func TestGetRoom_NoOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"uuid": "u", "currentTemperature": 19.2}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tune_web", "secret", "refresh-1", nil)
	snap, err := c.GetRoom(context.Background(), "bearer-ng", "u")
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if snap.TargetTemperature != nil {
		t.Errorf("expected nil override for scheduled room, got %+v", snap.TargetTemperature)
	}
}

func TestGetRoom_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("no such room"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tune_web", "secret", "refresh-1", nil)
	_, err := c.GetRoom(context.Background(), "bearer-ng", "missing")
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !httpkit.IsStatus(err, http.StatusNotFound) {
		t.Errorf("expected a 404 StatusError, got %v", err)
	}
}
