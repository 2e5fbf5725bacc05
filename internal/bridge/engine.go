// Package bridge implements the reconciliation core: the per-room
// state store, the engine that mirrors Ngenic desired state onto
// Netatmo, and the fixed-interval runner that drives it.
package bridge

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mkarlsson/tunesync/internal/auth"
	"github.com/mkarlsson/tunesync/internal/config"
	"github.com/mkarlsson/tunesync/internal/httpkit"
	"github.com/mkarlsson/tunesync/internal/metrics"
	"github.com/mkarlsson/tunesync/internal/netatmo"
	"github.com/mkarlsson/tunesync/internal/ngenic"
)

// OverrideHorizon is how far into the future a mirrored manual
// override is extended on the target system. Ngenic overrides last
// 1-24 h; pushing the Netatmo end time a full day out guarantees the
// override cannot lapse between passes. Policy constant, deliberately
// not configurable.
const OverrideHorizon = 24 * time.Hour

// SourceClient reads live room state from the source system.
type SourceClient interface {
	GetRoom(ctx context.Context, token, roomUUID string) (*ngenic.RoomSnapshot, error)
}

// TargetClient writes room setpoints to the target system.
type TargetClient interface {
	SetRoomThermpoint(ctx context.Context, token string, sp netatmo.Setpoint) error
}

// TokenSource hands out cached bearer tokens and accepts invalidations
// when a backend rejects one. Satisfied by auth.Manager.
type TokenSource interface {
	Token(ctx context.Context, sys auth.System) (string, error)
	Invalidate(sys auth.System)
}

// Event describes one completed write, published to the live event
// stream.
type Event struct {
	RoomUUID           string   `json:"ngenic_room_uuid"`
	CurrentTemperature *float64 `json:"current_temp,omitempty"`
	Mode               Mode     `json:"mode"`
	Temperature        *float64 `json:"temperature,omitempty"`
	Manual             bool     `json:"manual_control"`
	At                 int64    `json:"at"`
}

// EventSink receives events from the engine. Implementations must not
// block.
type EventSink interface {
	Publish(Event)
}

// PassSummary reports the outcome of one reconciliation pass.
type PassSummary struct {
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
	Reconciled int       `json:"reconciled"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
}

// EngineConfig configures the reconciliation engine.
type EngineConfig struct {
	// Mapping is the static room correspondence, loaded once.
	Mapping []config.RoomMapping

	// Tokens provides bearer tokens for both backends.
	Tokens TokenSource

	// Source reads Ngenic room snapshots.
	Source SourceClient

	// Target writes Netatmo setpoints.
	Target TargetClient

	// Events receives a notification per write. Optional.
	Events EventSink

	// Metrics instruments. A private registry is created when nil.
	Metrics *metrics.Metrics

	// Now is the clock, injectable for tests. Defaults to time.Now.
	Now func() time.Time

	// Logger for structured logging.
	Logger *slog.Logger
}

// Engine is the per-room decision core. Rooms are reconciled
// sequentially within a pass to keep the burst request rate against
// both rate-limited vendor APIs bounded.
type Engine struct {
	cfg   EngineConfig
	store *Store
}

// NewEngine creates a reconciliation engine with a freshly initialized
// state store (every room starts as "never synced").
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(prometheus.NewRegistry())
	}
	uuids := make([]string, len(cfg.Mapping))
	for i, m := range cfg.Mapping {
		uuids[i] = m.NgenicRoomUUID
	}
	return &Engine{
		cfg:   cfg,
		store: NewStore(uuids),
	}
}

// Store exposes the room state store for read-only reporting.
func (e *Engine) Store() *Store {
	return e.store
}

// roundTenth rounds to one decimal place, the resolution both vendor
// UIs display.
func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

// Reconcile runs one pass over every mapped room. Failures are
// isolated per room: a bad snapshot or write is logged and the loop
// moves on, leaving that room's stored state untouched so the next
// pass retries the same write.
func (e *Engine) Reconcile(ctx context.Context) PassSummary {
	summary := PassSummary{Started: e.cfg.Now()}

	for _, m := range e.cfg.Mapping {
		written, err := e.reconcileRoom(ctx, m)
		switch {
		case err != nil:
			summary.Failed++
			e.cfg.Logger.Error("room reconciliation failed",
				"room", m.NgenicRoomUUID,
				"error", err,
			)
		case written:
			summary.Reconciled++
		default:
			summary.Skipped++
			e.cfg.Metrics.RoomsSkipped.Inc()
		}
	}

	summary.Finished = e.cfg.Now()
	e.cfg.Metrics.Passes.Inc()
	e.cfg.Logger.Debug("reconciliation pass finished",
		"reconciled", summary.Reconciled,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
	return summary
}

// reconcileRoom syncs a single room. Returns whether a write was
// issued. The stored state is only updated after a successful write;
// on any failure it stays stale, which is what makes the next pass
// retry.
func (e *Engine) reconcileRoom(ctx context.Context, m config.RoomMapping) (bool, error) {
	ngToken, err := e.cfg.Tokens.Token(ctx, auth.SystemNgenic)
	if err != nil {
		return false, err
	}
	naToken, err := e.cfg.Tokens.Token(ctx, auth.SystemNetatmo)
	if err != nil {
		return false, err
	}

	snap, err := e.cfg.Source.GetRoom(ctx, ngToken, m.NgenicRoomUUID)
	if err != nil {
		e.cfg.Metrics.FetchErrors.WithLabelValues(m.NgenicRoomUUID).Inc()
		if httpkit.IsStatus(err, http.StatusUnauthorized) {
			e.cfg.Tokens.Invalidate(auth.SystemNgenic)
		}
		return false, err
	}
	e.cfg.Metrics.RoomTemperature.WithLabelValues(m.NgenicRoomUUID).Set(snap.CurrentTemperature)

	desired := RoomState{Mode: ModeScheduled}
	if snap.TargetTemperature != nil {
		t := roundTenth(snap.TargetTemperature.Temperature)
		desired = RoomState{Mode: ModeManual, Temperature: &t}
	}

	if prev, ok := e.store.Get(m.NgenicRoomUUID); ok && prev.Equal(desired) {
		return false, nil
	}

	sp := netatmo.Setpoint{
		HomeID: m.NetatmoHomeID,
		RoomID: m.NetatmoRoomID,
		Mode:   netatmo.ModeProgram,
	}
	if desired.Mode == ModeManual && desired.Temperature != nil {
		sp.Mode = netatmo.ModeManual
		sp.Temperature = desired.Temperature
		end := e.cfg.Now().Add(OverrideHorizon).Unix()
		sp.EndTime = &end
	}

	if err := e.cfg.Target.SetRoomThermpoint(ctx, naToken, sp); err != nil {
		e.cfg.Metrics.WriteErrors.WithLabelValues(m.NgenicRoomUUID).Inc()
		if httpkit.IsStatus(err, http.StatusUnauthorized) {
			e.cfg.Tokens.Invalidate(auth.SystemNetatmo)
		}
		return false, err
	}

	e.store.Set(m.NgenicRoomUUID, desired)
	e.cfg.Metrics.RoomsReconciled.Inc()
	e.cfg.Metrics.Writes.WithLabelValues(m.NgenicRoomUUID).Inc()

	if desired.Temperature != nil {
		e.cfg.Logger.Info("room synced",
			"room", m.NgenicRoomUUID,
			"current", snap.CurrentTemperature,
			"mode", string(desired.Mode),
			"target", *desired.Temperature,
		)
	} else {
		e.cfg.Logger.Info("room synced",
			"room", m.NgenicRoomUUID,
			"current", snap.CurrentTemperature,
			"mode", string(desired.Mode),
			"target", "schedule",
		)
	}

	e.publish(Event{
		RoomUUID:           m.NgenicRoomUUID,
		CurrentTemperature: &snap.CurrentTemperature,
		Mode:               desired.Mode,
		Temperature:        desired.Temperature,
		At:                 e.cfg.Now().Unix(),
	})
	return true, nil
}

func (e *Engine) publish(ev Event) {
	if e.cfg.Events != nil {
		e.cfg.Events.Publish(ev)
	}
}
