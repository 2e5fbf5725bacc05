package bridge

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mkarlsson/tunesync/internal/auth"
	"github.com/mkarlsson/tunesync/internal/httpkit"
	"github.com/mkarlsson/tunesync/internal/netatmo"
)

// RoomStatus is one row of the status report. NgenicTarget is either
// the override temperature (number) or the string "schedule";
// CurrentTemperature and NgenicTarget are nil when the live snapshot
// could not be fetched.
type RoomStatus struct {
	NgenicRoomUUID     string   `json:"ngenic_room_uuid"`
	CurrentTemperature *float64 `json:"current_temp"`
	NgenicTarget       any      `json:"ngenic_target"`
	LastSynced         *float64 `json:"last_synced_to_netatmo"`
}

// Status reports the live source snapshot plus the last synced value
// for every mapped room. Read-only: the state store is never mutated
// here. A room whose snapshot fetch fails is still listed, with nil
// live fields.
func (e *Engine) Status(ctx context.Context) ([]RoomStatus, error) {
	token, err := e.cfg.Tokens.Token(ctx, auth.SystemNgenic)
	if err != nil {
		return nil, err
	}

	statuses := make([]RoomStatus, 0, len(e.cfg.Mapping))
	for _, m := range e.cfg.Mapping {
		st := RoomStatus{NgenicRoomUUID: m.NgenicRoomUUID}

		if stored, ok := e.store.Get(m.NgenicRoomUUID); ok {
			st.LastSynced = stored.Temperature
		}

		snap, err := e.cfg.Source.GetRoom(ctx, token, m.NgenicRoomUUID)
		if err != nil {
			if httpkit.IsStatus(err, http.StatusUnauthorized) {
				e.cfg.Tokens.Invalidate(auth.SystemNgenic)
			}
			e.cfg.Logger.Error("status snapshot failed", "room", m.NgenicRoomUUID, "error", err)
			statuses = append(statuses, st)
			continue
		}

		st.CurrentTemperature = &snap.CurrentTemperature
		if snap.TargetTemperature != nil {
			st.NgenicTarget = snap.TargetTemperature.Temperature
		} else {
			st.NgenicTarget = "schedule"
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// ManualOverride pins every mapped room to the given temperature for
// the given number of hours.
//
// It deliberately bypasses the state store, neither checking nor
// updating it, exactly like the manual endpoints it replaces. The
// next scheduled pass compares against the *source* system's state and
// will overwrite this override if Ngenic reports anything different.
// That race is documented behavior, not a bug: manual control is a
// stopgap until the user changes the source side.
func (e *Engine) ManualOverride(ctx context.Context, temperature float64, hours int) error {
	token, err := e.cfg.Tokens.Token(ctx, auth.SystemNetatmo)
	if err != nil {
		return err
	}

	end := e.cfg.Now().Add(time.Duration(hours) * time.Hour).Unix()
	var failed int
	for _, m := range e.cfg.Mapping {
		sp := netatmo.Setpoint{
			HomeID:      m.NetatmoHomeID,
			RoomID:      m.NetatmoRoomID,
			Mode:        netatmo.ModeManual,
			Temperature: &temperature,
			EndTime:     &end,
		}
		if err := e.cfg.Target.SetRoomThermpoint(ctx, token, sp); err != nil {
			failed++
			if httpkit.IsStatus(err, http.StatusUnauthorized) {
				e.cfg.Tokens.Invalidate(auth.SystemNetatmo)
			}
			e.cfg.Logger.Error("manual override write failed", "room", m.NgenicRoomUUID, "error", err)
			continue
		}
		e.publish(Event{
			RoomUUID:    m.NgenicRoomUUID,
			Mode:        ModeManual,
			Temperature: &temperature,
			Manual:      true,
			At:          e.cfg.Now().Unix(),
		})
	}
	if failed == len(e.cfg.Mapping) {
		return fmt.Errorf("manual override failed for all %d rooms", failed)
	}
	e.cfg.Logger.Info("manual override applied", "temperature", temperature, "hours", hours, "failed_rooms", failed)
	return nil
}

// ReleaseToSchedule returns every mapped room to its Netatmo schedule.
// Same store bypass and scheduler race as ManualOverride.
func (e *Engine) ReleaseToSchedule(ctx context.Context) error {
	token, err := e.cfg.Tokens.Token(ctx, auth.SystemNetatmo)
	if err != nil {
		return err
	}

	var failed int
	for _, m := range e.cfg.Mapping {
		sp := netatmo.Setpoint{
			HomeID: m.NetatmoHomeID,
			RoomID: m.NetatmoRoomID,
			Mode:   netatmo.ModeProgram,
		}
		if err := e.cfg.Target.SetRoomThermpoint(ctx, token, sp); err != nil {
			failed++
			if httpkit.IsStatus(err, http.StatusUnauthorized) {
				e.cfg.Tokens.Invalidate(auth.SystemNetatmo)
			}
			e.cfg.Logger.Error("release write failed", "room", m.NgenicRoomUUID, "error", err)
			continue
		}
		e.publish(Event{
			RoomUUID: m.NgenicRoomUUID,
			Mode:     ModeScheduled,
			Manual:   true,
			At:       e.cfg.Now().Unix(),
		})
	}
	if failed == len(e.cfg.Mapping) {
		return fmt.Errorf("release failed for all %d rooms", failed)
	}
	e.cfg.Logger.Info("all rooms released to schedule", "failed_rooms", failed)
	return nil
}
