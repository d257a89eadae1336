package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Dardin-dale/huginbot-sub000/pkg/notify"
	"github.com/Dardin-dale/huginbot-sub000/pkg/params"
	"github.com/Dardin-dale/huginbot-sub000/pkg/triggers"
)

// handleIdle routes an idle alarm to the monitor and reports its
// verdict. Handler errors are the monitor's own classified errors.
func (s *Server) handleIdle(w http.ResponseWriter, r *http.Request) {
	var sig triggers.IdleAlarm
	if !decodeSignal(w, r, &sig) {
		return
	}

	decision, err := s.alarms.HandleAlarm(r.Context(), sig.AlarmID)
	if err != nil {
		log.Error().Err(err).Str("alarm_id", sig.AlarmID).Msg("Idle alarm handling failed")
		writeError(w, http.StatusBadGateway, "could not act on the alarm")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"decision": string(decision)})
}

// handleInstanceState accepts infrastructure state-change reports. Only
// "stopped" carries meaning here: it is the low-information fallback
// stop signal, routed through the dispatcher's duplicate suppression.
func (s *Server) handleInstanceState(w http.ResponseWriter, r *http.Request) {
	var sig triggers.InstanceStateChange
	if !decodeSignal(w, r, &sig) {
		return
	}

	if s.cfg.InstanceID != "" && sig.InstanceID != s.cfg.InstanceID {
		writeError(w, http.StatusUnprocessableEntity, "report is for a different instance")
		return
	}

	if !sig.Stopped() {
		log.Debug().
			Str("instance_id", sig.InstanceID).
			Str("state", sig.State).
			Msg("Ignoring non-stop state report")
		writeJSON(w, http.StatusAccepted, map[string]string{"result": "ignored"})
		return
	}

	s.events.DispatchFallbackStop(r.Context(), "instance state change")
	writeJSON(w, http.StatusAccepted, map[string]string{"result": "accepted"})
}

// handleReady records the join code and announces the server is up.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	var sig triggers.ServerReady
	if !decodeSignal(w, r, &sig) {
		return
	}

	if sig.JoinCode != "" {
		if err := s.params.IssueJoinCode(r.Context(), sig.JoinCode); err != nil {
			// The announcement still goes out; only the stored copy is
			// lost, and a status read will simply show no code.
			log.Warn().Err(err).Msg("Failed to persist join code")
		}
	}

	s.events.Dispatch(r.Context(), notify.ReadyEvent{
		World:    s.activeWorldName(r.Context()),
		JoinCode: sig.JoinCode,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"result": "accepted"})
}

// handleBackup announces a completed world backup.
func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	var sig triggers.BackupCompleted
	if !decodeSignal(w, r, &sig) {
		return
	}

	log.Info().
		Str("archive", sig.Archive).
		Int64("size_bytes", sig.SizeBytes).
		Msg("Backup completion reported")

	s.events.Dispatch(r.Context(), notify.BackupCompletedEvent{
		World:     s.activeWorldName(r.Context()),
		SizeBytes: sig.SizeBytes,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"result": "accepted"})
}

// handleStopped accepts the game host's own stop report, the
// out-of-band completion of a graceful backup-then-stop.
func (s *Server) handleStopped(w http.ResponseWriter, r *http.Request) {
	var sig triggers.ServerStopped
	if !decodeSignal(w, r, &sig) {
		return
	}

	s.events.Dispatch(r.Context(), notify.StoppedEvent{
		Reason:          sig.Reason,
		BackupCompleted: sig.BackupCompleted,
		BackupError:     sig.BackupError,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"result": "accepted"})
}

// handleStatus reports the combined lifecycle status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.status.Status(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Status read failed")
		writeError(w, http.StatusBadGateway, "server state is temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// activeWorldName is a best-effort read for event rendering.
func (s *Server) activeWorldName(ctx context.Context) string {
	active, err := s.params.ActiveWorld(ctx)
	if err != nil {
		if !errors.Is(err, params.ErrNotFound) {
			log.Warn().Err(err).Msg("Failed to read active world for event rendering")
		}
		return ""
	}
	return active.World.DisplayName
}

// decodeSignal parses and validates a signal body, writing the error
// response itself when the payload is unusable.
func decodeSignal(w http.ResponseWriter, r *http.Request, into any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxSignalBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, "malformed signal body")
		return false
	}

	if err := triggers.Validate(into); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response body")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
