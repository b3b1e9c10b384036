package controller

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/signal-controller/db"
	"github.com/thatsimonsguy/signal-controller/internal/api"
	"github.com/thatsimonsguy/signal-controller/internal/datadog"
	"github.com/thatsimonsguy/signal-controller/internal/model"
	"github.com/thatsimonsguy/signal-controller/internal/mqtt"
	"github.com/thatsimonsguy/signal-controller/internal/notifications"
)

// Recorder fans command results and connectivity transitions out to the
// journal, metrics, MQTT and notifications. Any sink may be nil. Sink
// failures are logged and never affect the command response.
type Recorder struct {
	DB       *sql.DB
	Metrics  *datadog.Metrics
	MQTT     *mqtt.Publisher
	Notifier *notifications.Notifier
}

func Outcome(status int) model.Outcome {
	switch status {
	case http.StatusOK:
		return model.OutcomeApplied
	case http.StatusBadRequest:
		return model.OutcomeMalformed
	default:
		return model.OutcomeFaulted
	}
}

// OnResult matches api.ResultListener.
func (r *Recorder) OnResult(raw []byte, resp api.Response) {
	outcome := Outcome(resp.Status)

	if r.DB != nil {
		entry := model.JournalEntry{
			Target:  resp.Command.Target,
			Action:  resp.Command.Action,
			Outcome: outcome,
			State:   resp.State,
		}
		if resp.Err != nil {
			entry.Error = resp.Err.Error()
		}
		if _, err := db.RecordCommand(r.DB, entry); err != nil {
			log.Warn().Err(err).Msg("Failed to journal command")
		}
	}

	r.Metrics.CommandOutcome(outcome)

	switch outcome {
	case model.OutcomeApplied:
		r.Metrics.OutputState(resp.State)
		r.MQTT.PublishState(resp.State)
	case model.OutcomeFaulted:
		log.Error().Err(resp.Err).Str("target", string(resp.Command.Target)).Str("action", string(resp.Command.Action)).Msg("Hardware fault applying command")
		r.Notifier.SendAsync("Hardware fault", fmt.Sprintf("%s %s failed: %v", resp.Command.Target, resp.Command.Action, resp.Err))
	}
}

// OnConnectivity matches connectivity.StateListener.
func (r *Recorder) OnConnectivity(from, to model.ConnectivityState, addr model.NetworkAddress) {
	log.Info().Str("from", string(from)).Str("to", string(to)).Str("address", string(addr)).Msg("Connectivity changed")

	if r.DB != nil {
		if _, err := db.RecordConnectivity(r.DB, model.ConnectivityEvent{From: from, To: to, Address: addr}); err != nil {
			log.Warn().Err(err).Msg("Failed to journal connectivity change")
		}
	}
	r.Metrics.Connectivity(to)
	r.MQTT.PublishConnectivity(to, addr)
}

// PruneJournal drops journal rows older than retention. It runs from the cron
// scheduler, outside the scheduling loop.
func (r *Recorder) PruneJournal(retention time.Duration) {
	if r.DB == nil || retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)
	commands, events, err := db.Prune(r.DB, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to prune journal")
		return
	}
	log.Info().
		Int64("commands", commands).
		Int64("connectivity_events", events).
		Time("cutoff", cutoff).
		Msg("Pruned journal")
}

// OnShutdownError records a failure to drive outputs safe during shutdown.
func (r *Recorder) OnShutdownError(err error) {
	if err == nil {
		return
	}
	if sendErr := r.Notifier.Send("Shutdown fault", err.Error()); sendErr != nil && !errors.Is(sendErr, notifications.ErrDisabled) {
		log.Warn().Err(sendErr).Msg("Failed to send shutdown notification")
	}
}
