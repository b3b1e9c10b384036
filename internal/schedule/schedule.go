package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/signal-controller/internal/api"
	"github.com/thatsimonsguy/signal-controller/internal/model"
)

const resultTimeout = 5 * time.Second

// Submitter queues a raw command body for the scheduling loop.
type Submitter interface {
	Submit(raw []byte) (<-chan api.Response, error)
}

type Entry struct {
	ID      cron.EntryID
	Spec    string
	Command model.Command
}

// Scheduler fires configured commands on cron specs. Jobs only enqueue; the
// scheduling loop applies them like any HTTP request.
type Scheduler struct {
	cron    *cron.Cron
	submit  Submitter
	entries []Entry
	tasks   int
}

func New(submit Submitter) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		submit: submit,
	}
}

// Add registers cmd to run on spec, e.g. "30 6 * * 1-5" or "@every 1h".
func (s *Scheduler) Add(spec string, cmd model.Command) (cron.EntryID, error) {
	if !cmd.Valid() {
		return 0, fmt.Errorf("invalid scheduled command %s %s", cmd.Target, cmd.Action)
	}
	id, err := s.cron.AddFunc(spec, func() { s.Fire(cmd) })
	if err != nil {
		return 0, fmt.Errorf("add schedule %q: %w", spec, err)
	}
	s.entries = append(s.entries, Entry{ID: id, Spec: spec, Command: cmd})
	log.Info().Int("id", int(id)).Str("spec", spec).Str("target", string(cmd.Target)).Str("action", string(cmd.Action)).Msg("Added schedule")
	return id, nil
}

// AddTask registers a housekeeping job, such as journal pruning, on spec.
func (s *Scheduler) AddTask(spec, name string, task func()) (cron.EntryID, error) {
	id, err := s.cron.AddFunc(spec, task)
	if err != nil {
		return 0, fmt.Errorf("add task %s %q: %w", name, spec, err)
	}
	s.tasks++
	log.Info().Int("id", int(id)).Str("spec", spec).Str("task", name).Msg("Added task")
	return id, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Int("entries", len(s.entries)).Int("tasks", s.tasks).Msg("Cron scheduler started")
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info().Msg("Cron scheduler stopped")
}

// Fire submits cmd and waits for the loop to process it.
func (s *Scheduler) Fire(cmd model.Command) (api.Response, error) {
	reply, err := s.submit.Submit(api.Encode(cmd))
	if err != nil {
		log.Warn().Err(err).Str("target", string(cmd.Target)).Msg("Scheduled command not queued")
		return api.Response{}, err
	}

	select {
	case resp := <-reply:
		log.Info().
			Str("target", string(cmd.Target)).
			Str("action", string(cmd.Action)).
			Int("status", resp.Status).
			Msg("Scheduled command processed")
		return resp, nil
	case <-time.After(resultTimeout):
		log.Warn().Str("target", string(cmd.Target)).Msg("Scheduled command still pending")
		return api.Response{}, fmt.Errorf("scheduled command %s %s: no result after %s", cmd.Target, cmd.Action, resultTimeout)
	}
}
