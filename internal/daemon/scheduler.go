package daemon

import (
	"fmt"
	"log/slog"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"git.home.luguber.info/inful/cirunner/internal/config"
	"git.home.luguber.info/inful/cirunner/internal/logfields"
)

// scheduler triggers runs on the descriptor's schedule, either a fixed
// interval or a cron expression.
type scheduler struct {
	gs     gocron.Scheduler
	daemon *Daemon
	jobID  uuid.UUID
}

func newScheduler(d *Daemon) (*scheduler, error) {
	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &scheduler{gs: gs, daemon: d}, nil
}

// Apply replaces the scheduled job with one matching the descriptor's
// schedule section. A nil schedule removes any existing job.
func (s *scheduler) Apply(sc *config.ScheduleConfig) error {
	if s.jobID != uuid.Nil {
		if err := s.gs.RemoveJob(s.jobID); err != nil {
			slog.Debug("Could not remove previous schedule", logfields.Error(err))
		}
		s.jobID = uuid.Nil
	}

	if sc == nil {
		return nil
	}

	var def gocron.JobDefinition
	var name string
	switch {
	case sc.Cron != "":
		def = gocron.CronJob(sc.Cron, false)
		name = "cron " + sc.Cron
	case sc.Interval > 0:
		def = gocron.DurationJob(sc.Interval.Std())
		name = "every " + sc.Interval.Std().String()
	default:
		return nil
	}

	job, err := s.gs.NewJob(
		def,
		gocron.NewTask(func() { s.daemon.Trigger("schedule: " + name) }),
		gocron.WithName("pipeline-schedule"),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule runs (%s): %w", name, err)
	}

	s.jobID = job.ID()
	slog.Info("Run schedule active", logfields.ScheduleName(name))
	return nil
}

// Start begins the scheduler.
func (s *scheduler) Start() {
	s.gs.Start()
}

// Stop shuts the scheduler down, waiting for a running task callback.
func (s *scheduler) Stop() {
	if err := s.gs.Shutdown(); err != nil {
		slog.Error("Error stopping scheduler", logfields.Error(err))
	}
}
