// Package scheduler holds the manager's two scheduling concerns: the
// per-target MaintenanceTracker (maintenance.go) and the cron-driven
// Scheduler that fires due jobs into it via an Executor.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/fleetops/pkg/log"
	"github.com/cuemby/fleetops/pkg/types"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Executor is the subset of OperationExecutor the scheduler needs;
// kept as an interface here so scheduler does not import the manager
// package (avoids an import cycle and keeps this package testable in
// isolation).
type Executor interface {
	ExecuteAsync(ctx context.Context, opType types.OperationType, target string, isScheduled bool, work func(context.Context) error) (string, error)
}

// JobSpec is one cron registration: fire schedule, target, operation
// type and the work closure to hand to the executor.
type JobSpec struct {
	Schedule string
	Target   string
	Type     types.OperationType
	Work     func(context.Context) error
}

// Scheduler wraps robfig/cron/v3 configured for 6-field, UTC-only
// expressions (spec §4.6). It validates arity at registration time
// and never starts its run loop if nothing was registered, so a
// purely manual deployment incurs no scheduler cost.
type Scheduler struct {
	cron     *cron.Cron
	executor Executor
	logger   zerolog.Logger
	started  bool
}

// NewScheduler constructs a Scheduler bound to an Executor.
func NewScheduler(executor Executor) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
		),
		executor: executor,
		logger:   log.WithComponent("scheduler"),
	}
}

// Register validates the 6-field cron expression and adds the job.
// Validation rejects any other field count, matching spec §4.6's
// "Validation rejects any other arity at registration time."
func (s *Scheduler) Register(spec JobSpec) error {
	if err := validateSixFieldCron(spec.Schedule); err != nil {
		return err
	}

	_, err := s.cron.AddFunc(spec.Schedule, func() {
		logger := s.logger.With().Str("target", spec.Target).Str("operation_type", string(spec.Type)).Logger()
		logger.Info().Msg("firing scheduled operation")

		id, err := s.executor.ExecuteAsync(context.Background(), spec.Type, spec.Target, true, spec.Work)
		if err != nil {
			logger.Error().Err(err).Msg("scheduled operation did not start")
			return
		}
		logger.Info().Str("operation_id", id).Msg("scheduled operation started")
	})
	return err
}

// Start begins the run loop, but only if at least one job is
// registered (spec §4.6: "If no jobs register, the scheduler does not
// start its run loop").
func (s *Scheduler) Start() {
	if len(s.cron.Entries()) == 0 {
		s.logger.Warn().Msg("no jobs registered, scheduler run loop not started")
		return
	}
	s.cron.Start()
	s.started = true
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop halts the run loop if it was started.
func (s *Scheduler) Stop() {
	if !s.started {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func validateSixFieldCron(schedule string) error {
	fields := strings.Fields(schedule)
	if len(fields) != 6 {
		return fmt.Errorf("scheduler: expected 6 fields (sec min hour day month dow), got %d in %q", len(fields), schedule)
	}
	return nil
}
