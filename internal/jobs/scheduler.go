/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package jobs runs the periodic batch work: expiring lapsed subscriptions,
// clearing matured commissions and reminding owners whose trials end soon.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"entitlement-engine-go/internal/metrics"
	"entitlement-engine-go/internal/models"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job names, also used as metric labels.
const (
	JobSweep          = "sweep"
	JobClearance      = "clearance"
	JobTrialReminders = "trial_reminders"
)

type Sweeper interface {
	SweepExpirations(ctx context.Context, now time.Time) ([]string, error)
	RemindEndingTrials(ctx context.Context, now time.Time, lead time.Duration) (int, error)
}

type Clearer interface {
	ConfirmMatured(ctx context.Context, now time.Time) (int64, error)
}

type job struct {
	name     string
	schedule string
	run      func(ctx context.Context, now time.Time) (int64, error)
}

// Scheduler owns a cron instance and the jobs registered on it. A job never
// overlaps with itself; a tick that fires while the previous run is still
// going is skipped.
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]job
	metrics *metrics.Metrics
	now     func() time.Time

	running sync.Map
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(subs Sweeper, ledger Clearer, cfg models.JobsConfig, m *metrics.Metrics) (*Scheduler, error) {
	lead := cfg.TrialReminderLead
	if lead <= 0 {
		lead = 72 * time.Hour
	}

	s := &Scheduler{
		cron:    cron.New(),
		jobs:    make(map[string]job),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	defs := []job{
		{
			name:     JobSweep,
			schedule: cfg.SweepSchedule,
			run: func(ctx context.Context, now time.Time) (int64, error) {
				expired, err := subs.SweepExpirations(ctx, now)
				return int64(len(expired)), err
			},
		},
		{
			name:     JobClearance,
			schedule: cfg.ClearanceSchedule,
			run:      ledger.ConfirmMatured,
		},
		{
			name:     JobTrialReminders,
			schedule: cfg.TrialReminderSchedule,
			run: func(ctx context.Context, now time.Time) (int64, error) {
				n, err := subs.RemindEndingTrials(ctx, now, lead)
				return int64(n), err
			},
		},
	}

	for _, j := range defs {
		s.jobs[j.name] = j
		if j.schedule == "" {
			zap.L().Info("Job disabled", zap.String("job", j.name))
			continue
		}
		name := j.name
		if _, err := s.cron.AddFunc(j.schedule, func() { s.tick(name) }); err != nil {
			return nil, fmt.Errorf("invalid schedule %q for job %s: %w", j.schedule, j.name, err)
		}
	}
	return s, nil
}

// Names lists the registered jobs.
func (s *Scheduler) Names() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) Start() {
	zap.L().Info("Starting job scheduler", zap.Int("entries", len(s.cron.Entries())))
	s.cron.Start()
}

// Stop halts the schedule, cancels in-flight runs and waits for them to
// return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	zap.L().Info("Stopping job scheduler")
	done := s.cron.Stop()
	s.cancel()

	select {
	case <-done.Done():
		zap.L().Info("Job scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job scheduler did not stop in time: %w", ctx.Err())
	}
}

func (s *Scheduler) tick(name string) {
	if _, busy := s.running.LoadOrStore(name, struct{}{}); busy {
		zap.L().Warn("Previous run still in progress, skipping", zap.String("job", name))
		return
	}
	defer s.running.Delete(name)

	if _, err := s.Run(s.ctx, name); err != nil {
		zap.L().Error("Scheduled job failed", zap.String("job", name), zap.Error(err))
	}
}

// Run executes one job immediately and returns how many items it touched.
func (s *Scheduler) Run(ctx context.Context, name string) (int64, error) {
	j, ok := s.jobs[name]
	if !ok {
		return 0, fmt.Errorf("%w: unknown job %q", models.ErrInvalidArgument, name)
	}

	started := time.Now()
	items, err := j.run(ctx, s.now())
	s.metrics.ObserveJob(name, started, items, err)
	if err != nil {
		return items, fmt.Errorf("job %s: %w", name, err)
	}

	zap.L().Info("Job finished",
		zap.String("job", name),
		zap.Int64("items", items),
		zap.Duration("took", time.Since(started)))
	return items, nil
}
