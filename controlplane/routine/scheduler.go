// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package routine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"maestro/platform/controlplane/runindex"
	"maestro/platform/controlplane/workflow"
	"maestro/platform/shared/logger"
)

// WorkflowRunner executes a routine's workflow when it fires.
type WorkflowRunner interface {
	Execute(ctx context.Context, workItemID, tenantID string, spec workflow.Spec) (*runindex.Run, error)
}

// cronParser accepts standard 5-field expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler owns routines and runs a firing loop per enabled routine.
type Scheduler struct {
	mu         sync.Mutex
	routines   map[string]*Routine
	schedules  map[string]cron.Schedule
	executions map[string][]Execution
	stops      map[string]chan struct{}
	runner     WorkflowRunner
	log        *logger.Logger
	wg         sync.WaitGroup

	// sleepUntil is swapped in tests to fire immediately.
	sleepUntil func(t time.Time, stop <-chan struct{}) bool
}

// NewScheduler creates a scheduler over the given workflow runner.
func NewScheduler(runner WorkflowRunner) *Scheduler {
	return &Scheduler{
		routines:   make(map[string]*Routine),
		schedules:  make(map[string]cron.Schedule),
		executions: make(map[string][]Execution),
		stops:      make(map[string]chan struct{}),
		runner:     runner,
		log:        logger.New("routine-scheduler"),
		sleepUntil: sleepUntil,
	}
}

// parseSchedule resolves the cron expression in its timezone.
func parseSchedule(s Schedule) (cron.Schedule, error) {
	expr := s.Cron
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidCron, s.Timezone)
		}
		expr = "CRON_TZ=" + s.Timezone + " " + expr
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}
	return sched, nil
}

// Create registers a routine. Invalid cron expressions fail fast.
func (s *Scheduler) Create(id, name string, schedule Schedule, spec workflow.Spec, enabled bool) (*Routine, error) {
	sched, err := parseSchedule(schedule)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.routines[id]; exists {
		return nil, ErrRoutineExists
	}
	now := time.Now().UTC()
	routine := &Routine{
		ID:        id,
		Name:      name,
		Schedule:  schedule,
		Workflow:  spec,
		Enabled:   enabled,
		NextRun:   sched.Next(now),
		CreatedAt: now,
	}
	s.routines[id] = routine
	s.schedules[id] = sched
	if enabled {
		s.startLocked(routine)
	}
	clone := *routine
	return &clone, nil
}

// Get returns a routine by id.
func (s *Scheduler) Get(id string) (*Routine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	routine, ok := s.routines[id]
	if !ok {
		return nil, ErrRoutineNotFound
	}
	clone := *routine
	return &clone, nil
}

// List returns all routines sorted by id.
func (s *Scheduler) List() []*Routine {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Routine, 0, len(s.routines))
	for _, routine := range s.routines {
		clone := *routine
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Delete stops and removes a routine.
func (s *Scheduler) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.routines[id]; !ok {
		return ErrRoutineNotFound
	}
	s.stopLocked(id)
	delete(s.routines, id)
	delete(s.schedules, id)
	delete(s.executions, id)
	return nil
}

// Enable starts the routine's firing loop.
func (s *Scheduler) Enable(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	routine, ok := s.routines[id]
	if !ok {
		return ErrRoutineNotFound
	}
	if routine.Enabled {
		return nil
	}
	routine.Enabled = true
	s.startLocked(routine)
	return nil
}

// Disable stops the routine's firing loop.
func (s *Scheduler) Disable(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	routine, ok := s.routines[id]
	if !ok {
		return ErrRoutineNotFound
	}
	routine.Enabled = false
	s.stopLocked(id)
	return nil
}

// Executions returns a routine's firing history, oldest first.
func (s *Scheduler) Executions(id string) ([]Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.routines[id]; !ok {
		return nil, ErrRoutineNotFound
	}
	return append([]Execution(nil), s.executions[id]...), nil
}

// Shutdown stops every firing loop and waits for them to exit.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	for id := range s.stops {
		s.stopLocked(id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) startLocked(routine *Routine) {
	if _, running := s.stops[routine.ID]; running {
		return
	}
	stop := make(chan struct{})
	s.stops[routine.ID] = stop
	s.wg.Add(1)
	go s.runLoop(routine.ID, stop)
}

func (s *Scheduler) stopLocked(id string) {
	if stop, ok := s.stops[id]; ok {
		close(stop)
		delete(s.stops, id)
	}
}

// runLoop fires the routine at each cron boundary until stopped or the
// routine is disabled.
func (s *Scheduler) runLoop(id string, stop <-chan struct{}) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		routine, ok := s.routines[id]
		if !ok || !routine.Enabled {
			s.mu.Unlock()
			return
		}
		sched := s.schedules[id]
		next := sched.Next(time.Now())
		routine.NextRun = next.UTC()
		spec := routine.Workflow
		s.mu.Unlock()

		if !s.sleepUntil(next, stop) {
			return
		}

		executedAt := time.Now().UTC()
		run, err := s.runner.Execute(context.Background(), "routine:"+id, "", spec)

		execution := Execution{
			RoutineID:   id,
			ScheduledAt: next.UTC(),
			ExecutedAt:  executedAt,
			Status:      ExecutionSucceeded,
		}
		if run != nil {
			execution.RunID = run.ID
			if run.Status != runindex.RunCompleted {
				execution.Status = ExecutionFailed
				execution.Error = run.Error
			}
		}
		if err != nil {
			execution.Status = ExecutionFailed
			execution.Error = err.Error()
			s.log.ErrorWithErr("", "", "routine firing failed", err, map[string]interface{}{
				"routine_id": id,
			})
		}

		s.mu.Lock()
		s.executions[id] = append(s.executions[id], execution)
		if routine, ok := s.routines[id]; ok {
			routine.LastRun = &executedAt
		}
		s.mu.Unlock()
	}
}

// sleepUntil blocks until t or the stop channel closes; it reports
// whether the deadline was reached.
func sleepUntil(t time.Time, stop <-chan struct{}) bool {
	timer := time.NewTimer(time.Until(t))
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	}
}
