// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

// Package controlloop implements the periodic driver: a loop that takes a
// process-wide exclusive lock for the duration of one pass over every
// environment, then waits on an update event with a 60-second timeout. Any
// operator edit signals the event early via a buffered wake channel.
package controlloop

import (
	"context"
	"sync"
	"time"

	"github.com/branchctl/branchctl/internal/domain"
	"github.com/branchctl/branchctl/internal/logging"
	"github.com/branchctl/branchctl/internal/pipeline/engine"
	"github.com/branchctl/branchctl/pkg/metrics"
)

// WakeTimeout is the bounded wait from §4.3/§5: a quiescent controller
// still polls every 60 seconds.
const WakeTimeout = 60 * time.Second

// PublishFunc is invoked with one environment and the statuses of its steps
// finished so far in the pass after every step, and once more with the
// whole pass's statuses after the pass completes.
type PublishFunc func(env *domain.Environment, results []engine.StepStatus)

// BranchRefresher refreshes branch snapshots for all environments after a
// pass, collapsed into the single driver under its exclusive-lock contract.
type BranchRefresher func(ctx context.Context, envs []*domain.Environment)

// PipelineBuilder constructs the ordered pipeline for one environment. It is
// called exactly once per environment, at Loop construction time — per the
// data model, an environment's steps are created once with its pipeline and
// die with it; only their caches are reset every pass.
type PipelineBuilder func(env *domain.Environment) *engine.Pipeline

// Loop is the single driver described in §4.3 and §5.
type Loop struct {
	mu          sync.Mutex
	wake        chan struct{}
	envs        []*domain.Environment
	pipelines   []*engine.Pipeline
	publish     PublishFunc
	refresh     BranchRefresher
	wakeTimeout time.Duration
}

// New constructs a Loop over the given environments, building each one's
// pipeline exactly once via build. The bounded poll wait defaults to
// WakeTimeout; override it with SetPollInterval.
func New(envs []*domain.Environment, build PipelineBuilder, publish PublishFunc, refresh BranchRefresher) *Loop {
	pipelines := make([]*engine.Pipeline, len(envs))
	for i, env := range envs {
		pipelines[i] = build(env)
	}
	return &Loop{
		wake:        make(chan struct{}, 1),
		envs:        envs,
		pipelines:   pipelines,
		publish:     publish,
		refresh:     refresh,
		wakeTimeout: WakeTimeout,
	}
}

// SetPollInterval overrides the bounded poll wait, per the configurable
// poll_interval surface in §6. A non-positive d is ignored.
func (l *Loop) SetPollInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wakeTimeout = d
}

// WakeEarly signals the wake event, shortening the current wait. Safe to
// call from any goroutine, including federation/operator-update handlers;
// it never blocks.
func (l *Loop) WakeEarly() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run blocks, alternating passes and bounded waits, until ctx is cancelled.
// Two passes never overlap — RunPass is only ever invoked while l.mu is
// held — and an operator edit applied during a pass is only observed by the
// next pass, per §4.3's "post-pass state" guarantee.
func (l *Loop) Run(ctx context.Context) {
	logger := logging.FromContext(ctx)
	for {
		l.runPass(ctx)

		select {
		case <-ctx.Done():
			return
		case <-l.wake:
			logger.Debug("control loop woken early")
		case <-time.After(l.pollInterval()):
		}
	}
}

func (l *Loop) pollInterval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wakeTimeout
}

func (l *Loop) runPass(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	defer func() {
		metrics.PassDuration.WithLabelValues().Observe(time.Since(start).Seconds())
	}()

	for i, env := range l.envs {
		var sofar []engine.StepStatus
		results := engine.RunPass(ctx, l.pipelines[i], func(e *domain.Environment, st engine.StepStatus) {
			sofar = append(sofar, st)
			if l.publish != nil {
				l.publish(e, append([]engine.StepStatus(nil), sofar...))
			}
		})
		if l.publish != nil {
			l.publish(env, results)
		}
	}

	if l.refresh != nil {
		l.refresh(ctx, l.envs)
	}
}

// ApplyOperatorEdit replaces the named environment's branch set, per the
// inbound `{id, branches}` operator-update message in §6, then wakes the
// loop. The exclusive lock ensures this never races a running pass.
func (l *Loop) ApplyOperatorEdit(id string, branches []domain.BranchPin) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, env := range l.envs {
		if env.ID == id {
			env.Branches = branches
			l.WakeEarly()
			return true
		}
	}
	return false
}

// Snapshot returns the current environments, for building the external
// snapshot payload (§6) outside of a pass.
func (l *Loop) Snapshot() []*domain.Environment {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*domain.Environment(nil), l.envs...)
}
