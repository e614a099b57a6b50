// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine orders and evaluates a pipeline's steps, memoising results
// for the duration of one pass: reset every step, evaluate in declared order
// inside a failure barrier, call the observer after each step, and
// special-case an UnmergeResolve step to adopt its resolved branches when an
// environment starts with an empty branch list.
package engine

import (
	"context"
	"fmt"

	"github.com/branchctl/branchctl/internal/domain"
	"github.com/branchctl/branchctl/internal/logging"
	"github.com/branchctl/branchctl/internal/pipeline/step"
	"github.com/branchctl/branchctl/pkg/metrics"
)

// UnmergeProvider is implemented by the UnmergeResolve step kind so the
// engine can apply the recovery hook without importing internal/steps
// (which itself depends on this package for Pipeline/Observer).
type UnmergeProvider interface {
	step.Step
	// Resolved returns the (branch, commit) pairs recovered on the most
	// recent evaluation, and whether evaluation succeeded.
	Resolved() ([]domain.BranchPin, bool)
}

// StepStatus is one entry of a pipeline's steps_view: a step's name plus its
// terminal status for the pass just completed.
type StepStatus struct {
	Name   string
	Status step.Status
	Err    *step.Failure
}

// Observer is invoked after every step evaluation within a pass, letting the
// control loop publish incremental snapshots to subscribers.
type Observer func(env *domain.Environment, s StepStatus)

// Pipeline is the ordered, named sequence of steps attached to one
// environment. Steps die with the environment that owns them.
type Pipeline struct {
	Env   *domain.Environment
	Steps []step.Step
}

// RunPass resets every step then evaluates them in declared order, applying
// the UnmergeResolve recovery hook and invoking observer after each step.
// A step's failure never aborts the remaining steps in the pass.
func RunPass(ctx context.Context, p *Pipeline, observer Observer) []StepStatus {
	logger := logging.FromContext(ctx).With("env_id", p.Env.ID)
	ctx = logging.NewContext(ctx, logger)

	for _, s := range p.Steps {
		s.Reset()
	}

	results := make([]StepStatus, 0, len(p.Steps))
	for _, s := range p.Steps {
		_, err := s.Evaluate(ctx)
		st := StepStatus{Name: s.Name(), Status: s.Status()}
		metrics.StepExecutions.WithLabelValues(s.Name(), st.Status.String()).Inc()
		if err != nil {
			st.Err = step.AsFailure(err)
			logger.Warn("step failed", "step", s.Name(), "error", st.Err.Error())
		} else {
			logger.Debug("step ok", "step", s.Name())
		}
		results = append(results, st)

		if up, ok := s.(UnmergeProvider); ok && len(p.Env.Branches) == 0 {
			if pairs, ok := up.Resolved(); ok {
				p.Env.Branches = pairs
				logger.Info("adopted resolved branches from unmerge", "count", len(pairs))
			}
		}

		if observer != nil {
			observer(p.Env, st)
		}
	}
	return results
}

// AllTerminal reports whether every status in results is OK or Failed — the
// invariant that no step is left pending after a pass.
func AllTerminal(results []StepStatus) error {
	for _, r := range results {
		if r.Status == step.Pending {
			return fmt.Errorf("step %q left pending after pass", r.Name)
		}
	}
	return nil
}
