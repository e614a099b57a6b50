// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

package steps

import (
	"context"

	"github.com/branchctl/branchctl/internal/domain"
	"github.com/branchctl/branchctl/internal/pipeline/step"
	"github.com/branchctl/branchctl/internal/unmerge"
)

// UnmergeResolveResult is UnmergeResolve's output: the recovered (branch,
// commit) pairs.
type UnmergeResolveResult struct {
	Pairs []unmerge.Pair
}

// UnmergeResolve depends on SourceClone and StackInspect, reverse-engineering
// the branch set that produced the currently running deployment's version.
// The engine's recovery hook (engine.UnmergeProvider) adopts this result
// into env.Branches when the environment starts with an empty branch list.
type UnmergeResolve struct {
	*step.Memo[UnmergeResolveResult]
}

// NewUnmergeResolve constructs an UnmergeResolve step.
func NewUnmergeResolve(clone *SourceClone, inspect *StackInspect) *UnmergeResolve {
	s := &UnmergeResolve{}
	s.Memo = step.NewMemo("UnmergeResolve", func(ctx context.Context) (UnmergeResolveResult, error) {
		cr, err := clone.Value(ctx)
		if err != nil {
			return UnmergeResolveResult{}, err
		}
		snapshot, err := inspect.Value(ctx)
		if err != nil {
			return UnmergeResolveResult{}, err
		}
		planner := &unmerge.Planner{Repo: cr.Repo}
		pairs, err := planner.Plan(snapshot)
		if err != nil {
			return UnmergeResolveResult{}, step.NewFailure("%v", err)
		}
		return UnmergeResolveResult{Pairs: pairs}, nil
	})
	return s
}

// Resolved implements engine.UnmergeProvider: it returns the (branch,
// commit) pairs recovered on the most recent evaluation, and whether that
// evaluation succeeded, without triggering a new evaluation.
func (s *UnmergeResolve) Resolved() ([]domain.BranchPin, bool) {
	if s.Status() != step.OK {
		return nil, false
	}
	result, err := s.Value(context.Background())
	if err != nil {
		return nil, false
	}
	pins := make([]domain.BranchPin, 0, len(result.Pairs))
	for _, p := range result.Pairs {
		pins = append(pins, domain.BranchPin{Branch: p.Branch, Pin: p.CommitID})
	}
	return pins, true
}
