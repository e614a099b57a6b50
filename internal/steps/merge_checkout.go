// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

package steps

import (
	"context"

	"github.com/branchctl/branchctl/internal/domain"
	"github.com/branchctl/branchctl/internal/merge"
	"github.com/branchctl/branchctl/internal/pipeline/step"
)

// MergeCheckoutResult is MergeCheckout's output.
type MergeCheckoutResult struct {
	BranchName string
	CommitID   string
	Version    string
}

// MergeCheckout depends on SourceClone and runs the branch-merge algorithm
// against the environment's current branch set.
type MergeCheckout struct {
	*step.Memo[MergeCheckoutResult]
}

// NewMergeCheckout constructs a MergeCheckout step. author identifies the
// synthetic merge commit's committer; push controls whether the resulting
// auto/<version> branch is force-pushed to origin.
func NewMergeCheckout(env *domain.Environment, clone *SourceClone, author merge.Author, push bool) *MergeCheckout {
	s := &MergeCheckout{}
	s.Memo = step.NewMemo("MergeCheckout", func(ctx context.Context) (MergeCheckoutResult, error) {
		cr, err := clone.Value(ctx)
		if err != nil {
			return MergeCheckoutResult{}, err
		}
		planner := &merge.Planner{Repo: cr.Repo, Author: author, Push: push}
		result, err := planner.Plan(ctx, env.Branches)
		if err != nil {
			return MergeCheckoutResult{}, step.NewFailure("%v", err)
		}
		return MergeCheckoutResult{
			BranchName: result.BranchName,
			CommitID:   result.CommitID,
			Version:    result.Version,
		}, nil
	})
	return s
}
