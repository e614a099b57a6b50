// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

// Package steps implements the named step kinds: SourceClone, MergeCheckout,
// ImageBuild, StackInspect, StackDeploy, UnmergeResolve, UrlProbe, Annotate,
// and the supplemental SimpleLog. Each kind wraps step.Memo[T] so
// memoisation is never re-derived per kind.
package steps

import (
	"context"
	"fmt"

	"github.com/branchctl/branchctl/internal/domain"
	"github.com/branchctl/branchctl/internal/pipeline/step"
	"github.com/branchctl/branchctl/internal/scm"
	"github.com/branchctl/branchctl/pkg/hash"
)

// CloneResult is SourceClone's output: the filesystem path of a working copy
// synchronised with the upstream at call time.
type CloneResult struct {
	Path string
	Repo *scm.Repository
}

// SourceClone clones or fetches the environment's upstream repository into a
// deterministic working directory derived from (env.id, hash(repo_url)).
type SourceClone struct {
	*step.Memo[CloneResult]
}

// NewSourceClone constructs a SourceClone step for env. baseDir is the root
// under which per-environment working copies live (normally a temp
// directory); branchPrefix optionally narrows the fetch refspec.
func NewSourceClone(env *domain.Environment, baseDir, branchPrefix string, creds scm.Credentials) *SourceClone {
	s := &SourceClone{}
	s.Memo = step.NewMemo("SourceClone", func(ctx context.Context) (CloneResult, error) {
		path := scm.WorkdirPath(baseDir, env.ID, env.Repo, hash.ShortSHA1)
		repo, err := scm.Open(ctx, env.Repo, path, creds)
		if err != nil {
			return CloneResult{}, step.NewFailure("source clone %s: %v", env.Repo, err)
		}
		if branchPrefix != "" {
			if err := repo.FetchPrefix(ctx, branchPrefix); err != nil {
				return CloneResult{}, step.NewFailure("fetch prefix %s: %v", branchPrefix, err)
			}
		}
		return CloneResult{Path: path, Repo: repo}, nil
	})
	return s
}

// EnumerateBranches is SourceClone's non-step accessor, returning the branch
// snapshot excluding origin/HEAD and any auto/* branch.
func (s *SourceClone) EnumerateBranches(ctx context.Context, prefix string) (domain.BranchSnapshot, error) {
	cr, err := s.Value(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := cr.Repo.EnumerateBranches(prefix)
	if err != nil {
		return nil, fmt.Errorf("enumerate branches: %w", err)
	}
	return snap, nil
}
