// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

// Package merge implements the branch-selection / auto-merge-branch
// algorithm: the core of this system. Commit ids are hash-sorted into a
// deterministic version string, merges land on an auto/<version> branch,
// and an existing equivalent branch is reused rather than re-merged. A
// full commit-graph legal-merge-descendant search replaces a simpler
// "does auto/<version> already exist" check, so a branch that already
// contains every required commit is found even under a different name.
package merge

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/branchctl/branchctl/internal/domain"
	"github.com/branchctl/branchctl/internal/scm"
)

// Result is the outcome of a successful merge plan.
type Result struct {
	BranchName string
	CommitID   string
	Version    string
}

// Author identifies who synthetic merge commits are attributed to.
type Author struct {
	Name  string
	Email string
}

// Planner runs the merge algorithm against one repository.
type Planner struct {
	Repo   *scm.Repository
	Author Author
	Push   bool
}

// Plan executes §4.4 steps 1-4 against the given branch pins.
func (p *Planner) Plan(ctx context.Context, branches []domain.BranchPin) (*Result, error) {
	if len(branches) == 0 {
		return nil, fmt.Errorf("Empty branches set")
	}

	// Step 1 — resolve.
	commitToBranch := map[string]string{}
	commits := make([]string, 0, len(branches))
	for _, b := range branches {
		c, err := p.Repo.ResolvePin(b)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", b.Branch, err)
		}
		commitToBranch[c] = b.Branch
		commits = append(commits, c)
	}

	version := Version(commits)

	// Step 2 — common descendant.
	graph, err := p.Repo.BuildCommitGraph()
	if err != nil {
		return nil, fmt.Errorf("build commit graph: %w", err)
	}

	var descendantSets []map[string]bool
	for _, c := range commits {
		descendantSets = append(descendantSets, graph.LegalMergeDescendants(c))
	}
	intersection := intersectSets(descendantSets)

	if m, ok := pickDeterministic(intersection); ok {
		return p.useDescendant(ctx, m, version)
	}

	// Step 4 — synthetic merge (no common descendant found).
	return p.syntheticMerge(ctx, commits, version)
}

// Version computes the deterministic version string: commit ids sorted
// lexicographically by full id, each truncated to its first 8 hex chars and
// joined with "-". Identical regardless of input order (§8 determinism
// property).
func Version(commits []string) string {
	sorted := make([]string, len(commits))
	copy(sorted, commits)
	sort.Strings(sorted)
	parts := make([]string, len(sorted))
	for i, c := range sorted {
		parts[i] = shortID(c)
	}
	return strings.Join(parts, "-")
}

func shortID(c string) string {
	if len(c) < 8 {
		return c
	}
	return c[:8]
}

func intersectSets(sets []map[string]bool) map[string]bool {
	if len(sets) == 0 {
		return map[string]bool{}
	}
	result := map[string]bool{}
	for k := range sets[0] {
		result[k] = true
	}
	for _, s := range sets[1:] {
		for k := range result {
			if !s[k] {
				delete(result, k)
			}
		}
	}
	return result
}

// pickDeterministic picks any element of a non-empty set deterministically
// by commit id, per §4.4 step 2's note that the choice is implementation
// defined but must be reproducible.
func pickDeterministic(set map[string]bool) (string, bool) {
	if len(set) == 0 {
		return "", false
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids[0], true
}

// useDescendant implements §4.4 step 3.
func (p *Planner) useDescendant(ctx context.Context, m, version string) (*Result, error) {
	branches, err := p.Repo.RemoteBranchesAt(m)
	if err != nil {
		return nil, fmt.Errorf("branches at %s: %w", m, err)
	}
	if len(branches) > 0 {
		// Tie-break: first encountered in deterministic (sorted) order.
		if err := p.Repo.CheckoutBranch(branches[0]); err != nil {
			return nil, fmt.Errorf("checkout %s: %w", branches[0], err)
		}
		return &Result{BranchName: branches[0], CommitID: m, Version: version}, nil
	}

	name := "auto/" + version
	if err := p.Repo.ForceCreateLocalBranch(name, m); err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	if err := p.Repo.CheckoutBranch(name); err != nil {
		return nil, fmt.Errorf("checkout %s: %w", name, err)
	}
	if p.Push {
		if err := p.Repo.Push(ctx, name); err != nil {
			return nil, fmt.Errorf("push %s: %w", name, err)
		}
	}
	return &Result{BranchName: name, CommitID: m, Version: version}, nil
}

// syntheticMerge implements §4.4 step 4: check out the first selected
// commit, sequentially --no-ff merge every remaining commit in input order,
// aborting with a Failure identifying the offending commit on conflict.
func (p *Planner) syntheticMerge(ctx context.Context, commits []string, version string) (*Result, error) {
	if err := p.Repo.CheckoutCommit(commits[0]); err != nil {
		return nil, fmt.Errorf("checkout %s: %w", commits[0], err)
	}

	tip := commits[0]
	sig := object.Signature{Name: p.Author.Name, Email: p.Author.Email}
	for _, c := range commits[1:] {
		merged, err := p.Repo.MergeCommits(ctx, tip, c, sig)
		if err != nil {
			var conflict *scm.MergeConflictError
			if ok := asMergeConflict(err, &conflict); ok {
				return nil, fmt.Errorf("Merge conflict: commit %s conflicts with %s on %s", c, tip, conflict.Path)
			}
			return nil, fmt.Errorf("merge %s into %s: %w", c, tip, err)
		}
		tip = merged
	}

	name := "auto/" + version
	if err := p.Repo.ForceCreateLocalBranch(name, tip); err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	if err := p.Repo.CheckoutBranch(name); err != nil {
		return nil, fmt.Errorf("checkout %s: %w", name, err)
	}
	if p.Push {
		if err := p.Repo.Push(ctx, name); err != nil {
			return nil, fmt.Errorf("push %s: %w", name, err)
		}
	}
	return &Result{BranchName: name, CommitID: tip, Version: version}, nil
}

func asMergeConflict(err error, target **scm.MergeConflictError) bool {
	if c, ok := err.(*scm.MergeConflictError); ok {
		*target = c
		return true
	}
	return false
}
