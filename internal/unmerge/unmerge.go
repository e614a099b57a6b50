// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

// Package unmerge implements the reverse algorithm: given the version tag
// observed on a running stack, recover the {(branch, commit)} set that
// produced it. It runs both a forward BFS over the child graph and an
// additional ancestor-search fallback for a short id that sits in the
// interior of a still-existing branch, so a commit that was the branch tip
// at merge time but has since been superseded is still found.
package unmerge

import (
	"fmt"
	"strings"

	"github.com/branchctl/branchctl/internal/domain"
	"github.com/branchctl/branchctl/internal/scm"
)

// Pair is one recovered (branch, commit) entry.
type Pair struct {
	Branch   string
	CommitID string
}

// Planner runs the unmerge algorithm against one repository.
type Planner struct {
	Repo *scm.Repository
}

// Plan reverses a deployment snapshot's version tag into the (branch,
// commit) set that produced it, per §4.5.
func (p *Planner) Plan(snapshot domain.DeploymentSnapshot) ([]Pair, error) {
	versions := snapshot.Versions()
	if len(versions) != 1 {
		return nil, fmt.Errorf("Expected exactly one version, got %d", len(versions))
	}
	version := versions[0]

	if !strings.HasPrefix(version, "auto-") {
		return nil, fmt.Errorf("Version format not recognized: %q", version)
	}
	shortIDs := strings.Split(strings.TrimPrefix(version, "auto-"), "-")

	graph, err := p.Repo.BuildCommitGraph()
	if err != nil {
		return nil, fmt.Errorf("build commit graph: %w", err)
	}

	var pairs []Pair
	for _, short := range shortIDs {
		full, err := p.resolveShortID(short, graph)
		if err != nil {
			return nil, err
		}

		branches, err := p.Repo.RemoteBranchesAt(full)
		if err != nil {
			return nil, fmt.Errorf("branches at %s: %w", full, err)
		}

		if len(branches) == 0 {
			// Ancestor-search fallback (redesign): ci may sit in the
			// interior of a still-existing branch rather than at its tip.
			if b, ok := p.ancestorBranch(full); ok {
				branches = []string{b}
			}
		}

		if len(branches) == 0 {
			// Forward BFS fallback: the commit may no longer be any branch's
			// tip, but a branch may still have advanced past it.
			found, err := p.bfsForwardBranch(full, graph)
			if err != nil {
				return nil, err
			}
			branches = found
		}

		if len(branches) == 0 {
			return nil, fmt.Errorf("Unable to unmerge version: no branch found for commit %s", full)
		}

		for _, b := range branches {
			pairs = append(pairs, Pair{Branch: b, CommitID: full})
		}
	}
	return pairs, nil
}

func (p *Planner) resolveShortID(short string, graph *scm.CommitGraph) (string, error) {
	for id := range graph.Parents {
		if strings.HasPrefix(id, short) {
			return id, nil
		}
	}
	// The commit may be a leaf with no recorded children/parents entry if
	// the graph walk started elsewhere; fall back to direct object lookup.
	c, err := p.Repo.CommitObject(short)
	if err == nil {
		return c.Hash.String(), nil
	}
	return "", fmt.Errorf("Unable to unmerge version: commit %s not found", short)
}

// ancestorBranch returns a branch whose tip has full as an ancestor — the
// REDESIGN fallback for the interior-commit case.
func (p *Planner) ancestorBranch(full string) (string, bool) {
	branches, err := p.Repo.RemoteBranchesAt(full)
	if err == nil && len(branches) > 0 {
		return branches[0], true
	}

	allBranches, err := p.Repo.EnumerateBranches("")
	if err != nil {
		return "", false
	}
	names := make([]string, 0, len(allBranches))
	for name := range allBranches {
		names = append(names, name)
	}
	for _, name := range names {
		tip, err := p.Repo.ResolveBranchTip(name)
		if err != nil {
			continue
		}
		if p.isAncestor(full, tip) {
			return name, true
		}
	}
	return "", false
}

func (p *Planner) isAncestor(ancestor, tip string) bool {
	c, err := p.Repo.CommitObject(tip)
	if err != nil {
		return false
	}
	visited := map[string]bool{}
	queue := []string{c.Hash.String()}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == ancestor {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		commit, err := p.Repo.CommitObject(id)
		if err != nil {
			continue
		}
		for _, ph := range commit.ParentHashes {
			queue = append(queue, ph.String())
		}
	}
	return false
}

// bfsForwardBranch performs a BFS forward along the child graph from full
// until some reached commit has at least one qualifying branch pointing at
// its tip, per §4.5 step 3. The returned pair keeps full as the commit id,
// not the descendant's.
func (p *Planner) bfsForwardBranch(full string, graph *scm.CommitGraph) ([]string, error) {
	visited := map[string]bool{full: true}
	queue := []string{full}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		branches, err := p.Repo.RemoteBranchesAt(id)
		if err != nil {
			return nil, fmt.Errorf("branches at %s: %w", id, err)
		}
		if len(branches) > 0 {
			return branches, nil
		}

		for _, child := range graph.Children[id] {
			if !visited[child] {
				visited[child] = true
				queue = append(queue, child)
			}
		}
	}
	return nil, nil
}
