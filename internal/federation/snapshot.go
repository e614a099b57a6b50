// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

// Package federation implements the bidirectional mirror of branches and
// environments snapshots between two peer controllers. Both peers run an
// identical core — any "master"/"slave" labelling is purely cosmetic and
// carries no behavioural asymmetry, so this package implements a fully
// symmetric design.
package federation

import (
	"github.com/branchctl/branchctl/internal/domain"
	"github.com/branchctl/branchctl/internal/pipeline/engine"
)

// CommitRecord is one entry of a branch's commit history in the external
// snapshot payload.
type CommitRecord struct {
	CommitID string `json:"commit_id"`
	Author   string `json:"author"`
	Date     string `json:"date"`
	Message  string `json:"message"`
}

// BranchesSnapshot is the `branches` top-level channel: env_id to mapping of
// branch_name to a sequence of commit records (length <= 10).
type BranchesSnapshot map[string]map[string][]CommitRecord

// EnvView is the `env_view` half of one environments-snapshot entry.
type EnvView struct {
	ID       string           `json:"id"`
	Repo     string           `json:"repo"`
	Dry      bool             `json:"dry"`
	Branches [][2]string      `json:"branches"`
}

// StepView is one entry of `steps_view`: a step's name and status. Status
// is the string "ok" when the step succeeded (its result value is not
// carried), or [error_message, detail] when failed.
type StepView struct {
	Name   string `json:"name"`
	Status any    `json:"status"`
}

// EnvironmentEntry pairs an env_view with its steps_view.
type EnvironmentEntry struct {
	Env   EnvView    `json:"env"`
	Steps []StepView `json:"steps"`
}

// EnvironmentsSnapshot is the `environments` top-level channel: env_id to
// (env_view, steps_view) pair.
type EnvironmentsSnapshot map[string]EnvironmentEntry

// Snapshot bundles both channels, the unit exchanged between peers and
// published to subscribers.
type Snapshot struct {
	Branches     BranchesSnapshot     `json:"branches"`
	Environments EnvironmentsSnapshot `json:"environments"`
}

// BuildEnvironmentEntry converts one environment's live state plus its most
// recent pass results into the wire EnvironmentEntry shape.
func BuildEnvironmentEntry(env *domain.Environment, results []engine.StepStatus) EnvironmentEntry {
	pairs := make([][2]string, 0, len(env.Branches))
	for _, b := range env.Branches {
		pairs = append(pairs, [2]string{b.Branch, b.Pin})
	}

	steps := make([]StepView, 0, len(results))
	for _, r := range results {
		var status any
		if r.Err != nil {
			status = []any{r.Err.Message, r.Err.Detail}
		} else {
			status = "ok"
		}
		steps = append(steps, StepView{Name: r.Name, Status: status})
	}

	return EnvironmentEntry{
		Env: EnvView{
			ID:       env.ID,
			Repo:     env.Repo,
			Dry:      env.Dry,
			Branches: pairs,
		},
		Steps: steps,
	}
}

// BuildBranchesEntry converts a domain branch snapshot into the wire shape,
// truncating to BranchSnapshotDepth entries per branch.
func BuildBranchesEntry(snap domain.BranchSnapshot) map[string][]CommitRecord {
	out := make(map[string][]CommitRecord, len(snap))
	for branch, commits := range snap {
		n := len(commits)
		if n > domain.BranchSnapshotDepth {
			n = domain.BranchSnapshotDepth
		}
		recs := make([]CommitRecord, 0, n)
		for _, c := range commits[:n] {
			recs = append(recs, CommitRecord{
				CommitID: c.CommitID,
				Author:   c.Author,
				Date:     c.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
				Message:  c.Message,
			})
		}
		out[branch] = recs
	}
	return out
}
