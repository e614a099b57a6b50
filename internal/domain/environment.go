// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

// Package domain holds the core data model shared by the pipeline, merge,
// unmerge and federation packages: environments, branch pins, commit
// metadata and deployment snapshots.
package domain

import (
	"fmt"
	"regexp"
	"time"
)

// HeadPin is the literal pin value meaning "resolve to the branch tip".
const HeadPin = "HEAD"

var commitIDPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// BranchPin selects a commit on a branch: either the literal HEAD or a
// pinned 40-character commit id.
type BranchPin struct {
	Branch string `json:"branch" validate:"required"`
	Pin    string `json:"pin" validate:"required"`
}

// Resolved reports whether the pin is a concrete commit id rather than HEAD.
func (p BranchPin) Resolved() bool {
	return p.Pin != HeadPin
}

// Validate checks the BranchPin invariants from the data model: non-empty
// branch name, pin is either HEAD or a 40-hex commit id.
func (p BranchPin) Validate() error {
	if p.Branch == "" {
		return fmt.Errorf("branch pin: branch_name must not be empty")
	}
	if p.Pin != HeadPin && !commitIDPattern.MatchString(p.Pin) {
		return fmt.Errorf("branch pin %q: pin must be HEAD or a 40-hex commit id, got %q", p.Branch, p.Pin)
	}
	return nil
}

// Environment is an immutable-identity, mutable-branches deployment target.
// Environments own their Steps; the pipeline attached to one dies with it.
type Environment struct {
	ID           string      `json:"id" validate:"required"`
	Repo         string      `json:"repo" validate:"required"`
	BranchPrefix string      `json:"branch_name_prefix,omitempty"`
	Branches     []BranchPin `json:"branches"`
	Dry          bool        `json:"dry"`
}

// Validate checks the Environment invariants from the data model. An empty
// Branches list is legal — it is the state that triggers unmerge recovery.
func (e *Environment) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("environment: id must not be empty")
	}
	if e.Repo == "" {
		return fmt.Errorf("environment %q: repo must not be empty", e.ID)
	}
	for i, b := range e.Branches {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("environment %q: branches[%d]: %w", e.ID, i, err)
		}
	}
	return nil
}

// CommitMeta is the commit metadata recorded in a branch snapshot.
type CommitMeta struct {
	CommitID  string    `json:"commit_id"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"date"`
	Message   string    `json:"message"`
}

// BranchSnapshotDepth is K from the data model: the number of most recent
// commits retained per branch in a branch snapshot.
const BranchSnapshotDepth = 10

// BranchSnapshot maps branch name to its most recent commits, newest first.
type BranchSnapshot map[string][]CommitMeta

// DeploymentService is one service entry of a deployment snapshot.
type DeploymentService struct {
	Image          string
	StackNamespace string
	Version        string
}

// DeploymentSnapshot maps service name to its deployed image/version,
// reconstructed from the orchestrator for one stack.
type DeploymentSnapshot map[string]DeploymentService

// Versions returns the distinct version strings across all services.
func (d DeploymentSnapshot) Versions() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, svc := range d {
		if _, ok := seen[svc.Version]; !ok {
			seen[svc.Version] = struct{}{}
			out = append(out, svc.Version)
		}
	}
	return out
}
