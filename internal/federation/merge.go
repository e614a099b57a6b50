// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

package federation

import (
	"fmt"
	"sort"
	"sync"
)

// ErrorEvent is the federation `error` channel payload: {message}.
type ErrorEvent struct {
	Message string `json:"message"`
}

// Mirror holds one peer's local (self-computed) and remote (last received
// from the peer) snapshots, and produces the merged view published to local
// subscribers.
type Mirror struct {
	mu     sync.Mutex
	local  Snapshot
	remote Snapshot
}

// NewMirror constructs an empty Mirror.
func NewMirror() *Mirror {
	return &Mirror{
		local:  Snapshot{Branches: BranchesSnapshot{}, Environments: EnvironmentsSnapshot{}},
		remote: Snapshot{Branches: BranchesSnapshot{}, Environments: EnvironmentsSnapshot{}},
	}
}

// SetLocal replaces the local snapshot, e.g. on every change to branches or
// environments.
func (m *Mirror) SetLocal(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local = s
}

// ReceiveRemote replaces the remote slot with a snapshot received from the
// peer, per "Inbound: the peer's snapshot replaces the remote slot".
func (m *Mirror) ReceiveRemote(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remote = s
}

// Merged computes the merged snapshot to re-publish to local subscribers,
// plus any conflict events detected on the environments channel. The merge
// rule is key-wise union; when a key is present on both sides the remote
// value wins (last-writer-wins on leaves), except that overlapping keys on
// the environments snapshot are also reported as a conflict (remote value
// is still taken for display).
func (m *Mirror) Merged() (Snapshot, []ErrorEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mergedBranches := mergeBranches(m.local.Branches, m.remote.Branches)
	mergedEnvs, conflicts := mergeEnvironments(m.local.Environments, m.remote.Environments)

	var events []ErrorEvent
	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		events = append(events, ErrorEvent{
			Message: fmt.Sprintf("federation conflict on ids: %v", conflicts),
		})
	}

	return Snapshot{Branches: mergedBranches, Environments: mergedEnvs}, events
}

func mergeBranches(local, remote BranchesSnapshot) BranchesSnapshot {
	out := make(BranchesSnapshot, len(local)+len(remote))
	for envID, branches := range local {
		out[envID] = copyBranchMap(branches)
	}
	for envID, branches := range remote {
		if existing, ok := out[envID]; ok {
			out[envID] = mergeLeafMaps(existing, branches)
			continue
		}
		out[envID] = copyBranchMap(branches)
	}
	return out
}

func copyBranchMap(m map[string][]CommitRecord) map[string][]CommitRecord {
	out := make(map[string][]CommitRecord, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// mergeLeafMaps implements the recurse-if-both-are-mappings / remote-wins
// rule at the branch_name level: a branch present on both sides takes the
// remote's commit sequence (leaves, not further recursable maps).
func mergeLeafMaps(local, remote map[string][]CommitRecord) map[string][]CommitRecord {
	out := copyBranchMap(local)
	for k, v := range remote {
		out[k] = v
	}
	return out
}

// mergeEnvironments returns the union of both snapshots plus the ids present
// on both sides, which are conflicts per §4.6. The remote value is kept for
// display on a conflicting id.
func mergeEnvironments(local, remote EnvironmentsSnapshot) (EnvironmentsSnapshot, []string) {
	out := make(EnvironmentsSnapshot, len(local)+len(remote))
	for id, v := range local {
		out[id] = v
	}
	var conflicts []string
	for id, v := range remote {
		if _, ok := out[id]; ok {
			conflicts = append(conflicts, id)
		}
		out[id] = v
	}
	return out, conflicts
}
