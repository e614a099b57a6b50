// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

package federation

import "github.com/branchctl/branchctl/internal/domain"

// OperatorUpdate is the inbound `{id, branches}` message from §6: it
// replaces that environment's branches field; all other fields are
// ignored.
type OperatorUpdate struct {
	ID       string             `json:"id"`
	Branches []domain.BranchPin `json:"branches"`
}
