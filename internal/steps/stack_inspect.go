// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

package steps

import (
	"context"

	"github.com/branchctl/branchctl/internal/domain"
	"github.com/branchctl/branchctl/internal/orchestrator"
	"github.com/branchctl/branchctl/internal/pipeline/step"
)

// StackInspect reconstructs the deployment snapshot for a named stack,
// filtered by the orchestrator's stack-namespace label.
type StackInspect struct {
	*step.Memo[domain.DeploymentSnapshot]
}

// NewStackInspect constructs a StackInspect step for the given stack name.
func NewStackInspect(ops *orchestrator.Ops, stackName string) *StackInspect {
	s := &StackInspect{}
	s.Memo = step.NewMemo("StackInspect", func(ctx context.Context) (domain.DeploymentSnapshot, error) {
		snap, err := ops.InspectStack(ctx, stackName)
		if err != nil {
			return nil, step.NewFailure("%v", err)
		}
		return snap, nil
	})
	return s
}
