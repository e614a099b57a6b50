// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

package steps

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/go-cmp/cmp"

	"github.com/branchctl/branchctl/internal/domain"
	"github.com/branchctl/branchctl/internal/orchestrator"
	"github.com/branchctl/branchctl/internal/pipeline/step"
)

// ServiceDiff compares one service's desired image against its currently
// running image.
type ServiceDiff struct {
	Service      string
	DesiredImage string
	RunningImage string
	Changed      bool
}

// StackDeployResult is StackDeploy's output. When no service's image
// differs, only OK and Version are set. When Dry is true no mutation is
// performed and Diffs describes what would change; otherwise Diffs holds the
// per-service comparison for the stack that was deployed (Changed marks the
// services whose image differed). Patch, set only in the dry-run case, is
// the RFC 7386 JSON merge patch from the currently-running document to the
// desired one, a full-document complement to the per-service Diffs.
type StackDeployResult struct {
	Dry     bool
	Diffs   []ServiceDiff
	Patch   json.RawMessage
	OK      []string
	Version string
}

// StackDeploy depends on SourceClone and StackInspect; it takes no
// ImageBuild step and does not read ImageBuild's result. It computes the desired compose, diffs it against the
// running deployment, and — unless env.Dry is set — deploys it.
type StackDeploy struct {
	*step.Memo[StackDeployResult]
}

// NewStackDeploy constructs a StackDeploy step. versionOf is evaluated once
// per pass, after MergeCheckout has resolved — it is the step-graph wiring
// that threads the merge's resolved version into the deploy stamp.
func NewStackDeploy(
	env *domain.Environment,
	clone *SourceClone,
	inspect *StackInspect,
	ops *orchestrator.Ops,
	composeRelPath, stackName string,
	versionOf func(ctx context.Context) (string, error),
	vars map[string]string,
) *StackDeploy {
	s := &StackDeploy{}
	s.Memo = step.NewMemo("StackDeploy", func(ctx context.Context) (StackDeployResult, error) {
		cr, err := clone.Value(ctx)
		if err != nil {
			return StackDeployResult{}, err
		}
		running, err := inspect.Value(ctx)
		if err != nil {
			return StackDeployResult{}, err
		}
		version, err := versionOf(ctx)
		if err != nil {
			return StackDeployResult{}, err
		}

		composePath := filepath.Join(cr.Path, composeRelPath)
		data, err := os.ReadFile(composePath)
		if err != nil {
			return StackDeployResult{}, step.NewFailure("read compose document %s: %v", composePath, err)
		}
		desired, err := orchestrator.ParseCompose(data)
		if err != nil {
			return StackDeployResult{}, step.NewFailure("%v", err)
		}
		desired.Substitute(vars)
		desired.StripBuildKeys()
		desired.StampVersion(version)

		diffs := diffAgainstRunning(desired, running)
		anyChanged := false
		var okEntries []string
		for _, d := range diffs {
			if d.Changed {
				anyChanged = true
			} else {
				okEntries = append(okEntries, d.Service)
			}
		}

		if !anyChanged {
			return StackDeployResult{OK: okEntries, Version: version}, nil
		}

		if env.Dry {
			patch, _ := desired.MergePatch(orchestrator.ComposeFromSnapshot(running))
			return StackDeployResult{Dry: true, Diffs: diffs, Patch: patch, Version: version}, nil
		}

		if err := ops.DeployStack(ctx, composePath, stackName, desired); err != nil {
			return StackDeployResult{}, step.NewFailure("%v", err)
		}
		return StackDeployResult{Diffs: diffs, Version: version}, nil
	})
	return s
}

func diffAgainstRunning(desired *orchestrator.ComposeDocument, running domain.DeploymentSnapshot) []ServiceDiff {
	var diffs []ServiceDiff
	for name, def := range desired.Services() {
		desiredImage, _ := def["image"].(string)
		runningImage := running[name].Image
		changed := !cmp.Equal(desiredImage, runningImage)
		diffs = append(diffs, ServiceDiff{
			Service:      name,
			DesiredImage: desiredImage,
			RunningImage: runningImage,
			Changed:      changed,
		})
	}
	return diffs
}
