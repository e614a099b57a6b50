// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

package steps

import (
	"context"
	"os"
	"path/filepath"

	"github.com/branchctl/branchctl/internal/orchestrator"
	"github.com/branchctl/branchctl/internal/pipeline/step"
)

// ImageBuild reads a compose document at a configured relative path,
// substitutes ${VAR} tokens, and builds every service's declared image that
// is not already present (locally, or remotely when Publish is set).
type ImageBuild struct {
	*step.Memo[[]string]
}

// NewImageBuild constructs an ImageBuild step. composeRelPath is relative to
// the SourceClone working copy; vars are substitution values for ${VAR}
// tokens in the compose document.
func NewImageBuild(clone *SourceClone, ops *orchestrator.Ops, composeRelPath string, vars map[string]string, publish bool, registry, regUser, regPass string) *ImageBuild {
	s := &ImageBuild{}
	s.Memo = step.NewMemo("ImageBuild", func(ctx context.Context) ([]string, error) {
		cr, err := clone.Value(ctx)
		if err != nil {
			return nil, err
		}

		composePath := filepath.Join(cr.Path, composeRelPath)
		data, err := os.ReadFile(composePath)
		if err != nil {
			return nil, step.NewFailure("read compose document %s: %v", composePath, err)
		}
		doc, err := orchestrator.ParseCompose(data)
		if err != nil {
			return nil, step.NewFailure("%v", err)
		}
		doc.Substitute(vars)

		if publish {
			if err := ops.LoginRegistry(ctx, registry, regUser, regPass); err != nil {
				return nil, step.NewFailure("%v", err)
			}
		}

		specs := doc.BuildSpecs(publish)
		built, err := ops.BuildMissing(ctx, cr.Path, specs)
		if err != nil {
			return built, step.NewFailure("%v", err)
		}
		return built, nil
	})
	return s
}
