// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

package steps

import (
	"context"

	"github.com/branchctl/branchctl/internal/pipeline/step"
)

// Annotate returns a caller-supplied constant, used to attach operator-
// facing links to the environment snapshot.
type Annotate struct {
	*step.Memo[any]
}

// NewAnnotate constructs an Annotate step that always yields value.
func NewAnnotate(name string, value any) *Annotate {
	s := &Annotate{}
	s.Memo = step.NewMemo(name, func(ctx context.Context) (any, error) {
		return value, nil
	})
	return s
}

// SimpleLog returns the string produced by a caller-supplied source, for
// operator-facing visibility in the steps_view, distinct from Annotate's link-attachment use — e.g. emitting
// the resolved version string so it shows up without a dedicated field.
type SimpleLog struct {
	*step.Memo[string]
}

// NewSimpleLog constructs a SimpleLog step. source is evaluated lazily so it
// can read another step's already-computed result.
func NewSimpleLog(name string, source func(ctx context.Context) (string, error)) *SimpleLog {
	s := &SimpleLog{}
	s.Memo = step.NewMemo(name, source)
	return s
}
