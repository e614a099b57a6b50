// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

package steps

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchctl/branchctl/internal/pipeline/step"
)

func TestAnnotate_YieldsConstantValue(t *testing.T) {
	a := NewAnnotate("Dashboard", "https://dashboard.internal/staging")

	v, err := a.Value(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://dashboard.internal/staging", v)
	assert.Equal(t, step.OK, a.Status())
}

func TestSimpleLog_EvaluatesSourceLazily(t *testing.T) {
	calls := 0
	l := NewSimpleLog("ResolvedVersion", func(ctx context.Context) (string, error) {
		calls++
		return "auto-aaaaaaaa-bbbbbbbb", nil
	})

	assert.Equal(t, 0, calls, "source must not run before Value is called")

	v, err := l.Value(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "auto-aaaaaaaa-bbbbbbbb", v)
	assert.Equal(t, 1, calls)
}

func TestSimpleLog_PropagatesSourceError(t *testing.T) {
	l := NewSimpleLog("ResolvedVersion", func(ctx context.Context) (string, error) {
		return "", errors.New("upstream not ready")
	})

	_, err := l.Value(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream not ready")
}
