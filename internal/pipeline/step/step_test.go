// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

package step

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemo_RunsOnceThenMemoises(t *testing.T) {
	calls := 0
	m := NewMemo("Counter", func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	})

	v1, err := m.Value(context.Background())
	require.NoError(t, err)
	v2, err := m.Value(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, v1)
	assert.Equal(t, 1, v2)
	assert.Equal(t, 1, calls, "run must only execute once per pass")
	assert.Equal(t, OK, m.Status())
}

func TestMemo_CachesFailure(t *testing.T) {
	calls := 0
	m := NewMemo("Flaky", func(ctx context.Context) (int, error) {
		calls++
		return 0, NewFailure("boom %d", calls)
	})

	_, err1 := m.Value(context.Background())
	_, err2 := m.Value(context.Background())

	require.Error(t, err1)
	require.Error(t, err2)
	assert.Equal(t, err1, err2, "the same cached Failure must be returned to every dependent")
	assert.Equal(t, 1, calls)
	assert.Equal(t, Failed, m.Status())
}

func TestMemo_ResetClearsAcrossPasses(t *testing.T) {
	calls := 0
	m := NewMemo("Counter", func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	})

	_, _ = m.Value(context.Background())
	assert.Equal(t, 1, calls)

	m.Reset()
	assert.Equal(t, Pending, m.Status())

	v, err := m.Value(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, calls)
}

func TestMemo_EvaluateBoxesTypedResult(t *testing.T) {
	m := NewMemo("Named", func(ctx context.Context) (string, error) {
		return "hello", nil
	})

	got, err := m.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestAsFailure(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		assert.Nil(t, AsFailure(nil))
	})

	t.Run("already a Failure is returned unchanged", func(t *testing.T) {
		f := NewFailure("original")
		assert.Same(t, f, AsFailure(f))
	})

	t.Run("generic error is wrapped", func(t *testing.T) {
		f := AsFailure(errors.New("generic"))
		require.NotNil(t, f)
		assert.Equal(t, "generic", f.Message)
	})
}

func TestFailure_WithDetail(t *testing.T) {
	f := NewFailure("merge conflict").WithDetail("file a.txt", "file b.txt")
	assert.Equal(t, []string{"file a.txt", "file b.txt"}, f.Detail)
	assert.Equal(t, "merge conflict", f.Error())
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "ok", OK.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", Status(99).String())
}
