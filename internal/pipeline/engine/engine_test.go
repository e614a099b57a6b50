// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchctl/branchctl/internal/domain"
	"github.com/branchctl/branchctl/internal/pipeline/step"
)

// fakeStep is a minimal hand-written Step for engine tests, avoiding a
// dependency on internal/steps (which itself depends on this package).
type fakeStep struct {
	name      string
	status    step.Status
	fail      bool
	evalCount int
}

func (f *fakeStep) Name() string { return f.name }
func (f *fakeStep) Reset()       { f.status = step.Pending }
func (f *fakeStep) Evaluate(ctx context.Context) (any, error) {
	f.evalCount++
	if f.fail {
		f.status = step.Failed
		return nil, step.NewFailure("%s failed", f.name)
	}
	f.status = step.OK
	return f.name, nil
}
func (f *fakeStep) Status() step.Status { return f.status }

// fakeUnmergeResolve satisfies UnmergeProvider for the recovery-hook test.
type fakeUnmergeResolve struct {
	fakeStep
	pairs []domain.BranchPin
	ok    bool
}

func (f *fakeUnmergeResolve) Resolved() ([]domain.BranchPin, bool) {
	return f.pairs, f.ok
}

func TestRunPass_EvaluatesInOrderAndResetsFirst(t *testing.T) {
	a := &fakeStep{name: "A"}
	b := &fakeStep{name: "B"}
	env := &domain.Environment{ID: "staging"}
	p := &Pipeline{Env: env, Steps: []step.Step{a, b}}

	results := RunPass(context.Background(), p, nil)

	require.Len(t, results, 2)
	assert.Equal(t, "A", results[0].Name)
	assert.Equal(t, step.OK, results[0].Status)
	assert.Equal(t, "B", results[1].Name)
	assert.Equal(t, step.OK, results[1].Status)
	assert.Equal(t, 1, a.evalCount)
	assert.Equal(t, 1, b.evalCount)
}

func TestRunPass_OneFailureDoesNotAbortTheRest(t *testing.T) {
	a := &fakeStep{name: "A", fail: true}
	b := &fakeStep{name: "B"}
	env := &domain.Environment{ID: "staging"}
	p := &Pipeline{Env: env, Steps: []step.Step{a, b}}

	results := RunPass(context.Background(), p, nil)

	require.Len(t, results, 2)
	assert.Equal(t, step.Failed, results[0].Status)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, step.OK, results[1].Status)
	assert.Equal(t, 1, b.evalCount, "step B must still run despite A's failure")
}

func TestRunPass_InvokesObserverPerStep(t *testing.T) {
	a := &fakeStep{name: "A"}
	b := &fakeStep{name: "B"}
	env := &domain.Environment{ID: "staging"}
	p := &Pipeline{Env: env, Steps: []step.Step{a, b}}

	var observed []string
	RunPass(context.Background(), p, func(e *domain.Environment, st StepStatus) {
		observed = append(observed, st.Name)
	})

	assert.Equal(t, []string{"A", "B"}, observed)
}

func TestRunPass_AdoptsUnmergeResolvedBranchesWhenEmpty(t *testing.T) {
	pairs := []domain.BranchPin{{Branch: "main", Pin: "auto-aaaaaaaa-bbbbbbbb"}}
	resolve := &fakeUnmergeResolve{
		fakeStep: fakeStep{name: "UnmergeResolve"},
		pairs:    pairs,
		ok:       true,
	}
	env := &domain.Environment{ID: "staging"} // no branches configured
	p := &Pipeline{Env: env, Steps: []step.Step{resolve}}

	RunPass(context.Background(), p, nil)

	assert.Equal(t, pairs, env.Branches)
}

func TestRunPass_DoesNotOverrideExistingBranches(t *testing.T) {
	resolve := &fakeUnmergeResolve{
		fakeStep: fakeStep{name: "UnmergeResolve"},
		pairs:    []domain.BranchPin{{Branch: "recovered", Pin: domain.HeadPin}},
		ok:       true,
	}
	existing := []domain.BranchPin{{Branch: "main", Pin: domain.HeadPin}}
	env := &domain.Environment{ID: "staging", Branches: existing}
	p := &Pipeline{Env: env, Steps: []step.Step{resolve}}

	RunPass(context.Background(), p, nil)

	assert.Equal(t, existing, env.Branches, "recovery hook must not fire when branches are already set")
}

func TestAllTerminal(t *testing.T) {
	t.Run("all terminal", func(t *testing.T) {
		results := []StepStatus{{Name: "A", Status: step.OK}, {Name: "B", Status: step.Failed}}
		assert.NoError(t, AllTerminal(results))
	})

	t.Run("one pending is an error", func(t *testing.T) {
		results := []StepStatus{{Name: "A", Status: step.OK}, {Name: "B", Status: step.Pending}}
		err := AllTerminal(results)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "B")
	})
}
