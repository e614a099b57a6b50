// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchctl/branchctl/internal/domain"
)

func TestValidateEnvironment_Valid(t *testing.T) {
	v := New()
	env := &domain.Environment{
		ID:   "staging",
		Repo: "https://example.com/repo.git",
		Branches: []domain.BranchPin{
			{Branch: "main", Pin: domain.HeadPin},
			{Branch: "main", Pin: "a1b2c3d4e5f60718293a4b5c6d7e8f9001020304"},
		},
	}
	require.NoError(t, v.ValidateEnvironment(env))
}

func TestValidateEnvironment_MissingID(t *testing.T) {
	v := New()
	env := &domain.Environment{Repo: "https://example.com/repo.git"}
	assert.Error(t, v.ValidateEnvironment(env))
}

func TestValidateEnvironment_MissingRepo(t *testing.T) {
	v := New()
	env := &domain.Environment{ID: "staging"}
	assert.Error(t, v.ValidateEnvironment(env))
}

func TestValidateEnvironment_RejectsMalformedPin(t *testing.T) {
	v := New()
	env := &domain.Environment{
		ID:   "staging",
		Repo: "https://example.com/repo.git",
		Branches: []domain.BranchPin{
			{Branch: "main", Pin: "not-a-valid-pin"},
		},
	}
	err := v.ValidateEnvironment(env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "branches[0].pin")
}

func TestValidateEnvironment_RejectsEmptyBranchName(t *testing.T) {
	v := New()
	env := &domain.Environment{
		ID:   "staging",
		Repo: "https://example.com/repo.git",
		Branches: []domain.BranchPin{
			{Branch: "", Pin: domain.HeadPin},
		},
	}
	assert.Error(t, v.ValidateEnvironment(env))
}

func TestValidateEnvironment_EmptyBranchesIsLegal(t *testing.T) {
	v := New()
	env := &domain.Environment{ID: "staging", Repo: "https://example.com/repo.git"}
	assert.NoError(t, v.ValidateEnvironment(env))
}
