// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBranchPin_Resolved(t *testing.T) {
	assert.False(t, BranchPin{Branch: "main", Pin: HeadPin}.Resolved())
	assert.True(t, BranchPin{Branch: "main", Pin: "a1b2c3d4e5f60718293a4b5c6d7e8f9001020304"}.Resolved())
}

func TestBranchPin_Validate(t *testing.T) {
	valid40hex := "a1b2c3d4e5f60718293a4b5c6d7e8f9001020304"

	tests := []struct {
		name    string
		pin     BranchPin
		wantErr bool
	}{
		{"head pin valid", BranchPin{Branch: "main", Pin: HeadPin}, false},
		{"40-hex pin valid", BranchPin{Branch: "main", Pin: valid40hex}, false},
		{"empty branch invalid", BranchPin{Branch: "", Pin: HeadPin}, true},
		{"short commit invalid", BranchPin{Branch: "main", Pin: "abc123"}, true},
		{"non-hex commit invalid", BranchPin{Branch: "main", Pin: "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pin.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnvironment_Validate(t *testing.T) {
	t.Run("empty branches is legal", func(t *testing.T) {
		env := Environment{ID: "staging", Repo: "https://example.com/repo.git"}
		require.NoError(t, env.Validate())
	})

	t.Run("missing id", func(t *testing.T) {
		env := Environment{Repo: "https://example.com/repo.git"}
		assert.Error(t, env.Validate())
	})

	t.Run("missing repo", func(t *testing.T) {
		env := Environment{ID: "staging"}
		assert.Error(t, env.Validate())
	})

	t.Run("invalid branch pin surfaces with index", func(t *testing.T) {
		env := Environment{
			ID:   "staging",
			Repo: "https://example.com/repo.git",
			Branches: []BranchPin{
				{Branch: "main", Pin: HeadPin},
				{Branch: "", Pin: HeadPin},
			},
		}
		err := env.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "branches[1]")
	})
}

func TestDeploymentSnapshot_Versions(t *testing.T) {
	snap := DeploymentSnapshot{
		"web":    {Image: "web:auto-aaaa", Version: "auto-aaaa"},
		"worker": {Image: "worker:auto-aaaa", Version: "auto-aaaa"},
		"api":    {Image: "api:auto-bbbb", Version: "auto-bbbb"},
	}

	versions := snap.Versions()
	assert.Len(t, versions, 2)
	assert.ElementsMatch(t, []string{"auto-aaaa", "auto-bbbb"}, versions)
}

func TestDeploymentSnapshot_VersionsEmpty(t *testing.T) {
	var snap DeploymentSnapshot
	assert.Empty(t, snap.Versions())
}
