// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchctl/branchctl/internal/domain"
)

const sampleCompose = `
services:
  web:
    image: web:latest
    build:
      context: ./web
    labels:
      owner: team-a
  worker:
    image: worker:latest
    build: ./worker
`

func TestParseCompose_RoundTripsThroughDump(t *testing.T) {
	doc, err := ParseCompose([]byte(sampleCompose))
	require.NoError(t, err)

	out, err := doc.Dump()
	require.NoError(t, err)

	reparsed, err := ParseCompose(out)
	require.NoError(t, err)
	assert.Equal(t, doc.Services()["web"]["image"], reparsed.Services()["web"]["image"])
}

func TestServices_ReturnsDefensiveCopy(t *testing.T) {
	doc, err := ParseCompose([]byte(sampleCompose))
	require.NoError(t, err)

	svcs := doc.Services()
	svcs["web"]["image"] = "mutated:latest"

	again := doc.Services()
	assert.Equal(t, "web:latest", again["web"]["image"], "mutating a returned copy must not affect the document")
}

func TestSubstitute_ReplacesKnownVarsLeavesUnknown(t *testing.T) {
	doc, err := ParseCompose([]byte(`
services:
  web:
    image: "registry/${APP}:${TAG}"
`))
	require.NoError(t, err)

	doc.Substitute(map[string]string{"APP": "myapp"})

	image := doc.Services()["web"]["image"].(string)
	assert.Equal(t, "registry/myapp:${TAG}", image)
}

func TestStripBuildKeys(t *testing.T) {
	doc, err := ParseCompose([]byte(sampleCompose))
	require.NoError(t, err)

	doc.StripBuildKeys()

	svcs := doc.Services()
	_, hasBuild := svcs["web"]["build"]
	assert.False(t, hasBuild)
	_, hasBuild = svcs["worker"]["build"]
	assert.False(t, hasBuild)
	assert.Equal(t, "web:latest", svcs["web"]["image"])
}

func TestStampVersion_SetsVersionLabelPreservingExisting(t *testing.T) {
	doc, err := ParseCompose([]byte(sampleCompose))
	require.NoError(t, err)

	doc.StampVersion("aaaaaaaa-bbbbbbbb")

	labels := doc.Services()["web"]["labels"].(map[string]any)
	assert.Equal(t, "auto-aaaaaaaa-bbbbbbbb", labels["version"])
	assert.Equal(t, "team-a", labels["owner"], "existing labels must survive stamping")

	workerLabels := doc.Services()["worker"]["labels"].(map[string]any)
	assert.Equal(t, "auto-aaaaaaaa-bbbbbbbb", workerLabels["version"])
}

func TestBuildSpecs_OnlyIncludesServicesWithBuildContext(t *testing.T) {
	doc, err := ParseCompose([]byte(sampleCompose))
	require.NoError(t, err)

	specs := doc.BuildSpecs(true)
	require.Len(t, specs, 2)

	byService := map[string]BuildSpec{}
	for _, s := range specs {
		byService[s.Service] = s
	}
	assert.Equal(t, "./web", byService["web"].Context)
	assert.Equal(t, "web:latest", byService["web"].Image)
	assert.True(t, byService["web"].Publish)
	assert.Equal(t, "./worker", byService["worker"].Context, "string-form build key must resolve to its context")
}

func TestComposeFromSnapshot_BuildsImageOnlyDocument(t *testing.T) {
	running := domain.DeploymentSnapshot{
		"web": {Image: "web:auto-aaaa", Version: "auto-aaaa"},
	}
	doc := ComposeFromSnapshot(running)
	assert.Equal(t, "web:auto-aaaa", doc.Services()["web"]["image"])
}

func TestMergePatch_DescribesImageChange(t *testing.T) {
	running := domain.DeploymentSnapshot{
		"web": {Image: "web:auto-aaaa", Version: "auto-aaaa"},
	}
	prior := ComposeFromSnapshot(running)

	desired, err := ParseCompose([]byte(`
services:
  web:
    image: web:auto-bbbb
`))
	require.NoError(t, err)

	patch, err := desired.MergePatch(prior)
	require.NoError(t, err)
	assert.Contains(t, string(patch), "web:auto-bbbb")
}
