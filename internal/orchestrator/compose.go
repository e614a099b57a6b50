// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator wraps the compose document and docker-stack
// mechanics OrchestratorOps needs: parsing/dumping via gopkg.in/yaml.v3,
// ${VAR} substitution, and shelling out to the docker CLI for
// build/push/stack-deploy since no container-engine SDK client is in use.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"gopkg.in/yaml.v3"

	"github.com/branchctl/branchctl/internal/clone"
	"github.com/branchctl/branchctl/internal/domain"
)

// ComposeDocument is a docker-compose file, decoded generically so unknown
// top-level keys round-trip untouched.
type ComposeDocument struct {
	raw map[string]any
}

// ParseCompose decodes a compose document from YAML bytes.
func ParseCompose(data []byte) (*ComposeDocument, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse compose document: %w", err)
	}
	return &ComposeDocument{raw: raw}, nil
}

// Dump re-encodes the document as YAML.
func (c *ComposeDocument) Dump() ([]byte, error) {
	return yaml.Marshal(c.raw)
}

// Services returns a defensive deep copy of the service-name to
// service-definition map, so a caller diffing or inspecting it (e.g.
// StackDeploy's running-vs-desired comparison) cannot corrupt the
// document's internal state.
func (c *ComposeDocument) Services() map[string]map[string]any {
	svcs, _ := c.raw["services"].(map[string]any)
	out := make(map[string]map[string]any, len(svcs))
	for name, def := range svcs {
		if m, ok := def.(map[string]any); ok {
			out[name] = clone.DeepCopyMap(m)
		}
	}
	return out
}

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Substitute replaces every ${VAR} token anywhere in the document with the
// caller-supplied value, leaving unresolved tokens untouched (so a missing
// variable surfaces as a visible literal rather than silently dropping it).
func (c *ComposeDocument) Substitute(vars map[string]string) {
	c.raw = substituteAny(c.raw, vars).(map[string]any)
}

func substituteAny(v any, vars map[string]string) any {
	switch val := v.(type) {
	case string:
		return varPattern.ReplaceAllStringFunc(val, func(tok string) string {
			name := varPattern.FindStringSubmatch(tok)[1]
			if rep, ok := vars[name]; ok {
				return rep
			}
			return tok
		})
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = substituteAny(vv, vars)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = substituteAny(vv, vars)
		}
		return out
	default:
		return v
	}
}

// StripBuildKeys removes the `build:` key from every service, as
// StackDeploy's desired compose does before writing the deploy document.
func (c *ComposeDocument) StripBuildKeys() {
	svcs, ok := c.raw["services"].(map[string]any)
	if !ok {
		return
	}
	for name, def := range svcs {
		m, ok := def.(map[string]any)
		if !ok {
			continue
		}
		delete(m, "build")
		svcs[name] = m
	}
	c.raw["services"] = svcs
}

// StampVersion sets a `version` label on every service, as StackDeploy does
// before deploying.
func (c *ComposeDocument) StampVersion(version string) {
	svcs, ok := c.raw["services"].(map[string]any)
	if !ok {
		return
	}
	for name, def := range svcs {
		m, ok := def.(map[string]any)
		if !ok {
			continue
		}
		labels, _ := m["labels"].(map[string]any)
		if labels == nil {
			labels = map[string]any{}
		}
		labels["version"] = "auto-" + version
		m["labels"] = labels
		svcs[name] = m
	}
	c.raw["services"] = svcs
}

// ComposeFromSnapshot builds a minimal ComposeDocument describing only the
// image each service in running is currently deployed at, so a dry-run
// diff can MergePatch it against a fully-parsed desired document.
func ComposeFromSnapshot(running domain.DeploymentSnapshot) *ComposeDocument {
	svcs := make(map[string]any, len(running))
	for name, svc := range running {
		svcs[name] = map[string]any{"image": svc.Image}
	}
	return &ComposeDocument{raw: map[string]any{"services": svcs}}
}

// MergePatch returns the RFC 7386 JSON merge patch that transforms prior
// into c, for a human-readable dry-run diff of the full document rather
// than just the per-service image comparison.
func (c *ComposeDocument) MergePatch(prior *ComposeDocument) ([]byte, error) {
	oldJSON, err := json.Marshal(prior.raw)
	if err != nil {
		return nil, fmt.Errorf("marshal prior compose document: %w", err)
	}
	newJSON, err := json.Marshal(c.raw)
	if err != nil {
		return nil, fmt.Errorf("marshal desired compose document: %w", err)
	}
	return jsonpatch.CreateMergePatch(oldJSON, newJSON)
}

// BuildSpec describes one service's image build, derived from its `build:`
// context and `image:` tag in the compose document.
type BuildSpec struct {
	Service string
	Context string
	Image   string
	Publish bool
}

// BuildSpecs returns a BuildSpec for every service with a build: context.
func (c *ComposeDocument) BuildSpecs(publish bool) []BuildSpec {
	var specs []BuildSpec
	for name, def := range c.Services() {
		build, ok := def["build"]
		if !ok {
			continue
		}
		ctx := ""
		switch b := build.(type) {
		case string:
			ctx = b
		case map[string]any:
			if c, ok := b["context"].(string); ok {
				ctx = c
			}
		}
		image, _ := def["image"].(string)
		specs = append(specs, BuildSpec{Service: name, Context: ctx, Image: image, Publish: publish})
	}
	return specs
}
