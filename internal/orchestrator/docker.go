// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/branchctl/branchctl/internal/domain"
)

// Ops wraps the docker CLI for the image build/push/stack-deploy
// subprocess mechanics OrchestratorOps needs.
type Ops struct {
	// StackNamespaceLabel names the orchestrator's stack-namespace label,
	// e.g. "com.docker.stack.namespace". InspectStack does not read it; it
	// lists a stack's services with `docker stack services <stack>`.
	StackNamespaceLabel string
}

// CapturedError is a subprocess failure carrying its captured stderr, per
// §4.1 StackDeploy's "a non-zero exit is a Failure with the captured
// stderr" contract.
type CapturedError struct {
	Cmd    string
	Stderr string
}

func (e *CapturedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Cmd, e.Stderr)
}

func run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &CapturedError{Cmd: fmt.Sprintf("%s %v", name, args), Stderr: stderr.String()}
	}
	return stdout.String(), nil
}

// LoginRegistry logs in to a container registry before a publish build.
func (o *Ops) LoginRegistry(ctx context.Context, registry, username, password string) error {
	cmd := exec.CommandContext(ctx, "docker", "login", registry, "-u", username, "--password-stdin")
	cmd.Stdin = bytes.NewBufferString(password)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("registry login: %w", &CapturedError{Cmd: "docker login", Stderr: stderr.String()})
	}
	return nil
}

// ImageExistsRemote checks whether image:tag is already present in the
// registry, via `docker manifest inspect`.
func (o *Ops) ImageExistsRemote(ctx context.Context, image string) bool {
	_, err := run(ctx, "", "docker", "manifest", "inspect", image)
	return err == nil
}

// ImageExistsLocal checks whether image:tag already exists locally.
func (o *Ops) ImageExistsLocal(ctx context.Context, image string) bool {
	out, err := run(ctx, "", "docker", "images", "-q", image)
	return err == nil && out != ""
}

// BuildImage builds spec.Image from the build context rooted at workdir.
func (o *Ops) BuildImage(ctx context.Context, workdir string, spec BuildSpec) error {
	buildCtx := filepath.Join(workdir, spec.Context)
	_, err := run(ctx, workdir, "docker", "build", "-t", spec.Image, buildCtx)
	if err != nil {
		return fmt.Errorf("build %s: %w", spec.Image, err)
	}
	return nil
}

// PushImage pushes a previously built image.
func (o *Ops) PushImage(ctx context.Context, image string) error {
	_, err := run(ctx, "", "docker", "push", image)
	if err != nil {
		return fmt.Errorf("push %s: %w", image, err)
	}
	return nil
}

// BuildMissing builds (and optionally pushes) every spec whose image is not
// already present, per §4.1 ImageBuild: if publish, skip images that already
// exist remotely; otherwise skip images already present locally. Returns
// the images actually built.
func (o *Ops) BuildMissing(ctx context.Context, workdir string, specs []BuildSpec) ([]string, error) {
	var built []string
	for _, spec := range specs {
		exists := false
		if spec.Publish {
			exists = o.ImageExistsRemote(ctx, spec.Image)
		} else {
			exists = o.ImageExistsLocal(ctx, spec.Image)
		}
		if exists {
			continue
		}
		if err := o.BuildImage(ctx, workdir, spec); err != nil {
			return built, err
		}
		if spec.Publish {
			if err := o.PushImage(ctx, spec.Image); err != nil {
				return built, err
			}
		}
		built = append(built, spec.Image)
	}
	return built, nil
}

// DeployStack writes the desired compose document to a temp file alongside
// composePath and invokes `docker stack deploy` with pruning. A non-zero
// exit becomes a *CapturedError carrying the captured stderr.
func (o *Ops) DeployStack(ctx context.Context, composePath, stackName string, desired *ComposeDocument) error {
	data, err := desired.Dump()
	if err != nil {
		return fmt.Errorf("dump desired compose: %w", err)
	}
	tmpPath := composePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp compose: %w", err)
	}
	defer os.Remove(tmpPath)

	_, err = run(ctx, filepath.Dir(composePath), "docker", "stack", "deploy",
		"--with-registry-auth", "--prune", "-c", tmpPath, stackName)
	if err != nil {
		return fmt.Errorf("deploy stack %s: %w", stackName, err)
	}
	return nil
}

// dockerServiceInspect is one JSON line of `docker stack services --format
// '{{json .}}'`, decoded to reconstruct a deployment snapshot.
type dockerServiceInspect struct {
	Name   string            `json:"Name"`
	Image  string            `json:"Image"`
	Labels map[string]string `json:"Labels"`
}

// InspectStack reconstructs the deployment snapshot for a named stack by
// listing its services and reading each one's image tag and version label.
func (o *Ops) InspectStack(ctx context.Context, stackName string) (domain.DeploymentSnapshot, error) {
	out, err := run(ctx, "", "docker", "stack", "services", stackName,
		"--format", "{{json .}}")
	if err != nil {
		return nil, fmt.Errorf("list stack services: %w", err)
	}

	snapshot := domain.DeploymentSnapshot{}
	dec := json.NewDecoder(bytes.NewReader([]byte(out)))
	for dec.More() {
		var svc dockerServiceInspect
		if err := dec.Decode(&svc); err != nil {
			return nil, fmt.Errorf("decode service entry: %w", err)
		}
		version := svc.Labels["version"]
		snapshot[svc.Name] = domain.DeploymentService{
			Image:          svc.Image,
			StackNamespace: stackName,
			Version:        version,
		}
	}
	return snapshot, nil
}
