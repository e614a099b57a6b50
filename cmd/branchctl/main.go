// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

// Command branchctl is the operator CLI: ad hoc configuration validation,
// merge-version resolution, unmerge planning, and a one-shot git-ref
// resolver for scripting against a single branch without a running
// controller.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/branchctl/branchctl/internal/config"
	"github.com/branchctl/branchctl/internal/domain"
	"github.com/branchctl/branchctl/internal/logging"
	"github.com/branchctl/branchctl/internal/merge"
	"github.com/branchctl/branchctl/internal/scm"
	"github.com/branchctl/branchctl/internal/unmerge"
	"github.com/branchctl/branchctl/pkg/hash"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branchctl",
		Short: "Operate a branchctl environment fleet",
	}
	cmd.AddCommand(
		newValidateCmd(),
		newResolveCmd(),
		newUnmergeCmd(),
		newGitRefCmd(),
	)
	return cmd
}

// newValidateCmd loads and validates a configuration file per §6, the
// static check an operator runs before handing a config to the controller.
func newValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate an environment fleet configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader("BRANCHCTL")
			var cfg config.AppConfig
			if err := loader.LoadWithDefaults(&cfg, configPath); err != nil {
				return err
			}
			if err := loader.UnmarshalAndValidate("", &cfg); err != nil {
				return err
			}
			if _, err := cfg.FilteredEnvironments(); err != nil {
				return err
			}
			fmt.Printf("ok: %d environment(s) configured\n", len(cfg.Environments))
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the YAML configuration file")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

// newResolveCmd clones one repository and computes the §4.4 merge version
// string for a set of branch pins, without performing the merge itself —
// useful for previewing what a controller pass would deploy.
func newResolveCmd() *cobra.Command {
	var repoURL, workdir string
	var branches []string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a set of branch pins to a merge version",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logging.NewContext(context.Background(), logging.New(logging.Config{Level: "info"}))
			pins, err := parsePins(branches)
			if err != nil {
				return err
			}
			path := scm.WorkdirPath(workdir, "resolve", repoURL, hash.ShortSHA1)
			repo, err := scm.Open(ctx, repoURL, path, scm.Credentials{})
			if err != nil {
				return err
			}
			resolved := make([]string, 0, len(pins))
			for _, p := range pins {
				c, err := repo.ResolvePin(p)
				if err != nil {
					return err
				}
				resolved = append(resolved, c)
			}
			fmt.Println(merge.Version(resolved))
			return nil
		},
	}
	cmd.Flags().StringVar(&repoURL, "repo", "", "repository URL")
	cmd.Flags().StringVar(&workdir, "workdir", os.TempDir(), "base working directory")
	cmd.Flags().StringArrayVar(&branches, "branch", nil, "branch[:pin] to include, repeatable")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

// newUnmergeCmd runs the §4.5 unmerge planner against a JSON-encoded
// deployment snapshot read from stdin, printing the resolved branch/commit
// pairs an operator would feed back into the fleet configuration.
func newUnmergeCmd() *cobra.Command {
	var repoURL, workdir string
	cmd := &cobra.Command{
		Use:   "unmerge",
		Short: "Plan an unmerge from a deployment snapshot on stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logging.NewContext(context.Background(), logging.New(logging.Config{Level: "info"}))
			var snapshot domain.DeploymentSnapshot
			if err := json.NewDecoder(os.Stdin).Decode(&snapshot); err != nil {
				return fmt.Errorf("decode deployment snapshot: %w", err)
			}
			path := scm.WorkdirPath(workdir, "unmerge", repoURL, hash.ShortSHA1)
			repo, err := scm.Open(ctx, repoURL, path, scm.Credentials{})
			if err != nil {
				return err
			}
			planner := unmerge.Planner{Repo: repo}
			pairs, err := planner.Plan(snapshot)
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(pairs)
		},
	}
	cmd.Flags().StringVar(&repoURL, "repo", "", "repository URL")
	cmd.Flags().StringVar(&workdir, "workdir", os.TempDir(), "base working directory")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

// newGitRefCmd resolves an ORG/NAME@REF reference to a commit SHA via `git
// ls-remote` — useful for scripting a single environment's pin without a
// full fleet configuration.
func newGitRefCmd() *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "git-ref",
		Short: "Resolve ORG/NAME@REF to a commit SHA",
		RunE: func(cmd *cobra.Command, args []string) error {
			sha, err := resolveGitRef(ref)
			if err != nil {
				return err
			}
			fmt.Println(sha)
			return nil
		},
	}
	cmd.Flags().StringVar(&ref, "git-ref", "", "ORG/NAME@REF to resolve")
	_ = cmd.MarkFlagRequired("git-ref")
	return cmd
}

func resolveGitRef(ref string) (string, error) {
	parts := strings.SplitN(ref, "@", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("must be ORG/NAME@REF")
	}
	prefix := strings.SplitN(parts[0], "/", 2)
	if len(prefix) != 2 {
		return "", fmt.Errorf("must be ORG/NAME@REF")
	}
	out, err := exec.Command("git", "ls-remote",
		fmt.Sprintf("https://github.com/%s/%s.git", prefix[0], prefix[1]), parts[1]).Output()
	if err != nil {
		return "", fmt.Errorf("ls-remote %s: %w", ref, err)
	}
	line := strings.SplitN(string(out), "\n", 2)[0]
	fields := strings.SplitN(line, "\t", 2)
	if len(fields) == 0 || fields[0] == "" {
		return "", fmt.Errorf("ref %s not found", ref)
	}
	return fields[0], nil
}

func parsePins(raw []string) ([]domain.BranchPin, error) {
	pins := make([]domain.BranchPin, 0, len(raw))
	for _, r := range raw {
		parts := strings.SplitN(r, ":", 2)
		pin := domain.BranchPin{Branch: parts[0], Pin: domain.HeadPin}
		if len(parts) == 2 {
			pin.Pin = parts[1]
		}
		if err := pin.Validate(); err != nil {
			return nil, err
		}
		pins = append(pins, pin)
	}
	return pins, nil
}
