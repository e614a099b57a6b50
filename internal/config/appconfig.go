// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/branchctl/branchctl/internal/domain"
	"github.com/branchctl/branchctl/internal/scm"
)

// AppConfig is the startup configuration surface: a list of
// environment definitions, an id filter, a dry-run flag, a peer URL, and
// per-provider credentials.
type AppConfig struct {
	Environments []domain.Environment `koanf:"environments"`
	Filter       []string             `koanf:"filter"`
	Dry          bool                 `koanf:"dry"`
	PeerURL      string               `koanf:"peer_url"`
	StackName    string               `koanf:"stack_name"`
	ComposePath  string               `koanf:"compose_path"`
	WorkdirBase  string               `koanf:"workdir_base"`
	CredPrefix   string               `koanf:"cred_prefix"`
	// PollInterval overrides the control loop's bounded poll wait
	// (controlloop.WakeTimeout), e.g. "90s" or "2m". Parsed with
	// cmdutil.ParseDuration, so day units ("1d") are also accepted.
	PollInterval string `koanf:"poll_interval"`
}

// Validate implements the Validator interface the loader honours.
func (c *AppConfig) Validate() error {
	for i := range c.Environments {
		if err := c.Environments[i].Validate(); err != nil {
			return fmt.Errorf("environments[%d]: %w", i, err)
		}
	}
	return nil
}

// FilteredEnvironments applies the inclusion/exclusion filter expression
// from §6: an inclusion list of ids, or an exclusion list where every entry
// is prefixed with "-". Mixing the two forms is rejected.
func (c *AppConfig) FilteredEnvironments() ([]domain.Environment, error) {
	if len(c.Filter) == 0 {
		return c.Environments, nil
	}

	exclude := strings.HasPrefix(c.Filter[0], "-")
	ids := make(map[string]bool, len(c.Filter))
	for _, f := range c.Filter {
		isExclude := strings.HasPrefix(f, "-")
		if isExclude != exclude {
			return nil, fmt.Errorf("filter must be entirely an inclusion list or entirely an exclusion list (prefixed with -)")
		}
		ids[strings.TrimPrefix(f, "-")] = true
	}

	var out []domain.Environment
	for _, env := range c.Environments {
		included := ids[env.ID]
		if included == exclude {
			continue
		}
		out = append(out, env)
	}
	return out, nil
}

// CredentialsFor loads `<PREFIX>_USERNAME` / `<PREFIX>_PASSWORD` from the
// process environment for one source-control provider, per §6.
func CredentialsFor(prefix string) scm.Credentials {
	return scm.Credentials{
		Username: os.Getenv(prefix + "_USERNAME"),
		Password: os.Getenv(prefix + "_PASSWORD"),
	}
}
