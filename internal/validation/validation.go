// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

// Package validation enforces the Environment invariants from the data
// model using go-playground/validator/v10 struct tags plus a registered
// custom validator for the commit-id/HEAD pin pattern.
package validation

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/branchctl/branchctl/internal/domain"
)

var commitOrHead = regexp.MustCompile(`^(HEAD|[0-9a-f]{40})$`)

// Validator validates Environment values.
type Validator struct {
	v *validator.Validate
}

// New constructs a Validator with the commit-id/HEAD custom rule
// registered under the tag "pin".
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("pin", func(fl validator.FieldLevel) bool {
		return commitOrHead.MatchString(fl.Field().String())
	})
	return &Validator{v: v}
}

// ValidateEnvironment checks the struct tags on domain.Environment and its
// BranchPin entries, then the cross-field invariants Validate() on the type
// itself cannot express via tags alone.
func (val *Validator) ValidateEnvironment(env *domain.Environment) error {
	if err := val.v.Struct(env); err != nil {
		return fmt.Errorf("environment %q: %w", env.ID, err)
	}
	for i, b := range env.Branches {
		if err := val.v.Var(b.Pin, "required,pin"); err != nil {
			return fmt.Errorf("environment %q: branches[%d].pin: %w", env.ID, i, err)
		}
	}
	return env.Validate()
}
