// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/go-cmp/cmp"

	"github.com/branchctl/branchctl/internal/pipeline/step"
)

// ExpectedChecker is invoked with the parsed JSON response body and may
// return an error to signal failure, the "expected is a callable" case from
// §4.1 UrlProbe.
type ExpectedChecker func(response any) error

// UrlProbe performs a single HTTP GET and checks the response against an
// expected value or checker function.
type UrlProbe struct {
	*step.Memo[any]
}

// NewUrlProbeValue constructs a UrlProbe that deep-compares the JSON
// response against a structural expected value.
func NewUrlProbeValue(url string, expected any) *UrlProbe {
	return newURLProbe(url, expected, nil)
}

// NewUrlProbeFunc constructs a UrlProbe that delegates the check to a
// caller-supplied function.
func NewUrlProbeFunc(url string, checker ExpectedChecker) *UrlProbe {
	return newURLProbe(url, nil, checker)
}

func newURLProbe(url string, expected any, checker ExpectedChecker) *UrlProbe {
	s := &UrlProbe{}
	s.Memo = step.NewMemo("UrlProbe", func(ctx context.Context) (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, step.NewFailure("build request for %s: %v", url, err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, step.NewFailure("GET %s: %v", url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, step.NewFailure("GET %s: non-2xx status %d", url, resp.StatusCode)
		}

		var parsed any
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, step.NewFailure("decode response from %s: %v", url, err)
		}

		if checker != nil {
			if err := checker(parsed); err != nil {
				return nil, step.NewFailure("%v", err)
			}
			return parsed, nil
		}

		if diff := deepCompareExpected(expected, parsed); diff != "" {
			return nil, step.NewFailure("response mismatch at %s: %s", url, diff)
		}
		return parsed, nil
	})
	return s
}

// deepCompareExpected recursively compares parsed against the keys present
// in expected (not a full equality check: extra keys in parsed are
// ignored), returning a description of the first mismatch found or "".
func deepCompareExpected(expected, actual any) string {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return fmt.Sprintf("expected object, got %T", actual)
		}
		for k, v := range exp {
			av, present := act[k]
			if !present {
				return fmt.Sprintf("missing key %q", k)
			}
			if diff := deepCompareExpected(v, av); diff != "" {
				return fmt.Sprintf("%s.%s", k, diff)
			}
		}
		return ""
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return "array shape mismatch"
		}
		for i := range exp {
			if diff := deepCompareExpected(exp[i], act[i]); diff != "" {
				return fmt.Sprintf("[%d]%s", i, diff)
			}
		}
		return ""
	default:
		if !cmp.Equal(expected, actual) {
			return fmt.Sprintf("expected %v, got %v", expected, actual)
		}
		return ""
	}
}
