// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

// Package githook is an optional supplement: a GitHub webhook receiver that
// wakes the control loop early on a validly signed push event instead of
// waiting out the full 60-second poll; it does not check which repository
// the push was to. Trimmed to the push-event/HMAC-
// validation subset this system needs.
package githook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/branchctl/branchctl/internal/logging"
)

// PushEvent is the push-event subset this receiver extracts.
type PushEvent struct {
	RepoURL       string
	Branch        string
	HeadCommit    string
	ModifiedPaths []string
}

// WakeFunc is called once per validly signed push event.
type WakeFunc func(PushEvent)

// Receiver validates and parses GitHub push webhooks.
type Receiver struct {
	secret []byte
	wake   WakeFunc
}

// NewReceiver constructs a Receiver. secret is the shared webhook secret
// configured on the GitHub side.
func NewReceiver(secret string, wake WakeFunc) *Receiver {
	return &Receiver{secret: []byte(secret), wake: wake}
}

// ServeHTTP validates the `X-Hub-Signature-256` header and, for push
// events, extracts the touched branch/commit and invokes wake.
func (rcv *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if err := rcv.validateSignature(r.Header.Get("X-Hub-Signature-256"), body); err != nil {
		logger.Warn("webhook signature validation failed", "error", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	if r.Header.Get("X-GitHub-Event") != "push" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	event, err := parsePushPayload(body)
	if err != nil {
		logger.Warn("failed to parse push payload", "error", err)
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	if rcv.wake != nil {
		rcv.wake(event)
	}
	w.WriteHeader(http.StatusOK)
}

// validateSignature checks the `sha256=` HMAC prefix against body.
func (rcv *Receiver) validateSignature(header string, body []byte) error {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return fmt.Errorf("missing sha256 signature")
	}
	expected := strings.TrimPrefix(header, prefix)

	mac := hmac.New(sha256.New, rcv.secret)
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(computed)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func parsePushPayload(body []byte) (PushEvent, error) {
	var payload github.PushEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		return PushEvent{}, fmt.Errorf("unmarshal push event: %w", err)
	}

	branch := strings.TrimPrefix(payload.GetRef(), "refs/heads/")
	var paths []string
	if head := payload.GetHeadCommit(); head != nil {
		paths = append(paths, head.Added...)
		paths = append(paths, head.Modified...)
		paths = append(paths, head.Removed...)
	}

	return PushEvent{
		RepoURL:       payload.GetRepo().GetCloneURL(),
		Branch:        branch,
		HeadCommit:    payload.GetHeadCommit().GetID(),
		ModifiedPaths: paths,
	}, nil
}

// TokenSource builds an oauth2 static token source for an authenticated
// go-github client; NewClient uses it.
func TokenSource(ctx context.Context, token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
}

// NewClient builds an authenticated go-github client from token.
func NewClient(ctx context.Context, token string) *github.Client {
	ts := TokenSource(ctx, token)
	return github.NewClient(oauth2.NewClient(ctx, ts))
}
