// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

package githook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

const pushPayload = `{
  "ref": "refs/heads/main",
  "repository": {"clone_url": "https://example.com/repo.git"},
  "head_commit": {"id": "abc123", "added": ["a.txt"], "modified": ["b.txt"], "removed": []}
}`

func TestReceiver_ValidSignaturePushEventWakes(t *testing.T) {
	secret := "shh"
	var got PushEvent
	woke := false
	rcv := NewReceiver(secret, func(e PushEvent) {
		woke = true
		got = e
	})

	body := []byte(pushPayload)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign([]byte(secret), body))
	req.Header.Set("X-GitHub-Event", "push")
	w := httptest.NewRecorder()

	rcv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.True(t, woke)
	assert.Equal(t, "https://example.com/repo.git", got.RepoURL)
	assert.Equal(t, "main", got.Branch)
	assert.Equal(t, "abc123", got.HeadCommit)
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, got.ModifiedPaths)
}

func TestReceiver_InvalidSignatureRejected(t *testing.T) {
	woke := false
	rcv := NewReceiver("shh", func(e PushEvent) { woke = true })

	body := []byte(pushPayload)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	req.Header.Set("X-GitHub-Event", "push")
	w := httptest.NewRecorder()

	rcv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, woke)
}

func TestReceiver_MissingSignatureHeaderRejected(t *testing.T) {
	rcv := NewReceiver("shh", func(e PushEvent) {})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader([]byte(pushPayload)))
	req.Header.Set("X-GitHub-Event", "push")
	w := httptest.NewRecorder()

	rcv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReceiver_NonPushEventIgnored(t *testing.T) {
	woke := false
	rcv := NewReceiver("shh", func(e PushEvent) { woke = true })

	body := []byte(pushPayload)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign([]byte("shh"), body))
	req.Header.Set("X-GitHub-Event", "ping")
	w := httptest.NewRecorder()

	rcv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, woke)
}

func TestReceiver_MalformedPayloadRejected(t *testing.T) {
	rcv := NewReceiver("shh", func(e PushEvent) {})

	body := []byte("not json")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign([]byte("shh"), body))
	req.Header.Set("X-GitHub-Event", "push")
	w := httptest.NewRecorder()

	rcv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
