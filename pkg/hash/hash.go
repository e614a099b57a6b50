// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

// Package hash provides generic utilities for computing short, stable
// identifiers from arbitrary values. This package contains no domain-specific
// types and can be used by any package.
package hash

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"sort"
)

// ComputeHash hashes obj using a deterministic string dump (see forHash) and
// an optional collision count, in the style of Kubernetes' ComputeHash but
// without any Kubernetes dependency.
func ComputeHash(obj any, collisionCount *int32) string {
	hasher := fnv.New32a()
	hasher.Write([]byte(forHash(obj)))
	if collisionCount != nil && *collisionCount >= 0 {
		fmt.Fprintf(hasher, "%d", *collisionCount)
	}
	return fmt.Sprintf("%08x", hasher.Sum32())
}

// Equal returns true if two objects produce the same hash.
func Equal(obj1, obj2 any) bool {
	return ComputeHash(obj1, nil) == ComputeHash(obj2, nil)
}

// ShortSHA1 returns the first n hex characters of the SHA-1 digest of s.
// Used to derive deterministic working-directory names from a repository
// URL.
func ShortSHA1(s string, n int) string {
	sum := sha1.Sum([]byte(s))
	full := hex.EncodeToString(sum[:])
	if n <= 0 || n > len(full) {
		return full
	}
	return full[:n]
}

// SortedJoinHash returns a stable hash of a set of strings regardless of
// input order.
func SortedJoinHash(items []string) string {
	sorted := make([]string, len(items))
	copy(sorted, items)
	sort.Strings(sorted)
	h := sha1.New()
	for _, s := range sorted {
		fmt.Fprintf(h, "%s\x00", s)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// forHash produces a deterministic string representation of obj suitable for
// hashing. Unlike a generic dump, it is content-stable across map key order.
func forHash(obj any) string {
	return fmt.Sprintf("%#v", obj)
}
