// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

package merge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	_ "github.com/go-git/go-git/v5/plumbing/transport/file"
	"github.com/stretchr/testify/require"

	"github.com/branchctl/branchctl/internal/domain"
	"github.com/branchctl/branchctl/internal/scm"
)

// testRepo is a throwaway fixture: a bare "origin" plus a clone wired up the
// same way a real SourceClone step would open one, so Planner exercises the
// actual go-git plumbing rather than a mock.
type testRepo struct {
	t      *testing.T
	bare   string
	seed   *git.Repository
	seedWT *git.Worktree
	sig    *object.Signature
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	bare := filepath.Join(t.TempDir(), "origin.git")
	_, err := git.PlainInit(bare, true)
	require.NoError(t, err)

	seedDir := filepath.Join(t.TempDir(), "seed")
	seed, err := git.PlainInit(seedDir, false)
	require.NoError(t, err)
	_, err = seed.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{bare}})
	require.NoError(t, err)

	wt, err := seed.Worktree()
	require.NoError(t, err)

	return &testRepo{
		t: t, bare: bare, seed: seed, seedWT: wt,
		sig: &object.Signature{Name: "fixture", Email: "fixture@example.com", When: time.Now()},
	}
}

// commit writes files (path -> content) on the current branch and commits.
func (tr *testRepo) commit(files map[string]string, msg string) string {
	tr.t.Helper()
	root := tr.seedWT.Filesystem.Root()
	for path, content := range files {
		full := filepath.Join(root, path)
		require.NoError(tr.t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(tr.t, os.WriteFile(full, []byte(content), 0o644))
		_, err := tr.seedWT.Add(path)
		require.NoError(tr.t, err)
	}
	h, err := tr.seedWT.Commit(msg, &git.CommitOptions{Author: tr.sig})
	require.NoError(tr.t, err)
	return h.String()
}

func (tr *testRepo) branchFrom(name string, at string) {
	tr.t.Helper()
	opts := &git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(name), Create: true}
	if at != "" {
		opts.Hash = plumbing.NewHash(at)
	}
	require.NoError(tr.t, tr.seedWT.Checkout(opts))
}

func (tr *testRepo) pushAll() {
	tr.t.Helper()
	err := tr.seed.Push(&git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{"refs/heads/*:refs/heads/*"},
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		require.NoError(tr.t, err)
	}
}

// clone opens a *scm.Repository against the bare origin, the same entry
// point SourceClone uses in production.
func (tr *testRepo) clone(ctx context.Context) *scm.Repository {
	tr.t.Helper()
	dir := filepath.Join(tr.t.TempDir(), "clone")
	repo, err := scm.Open(ctx, tr.bare, dir, scm.Credentials{})
	require.NoError(tr.t, err)
	return repo
}

func TestVersion_IsOrderIndependent(t *testing.T) {
	a := []string{"bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}
	b := []string{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"}

	require.Equal(t, Version(a), Version(b))
	require.Equal(t, "aaaaaaaa-bbbbbbbb", Version(a))
}

func TestShortID_ShortInputPassesThrough(t *testing.T) {
	require.Equal(t, "abc", shortID("abc"))
}

func TestIntersectSets(t *testing.T) {
	sets := []map[string]bool{
		{"a": true, "b": true, "c": true},
		{"b": true, "c": true},
		{"c": true, "d": true},
	}
	require.Equal(t, map[string]bool{"c": true}, intersectSets(sets))
}

func TestIntersectSets_Empty(t *testing.T) {
	require.Empty(t, intersectSets(nil))
}

func TestPickDeterministic(t *testing.T) {
	id, ok := pickDeterministic(map[string]bool{"z": true, "a": true, "m": true})
	require.True(t, ok)
	require.Equal(t, "a", id)

	_, ok = pickDeterministic(map[string]bool{})
	require.False(t, ok)
}

func TestAsMergeConflict(t *testing.T) {
	var target *scm.MergeConflictError
	require.True(t, asMergeConflict(&scm.MergeConflictError{Path: "x"}, &target))
	require.Equal(t, "x", target.Path)

	target = nil
	require.False(t, asMergeConflict(context.DeadlineExceeded, &target))
}

func TestPlanner_Plan_SyntheticMergeClean(t *testing.T) {
	tr := newTestRepo(t)
	base := tr.commit(map[string]string{"base.txt": "base"}, "base")
	tr.branchFrom("feature-a", base)
	c1 := tr.commit(map[string]string{"a.txt": "a"}, "add a")
	tr.branchFrom("feature-b", base)
	c2 := tr.commit(map[string]string{"b.txt": "b"}, "add b")
	tr.pushAll()

	ctx := context.Background()
	repo := tr.clone(ctx)

	p := &Planner{Repo: repo, Author: Author{Name: "branchctl", Email: "branchctl@localhost"}, Push: true}
	result, err := p.Plan(ctx, []domain.BranchPin{
		{Branch: "feature-a", Pin: domain.HeadPin},
		{Branch: "feature-b", Pin: domain.HeadPin},
	})

	require.NoError(t, err)
	require.Equal(t, "auto/"+Version([]string{c1, c2}), result.BranchName)
	require.NotEmpty(t, result.CommitID)
	require.Equal(t, Version([]string{c1, c2}), result.Version)
}

func TestPlanner_Plan_ConflictAborts(t *testing.T) {
	tr := newTestRepo(t)
	base := tr.commit(map[string]string{"shared.txt": "base"}, "base")
	tr.branchFrom("feature-a", base)
	tr.commit(map[string]string{"shared.txt": "A"}, "change to A")
	tr.branchFrom("feature-b", base)
	tr.commit(map[string]string{"shared.txt": "B"}, "change to B")
	tr.pushAll()

	ctx := context.Background()
	repo := tr.clone(ctx)

	p := &Planner{Repo: repo, Author: Author{Name: "branchctl", Email: "branchctl@localhost"}}
	_, err := p.Plan(ctx, []domain.BranchPin{
		{Branch: "feature-a", Pin: domain.HeadPin},
		{Branch: "feature-b", Pin: domain.HeadPin},
	})

	require.Error(t, err)
	require.Contains(t, err.Error(), "Merge conflict: commit")
	require.Contains(t, err.Error(), "shared.txt")
}

func TestPlanner_Plan_ReusesExistingMergeDescendantBranch(t *testing.T) {
	tr := newTestRepo(t)
	base := tr.commit(map[string]string{"base.txt": "base"}, "base")
	tr.branchFrom("feature-a", base)
	tr.commit(map[string]string{"a.txt": "a"}, "add a")
	tr.branchFrom("feature-b", base)
	tr.commit(map[string]string{"b.txt": "b"}, "add b")
	tr.pushAll()

	ctx := context.Background()
	repo := tr.clone(ctx)

	c1, err := repo.ResolveBranchTip("feature-a")
	require.NoError(t, err)
	c2, err := repo.ResolveBranchTip("feature-b")
	require.NoError(t, err)

	sig := object.Signature{Name: "fixture", Email: "fixture@example.com", When: time.Now()}
	merged, err := repo.MergeCommits(ctx, c1, c2, sig)
	require.NoError(t, err)
	require.NoError(t, repo.ForceCreateLocalBranch("integration", merged))
	require.NoError(t, repo.Push(ctx, "integration"))
	require.NoError(t, repo.Fetch(ctx))

	p := &Planner{Repo: repo, Author: Author{Name: "branchctl", Email: "branchctl@localhost"}, Push: true}
	result, err := p.Plan(ctx, []domain.BranchPin{
		{Branch: "feature-a", Pin: domain.HeadPin},
		{Branch: "feature-b", Pin: domain.HeadPin},
	})

	require.NoError(t, err)
	require.Equal(t, "integration", result.BranchName)
	require.Equal(t, merged, result.CommitID)
}
