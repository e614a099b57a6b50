// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

// Package scm wraps github.com/go-git/go-git/v5 for the source-control
// mechanics the pipeline steps need: clone/fetch, branch enumeration,
// commit-graph construction, ref creation and force-update, push, and a
// sequential --no-ff merge with conflict detection, all via native go-git
// object/plumbing primitives — no `git` binary shellout.
package scm

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/branchctl/branchctl/internal/domain"
)

// Credentials holds the username/password pair loaded for one source-control
// provider, per the `<PREFIX>_USERNAME` / `<PREFIX>_PASSWORD` configuration
// surface in the external-interfaces contract.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) authMethod() transport.AuthMethod {
	if c.Username == "" && c.Password == "" {
		return nil
	}
	return &http.BasicAuth{Username: c.Username, Password: c.Password}
}

// Repository is a working copy synchronised with one upstream remote.
type Repository struct {
	Path  string
	repo  *git.Repository
	creds Credentials
}

// Open opens or clones repoURL into path, then fetches all refs from
// origin. The path is expected to be derived by the caller deterministically
// from (env.id, hash(repo_url)) per the SourceClone contract, so repeated
// calls reuse existing storage instead of re-cloning.
func Open(ctx context.Context, repoURL, path string, creds Credentials) (*Repository, error) {
	r, err := git.PlainOpen(path)
	if err != nil {
		r, err = git.PlainCloneContext(ctx, path, false, &git.CloneOptions{
			URL:  repoURL,
			Auth: creds.authMethod(),
		})
		if err != nil {
			return nil, fmt.Errorf("clone %s: %w", repoURL, err)
		}
		return &Repository{Path: path, repo: r, creds: creds}, nil
	}

	repo := &Repository{Path: path, repo: r, creds: creds}
	if err := repo.Fetch(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

// Fetch updates all remote-tracking refs for origin. It is not a failure for
// the remote to already be up to date.
func (r *Repository) Fetch(ctx context.Context) error {
	err := r.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: "origin",
		Auth:       r.creds.authMethod(),
		RefSpecs: []config.RefSpec{
			config.RefSpec("+refs/heads/*:refs/remotes/origin/*"),
		},
		Force: true,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return fmt.Errorf("fetch: %w", err)
	}
	return nil
}

// FetchPrefix narrows the remote refspec to refs/heads/<prefix>/*, per
// SourceClone's optional branch_prefix configuration.
func (r *Repository) FetchPrefix(ctx context.Context, prefix string) error {
	spec := fmt.Sprintf("+refs/heads/%s/*:refs/remotes/origin/%s/*", prefix, prefix)
	err := r.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: "origin",
		Auth:       r.creds.authMethod(),
		RefSpecs:   []config.RefSpec{config.RefSpec(spec)},
		Force:      true,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return fmt.Errorf("fetch prefix %s: %w", prefix, err)
	}
	return nil
}

// WorkdirPath derives the deterministic working-copy path for an
// environment, per SourceClone's "(env.id, hash(repo_url))" contract.
func WorkdirPath(baseDir, envID, repoURL string, shortHash func(string, int) string) string {
	return filepath.Join(baseDir, fmt.Sprintf("%s-%s", envID, shortHash(repoURL, 5)))
}

// ResolveBranchTip resolves origin/<branch> to its tip commit id.
func (r *Repository) ResolveBranchTip(branch string) (string, error) {
	ref, err := r.repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true)
	if err != nil {
		return "", fmt.Errorf("resolve branch %q: %w", branch, err)
	}
	return ref.Hash().String(), nil
}

// ResolvePin resolves a BranchPin to a commit id: HEAD resolves to the
// branch tip, anything else is taken as a literal commit id.
func (r *Repository) ResolvePin(pin domain.BranchPin) (string, error) {
	if pin.Pin == domain.HeadPin {
		return r.ResolveBranchTip(pin.Branch)
	}
	return pin.Pin, nil
}

// EnumerateBranches returns the branch snapshot defined in the data model:
// branch name to its most recent BranchSnapshotDepth commits, excluding
// origin/HEAD and any auto/* branch, optionally narrowed to a name prefix.
func (r *Repository) EnumerateBranches(prefix string) (domain.BranchSnapshot, error) {
	refs, err := r.repo.References()
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	snapshot := domain.BranchSnapshot{}
	var iterErr error
	refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name()
		if !strings.HasPrefix(name.String(), "refs/remotes/origin/") {
			return nil
		}
		branch := strings.TrimPrefix(name.String(), "refs/remotes/origin/")
		if branch == "HEAD" || strings.HasPrefix(branch, "auto/") {
			return nil
		}
		if prefix != "" && !strings.HasPrefix(branch, prefix+"/") {
			return nil
		}
		commits, err := r.recentCommits(ref.Hash(), domain.BranchSnapshotDepth)
		if err != nil {
			iterErr = err
			return err
		}
		snapshot[branch] = commits
		return nil
	})
	if iterErr != nil {
		return nil, iterErr
	}
	return snapshot, nil
}

func (r *Repository) recentCommits(from plumbing.Hash, limit int) ([]domain.CommitMeta, error) {
	iter, err := r.repo.Log(&git.LogOptions{From: from})
	if err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}
	defer iter.Close()

	var out []domain.CommitMeta
	for len(out) < limit {
		c, err := iter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("log iteration: %w", err)
		}
		out = append(out, domain.CommitMeta{
			CommitID:  c.Hash.String(),
			Author:    c.Author.Name,
			Timestamp: c.Author.When.UTC(),
			Message:   strings.TrimSpace(c.Message),
		})
	}
	return out, nil
}

// CommitGraph is the derived parent→children map over all reachable commits,
// rebuilt per source-control operation that needs it and never persisted.
type CommitGraph struct {
	Children map[string][]string
	Parents  map[string][]string
	repo     *git.Repository
}

// BuildCommitGraph walks every reachable commit from all remote-tracking
// branch tips and assembles the parent/child adjacency.
func (r *Repository) BuildCommitGraph() (*CommitGraph, error) {
	g := &CommitGraph{
		Children: make(map[string][]string),
		Parents:  make(map[string][]string),
		repo:     r.repo,
	}

	refs, err := r.repo.References()
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}

	visited := make(map[string]bool)
	var tips []plumbing.Hash
	refs.ForEach(func(ref *plumbing.Reference) error {
		if strings.HasPrefix(ref.Name().String(), "refs/remotes/origin/") &&
			!strings.HasSuffix(ref.Name().String(), "/HEAD") {
			tips = append(tips, ref.Hash())
		}
		return nil
	})

	var walk func(h plumbing.Hash) error
	walk = func(h plumbing.Hash) error {
		id := h.String()
		if visited[id] {
			return nil
		}
		visited[id] = true
		c, err := r.repo.CommitObject(h)
		if err != nil {
			return fmt.Errorf("commit object %s: %w", id, err)
		}
		parents := make([]string, 0, c.NumParents())
		for _, p := range c.ParentHashes {
			parents = append(parents, p.String())
			g.Children[p.String()] = append(g.Children[p.String()], id)
			if err := walk(p); err != nil {
				return err
			}
		}
		g.Parents[id] = parents
		return nil
	}

	for _, tip := range tips {
		if err := walk(tip); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// LegalMergeDescendants returns the legal merge-descendant set of commit c
// per §4.4 step 2: commits reachable by forward traversal from c that either
// equal c or are merge commits (more than one parent).
func (g *CommitGraph) LegalMergeDescendants(c string) map[string]bool {
	result := map[string]bool{}
	visited := map[string]bool{}
	var walk func(id string)
	walk = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		if id == c || len(g.Parents[id]) > 1 {
			result[id] = true
		}
		for _, child := range g.Children[id] {
			walk(child)
		}
	}
	walk(c)
	return result
}

// CommitObject resolves a commit id string to a go-git commit object.
func (r *Repository) CommitObject(id string) (*object.Commit, error) {
	return r.repo.CommitObject(plumbing.NewHash(id))
}

// RemoteBranchesAt returns the names of remote branches (excluding
// origin/HEAD and auto/*) whose tip equals commit id c.
func (r *Repository) RemoteBranchesAt(c string) ([]string, error) {
	refs, err := r.repo.References()
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	var names []string
	refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().String()
		if !strings.HasPrefix(name, "refs/remotes/origin/") {
			return nil
		}
		branch := strings.TrimPrefix(name, "refs/remotes/origin/")
		if branch == "HEAD" || strings.HasPrefix(branch, "auto/") {
			return nil
		}
		if ref.Hash().String() == c {
			names = append(names, branch)
		}
		return nil
	})
	sort.Strings(names)
	return names, nil
}

// ForceCreateLocalBranch creates (or force-updates) a local branch ref named
// name pointing at commit id c.
func (r *Repository) ForceCreateLocalBranch(name, c string) error {
	refName := plumbing.NewBranchReferenceName(name)
	ref := plumbing.NewHashReference(refName, plumbing.NewHash(c))
	if err := r.repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	return nil
}

// CheckoutBranch checks out a local branch by name, creating the worktree
// state at its current target.
func (r *Repository) CheckoutBranch(name string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Force:  true,
	}); err != nil {
		return fmt.Errorf("checkout %s: %w", name, err)
	}
	return nil
}

// CheckoutCommit detaches the worktree at commit id c.
func (r *Repository) CheckoutCommit(c string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{
		Hash:  plumbing.NewHash(c),
		Force: true,
	}); err != nil {
		return fmt.Errorf("checkout %s: %w", c, err)
	}
	return nil
}

// Push force-pushes local branch name to origin. A no-op push (already up
// to date) is not an error.
func (r *Repository) Push(ctx context.Context, name string) error {
	refSpec := config.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/heads/%s", name, name))
	err := r.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{refSpec},
		Auth:       r.creds.authMethod(),
		Force:      true,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return fmt.Errorf("push %s: %w", name, err)
	}
	return nil
}

// MergeConflictError reports a content-level merge conflict between two
// commits on the named file path.
type MergeConflictError struct {
	Path    string
	Ours    string
	Theirs  string
	Against string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("Merge conflict: %s differs between %s and %s", e.Path, e.Ours, e.Theirs)
}

// MergeCommits performs a --no-ff merge of "theirs" into "ours" using a
// content-level three-way merge over the blob trees (go-git has no porcelain
// merge command): for every path touched relative to the merge base, a
// change on only one side wins; a change to the same path on both sides with
// different content is a conflict and the merge aborts without creating a
// commit — an abort-the-merge-and-fail contract, not a partial merge.
//
// On success it writes the merged tree and a two-parent commit object and
// returns its id. The worktree is left checked out at the new commit.
func (r *Repository) MergeCommits(ctx context.Context, ours, theirs string, author object.Signature) (string, error) {
	oursC, err := r.CommitObject(ours)
	if err != nil {
		return "", fmt.Errorf("ours %s: %w", ours, err)
	}
	theirsC, err := r.CommitObject(theirs)
	if err != nil {
		return "", fmt.Errorf("theirs %s: %w", theirs, err)
	}

	base, err := r.mergeBase(oursC, theirsC)
	if err != nil {
		return "", fmt.Errorf("merge base of %s and %s: %w", ours, theirs, err)
	}

	mergedTree, err := r.threeWayMerge(base, oursC, theirsC)
	if err != nil {
		return "", err
	}

	commit := &object.Commit{
		Author:       author,
		Committer:    author,
		Message:      fmt.Sprintf("Merge %s into %s", theirs, ours),
		TreeHash:     mergedTree,
		ParentHashes: []plumbing.Hash{oursC.Hash, theirsC.Hash},
	}
	obj := r.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return "", fmt.Errorf("encode merge commit: %w", err)
	}
	hash, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return "", fmt.Errorf("store merge commit: %w", err)
	}

	if err := r.CheckoutCommit(hash.String()); err != nil {
		return "", fmt.Errorf("checkout merge result: %w", err)
	}
	return hash.String(), nil
}

// mergeBase returns the nearest common ancestor of a and b by BFS over
// parents, a sufficient approximation for the sequential two-parent merges
// this module performs (never more than one base commit needed per call).
func (r *Repository) mergeBase(a, b *object.Commit) (*object.Commit, error) {
	ancestors := map[string]bool{}
	queue := []*object.Commit{a}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		ancestors[c.Hash.String()] = true
		err := c.Parents().ForEach(func(p *object.Commit) error {
			queue = append(queue, p)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	queue = []*object.Commit{b}
	seen := map[string]bool{}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if seen[c.Hash.String()] {
			continue
		}
		seen[c.Hash.String()] = true
		if ancestors[c.Hash.String()] {
			return c, nil
		}
		err := c.Parents().ForEach(func(p *object.Commit) error {
			queue = append(queue, p)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("no common ancestor")
}

func (r *Repository) threeWayMerge(base, ours, theirs *object.Commit) (plumbing.Hash, error) {
	baseFiles, err := flattenTree(base)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	oursFiles, err := flattenTree(ours)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	theirsFiles, err := flattenTree(theirs)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	paths := map[string]bool{}
	for p := range baseFiles {
		paths[p] = true
	}
	for p := range oursFiles {
		paths[p] = true
	}
	for p := range theirsFiles {
		paths[p] = true
	}

	merged := map[string]plumbing.Hash{}
	for p := range paths {
		b, bOK := baseFiles[p]
		o, oOK := oursFiles[p]
		t, tOK := theirsFiles[p]

		switch {
		case oOK && tOK && o == t:
			merged[p] = o
		case oOK && !tOK && bOK && b == o:
			// deleted on theirs' side, unchanged on ours: delete
		case tOK && !oOK && bOK && b == t:
			// deleted on ours' side, unchanged on theirs: delete
		case bOK && oOK && b == o && tOK:
			merged[p] = t
		case bOK && tOK && b == t && oOK:
			merged[p] = o
		case !bOK && oOK && !tOK:
			merged[p] = o
		case !bOK && tOK && !oOK:
			merged[p] = t
		case oOK && tOK:
			return plumbing.ZeroHash, &MergeConflictError{Path: p, Ours: ours.Hash.String(), Theirs: theirs.Hash.String()}
		case oOK:
			merged[p] = o
		case tOK:
			merged[p] = t
		}
	}

	return r.buildTree(merged)
}

func flattenTree(c *object.Commit) (map[string]plumbing.Hash, error) {
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("tree of %s: %w", c.Hash, err)
	}
	out := map[string]plumbing.Hash{}
	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("walk tree: %w", err)
		}
		if entry.Mode.IsFile() {
			out[name] = entry.Hash
		}
	}
	return out, nil
}

// buildTree writes a flat path→blob-hash map as a nested tree object,
// returning the root tree hash.
func (r *Repository) buildTree(files map[string]plumbing.Hash) (plumbing.Hash, error) {
	type node struct {
		entries map[string]*node
		blob    *plumbing.Hash
	}
	root := &node{entries: map[string]*node{}}
	for path, h := range files {
		parts := strings.Split(path, "/")
		cur := root
		for i, part := range parts {
			if i == len(parts)-1 {
				hh := h
				cur.entries[part] = &node{blob: &hh}
				continue
			}
			child, ok := cur.entries[part]
			if !ok {
				child = &node{entries: map[string]*node{}}
				cur.entries[part] = child
			}
			cur = child
		}
	}

	var write func(n *node) (plumbing.Hash, error)
	write = func(n *node) (plumbing.Hash, error) {
		tree := &object.Tree{}
		names := make([]string, 0, len(n.entries))
		for name := range n.entries {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			child := n.entries[name]
			if child.blob != nil {
				tree.Entries = append(tree.Entries, object.TreeEntry{
					Name: name,
					Mode: filemode.Regular,
					Hash: *child.blob,
				})
				continue
			}
			h, err := write(child)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			tree.Entries = append(tree.Entries, object.TreeEntry{
				Name: name,
				Mode: filemode.Dir,
				Hash: h,
			})
		}
		obj := r.repo.Storer.NewEncodedObject()
		if err := tree.Encode(obj); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("encode tree: %w", err)
		}
		return r.repo.Storer.SetEncodedObject(obj)
	}

	return write(root)
}

// repoForTest exposes the underlying *git.Repository for test fixtures that
// need to seed commits directly; production code should use Repository's
// methods exclusively.
func (r *Repository) repoForTest() *git.Repository { return r.repo }
