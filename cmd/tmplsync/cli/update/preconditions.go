package update

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
)

// treeState is what the status inspector reports before any mutation:
// the checked-out branch and the set of untracked paths present at session
// start. The untracked set is what rollback uses to remove only files the
// workflow itself introduced.
type treeState struct {
	branch    string
	untracked map[string]bool
}

// inspectTree validates the preconditions and captures the pre-run state.
//
// Returns ErrNotARepository when root has no git metadata and
// ErrDirtyWorkingTree when tracked files have staged or unstaged
// modifications. Untracked files are tolerated; the workflow does not write
// through them and rollback leaves them in place.
func inspectTree(root string) (*treeState, error) {
	repo, err := git.PlainOpen(root)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNotARepository
		}
		return nil, fmt.Errorf("opening repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return nil, errors.New("not on a branch (detached HEAD)")
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("reading status: %w", err)
	}

	state := &treeState{
		branch:    head.Name().Short(),
		untracked: make(map[string]bool),
	}

	for path, st := range status {
		if st.Staging == git.Untracked && st.Worktree == git.Untracked {
			state.untracked[path] = true
			continue
		}
		if st.Staging != git.Unmodified || st.Worktree != git.Unmodified {
			return nil, ErrDirtyWorkingTree
		}
	}

	return state, nil
}
