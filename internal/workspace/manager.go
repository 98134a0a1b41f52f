// Package workspace gives each agent its own git worktree so agents working
// in parallel never share a checkout.
package workspace

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

const branchPrefix = "agent/"

// MergeStrategy defines how to merge an agent branch back to the base branch.
type MergeStrategy int

const (
	MergeOrt MergeStrategy = iota
	MergeOurs
	MergeTheirs
)

// String returns the git merge strategy name.
func (s MergeStrategy) String() string {
	switch s {
	case MergeOurs:
		return "ours"
	case MergeTheirs:
		return "theirs"
	default:
		return "ort"
	}
}

// ParseMergeStrategy converts a strategy name; empty means ort.
func ParseMergeStrategy(s string) (MergeStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ort":
		return MergeOrt, nil
	case "ours":
		return MergeOurs, nil
	case "theirs":
		return MergeTheirs, nil
	}
	return MergeOrt, fmt.Errorf("unknown merge strategy %q", s)
}

// Info describes an agent worktree.
type Info struct {
	Path    string
	Branch  string
	AgentID string
	Head    string
}

// MergeResult is the outcome of merging an agent branch.
type MergeResult struct {
	Merged        bool
	ConflictFiles []string
	Error         error
}

// Config configures a Manager.
type Config struct {
	RepoPath    string // Absolute path to the git repository
	BaseBranch  string // Branch agent worktrees start from (e.g. "main")
	WorktreeDir string // Directory under RepoPath holding worktrees; default ".worktrees"
}

// Manager provisions one worktree per agent on branch agent/<id>.
type Manager struct {
	config Config
	gitMu  sync.Mutex // git takes repository-wide locks; run one command at a time
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.WorktreeDir == "" {
		cfg.WorktreeDir = ".worktrees"
	}
	return &Manager{config: cfg}
}

func (m *Manager) git(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s: %w (output: %s)", args[0], err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// Path returns where agentID's worktree lives.
func (m *Manager) Path(agentID string) string {
	return filepath.Join(m.config.RepoPath, m.config.WorktreeDir, agentID)
}

// Provision creates agentID's worktree and returns its path. An existing
// worktree for the agent is reused, and an existing branch is checked out
// again, so a restored agent picks up where it left off.
func (m *Manager) Provision(agentID string) (string, error) {
	m.gitMu.Lock()
	defer m.gitMu.Unlock()

	path := m.Path(agentID)
	branch := branchPrefix + agentID

	if _, err := os.Stat(filepath.Join(path, ".git")); err == nil {
		return path, nil
	}

	var err error
	if m.branchExists(branch) {
		_, err = m.git(m.config.RepoPath, "worktree", "add", path, branch)
	} else {
		_, err = m.git(m.config.RepoPath, "worktree", "add", "-b", branch, path, m.config.BaseBranch)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create worktree for agent %s: %w", agentID, err)
	}
	return path, nil
}

func (m *Manager) branchExists(branch string) bool {
	_, err := m.git(m.config.RepoPath, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// Release removes agentID's worktree. The branch is deleted only if it has
// been merged; unmerged work stays on the branch.
func (m *Manager) Release(agentID string) error {
	m.gitMu.Lock()
	defer m.gitMu.Unlock()

	path := m.Path(agentID)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if _, err := m.git(m.config.RepoPath, "worktree", "remove", path); err != nil {
		if _, forceErr := m.git(m.config.RepoPath, "worktree", "remove", "--force", path); forceErr != nil {
			return fmt.Errorf("worktree remove failed: %v; %w", err, forceErr)
		}
	}
	_, _ = m.git(m.config.RepoPath, "branch", "-d", branchPrefix+agentID)
	return nil
}

// Merge merges agentID's branch into the base branch. Conflicts are
// detected with a dry-run merge-tree first so the main checkout is never
// left mid-merge.
func (m *Manager) Merge(agentID string, strategy MergeStrategy) (*MergeResult, error) {
	m.gitMu.Lock()
	defer m.gitMu.Unlock()

	branch := branchPrefix + agentID
	if !m.branchExists(branch) {
		return nil, fmt.Errorf("agent %s has no branch %s", agentID, branch)
	}

	if _, err := m.git(m.config.RepoPath, "checkout", m.config.BaseBranch); err != nil {
		return &MergeResult{Error: fmt.Errorf("failed to checkout base branch: %w", err)}, nil
	}

	out, err := m.git(m.config.RepoPath, "merge-tree", "--write-tree", m.config.BaseBranch, branch)
	if err != nil || strings.Contains(out, "CONFLICT") {
		return &MergeResult{
			Error:         fmt.Errorf("merge conflict detected: %s", strings.TrimSpace(out)),
			ConflictFiles: parseConflictFiles(out),
		}, nil
	}

	strategyArg := "ort"
	switch strategy {
	case MergeOurs:
		strategyArg = "ours"
	case MergeTheirs:
		// "theirs" is a strategy option of ort, not a strategy.
		if _, err := m.git(m.config.RepoPath, "merge", "--no-ff", "-X", "theirs", branch); err != nil {
			return &MergeResult{Error: fmt.Errorf("merge failed: %w", err)}, nil
		}
		return &MergeResult{Merged: true}, nil
	}
	if _, err := m.git(m.config.RepoPath, "merge", "--no-ff", "-s", strategyArg, branch); err != nil {
		return &MergeResult{Error: fmt.Errorf("merge failed: %w", err)}, nil
	}
	return &MergeResult{Merged: true}, nil
}

// parseConflictFiles extracts conflicting paths from merge-tree output.
func parseConflictFiles(output string) []string {
	var conflicts []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		// "CONFLICT (content): Merge conflict in <file>"
		if strings.Contains(line, "CONFLICT") && strings.Contains(line, "in ") {
			parts := strings.Split(line, "in ")
			conflicts = append(conflicts, strings.TrimSpace(parts[len(parts)-1]))
		}
	}
	return conflicts
}

// List returns the agent worktrees known to git.
func (m *Manager) List() ([]Info, error) {
	m.gitMu.Lock()
	out, err := m.git(m.config.RepoPath, "worktree", "list", "--porcelain")
	m.gitMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}

	var (
		infos   []Info
		current Info
	)
	flush := func() {
		if current.AgentID != "" {
			infos = append(infos, current)
		}
		current = Info{}
	}
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
			current.AgentID = strings.TrimPrefix(current.Branch, branchPrefix)
			if current.AgentID == current.Branch {
				current.AgentID = ""
			}
		}
	}
	flush()
	return infos, nil
}

// Prune cleans up stale worktree metadata.
func (m *Manager) Prune() error {
	m.gitMu.Lock()
	defer m.gitMu.Unlock()
	if _, err := m.git(m.config.RepoPath, "worktree", "prune"); err != nil {
		return fmt.Errorf("failed to prune worktrees: %w", err)
	}
	return nil
}
