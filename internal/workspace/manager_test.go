package workspace

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %s failed: %v (output: %s)", strings.Join(args, " "), err, string(output))
	}
}

// setupTestRepo creates a temporary git repository with one commit on main.
func setupTestRepo(t *testing.T) string {
	t.Helper()
	repoPath := t.TempDir()

	run(t, repoPath, "init")
	run(t, repoPath, "config", "user.name", "Test User")
	run(t, repoPath, "config", "user.email", "test@example.com")
	run(t, repoPath, "checkout", "-b", "main")
	if err := os.WriteFile(filepath.Join(repoPath, "README.md"), []byte("# Test Repo\n"), 0644); err != nil {
		t.Fatalf("failed to write initial file: %v", err)
	}
	run(t, repoPath, "add", ".")
	run(t, repoPath, "commit", "-m", "initial commit")
	return repoPath
}

func commitFile(t *testing.T, dir, name, content, msg string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	run(t, dir, "add", name)
	run(t, dir, "commit", "-m", msg)
}

func TestProvisionAndRelease(t *testing.T) {
	repo := setupTestRepo(t)
	m := NewManager(Config{RepoPath: repo, BaseBranch: "main"})

	path, err := m.Provision("agent-1")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if path != filepath.Join(repo, ".worktrees", "agent-1") {
		t.Errorf("path = %s", path)
	}
	if _, err := os.Stat(filepath.Join(path, "README.md")); err != nil {
		t.Errorf("worktree not checked out: %v", err)
	}

	again, err := m.Provision("agent-1")
	if err != nil || again != path {
		t.Errorf("re-Provision = %s, %v; want reuse of %s", again, err, path)
	}

	infos, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].AgentID != "agent-1" || infos[0].Branch != "agent/agent-1" || infos[0].Head == "" {
		t.Errorf("List = %+v", infos)
	}

	if err := m.Release("agent-1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("worktree directory still exists")
	}
	if err := m.Release("agent-1"); err != nil {
		t.Errorf("second Release: %v", err)
	}
}

func TestReleaseKeepsUnmergedBranch(t *testing.T) {
	repo := setupTestRepo(t)
	m := NewManager(Config{RepoPath: repo, BaseBranch: "main"})

	path, err := m.Provision("worker")
	if err != nil {
		t.Fatal(err)
	}
	commitFile(t, path, "work.txt", "progress\n", "wip")
	if err := m.Release("worker"); err != nil {
		t.Fatal(err)
	}
	if !m.branchExists("agent/worker") {
		t.Fatal("unmerged branch was deleted")
	}

	// Provisioning again checks out the surviving branch.
	path, err = m.Provision("worker")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(path, "work.txt")); err != nil {
		t.Errorf("restored worktree lost committed work: %v", err)
	}
}

func TestMergeClean(t *testing.T) {
	repo := setupTestRepo(t)
	m := NewManager(Config{RepoPath: repo, BaseBranch: "main"})

	path, err := m.Provision("feature")
	if err != nil {
		t.Fatal(err)
	}
	commitFile(t, path, "feature.txt", "new feature\n", "add feature")

	result, err := m.Merge("feature", MergeOrt)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !result.Merged {
		t.Errorf("expected clean merge, got error: %v", result.Error)
	}
	if _, err := os.Stat(filepath.Join(repo, "feature.txt")); err != nil {
		t.Error("feature.txt not found in main checkout after merge")
	}
}

func TestMergeConflict(t *testing.T) {
	repo := setupTestRepo(t)
	m := NewManager(Config{RepoPath: repo, BaseBranch: "main"})

	path, err := m.Provision("conflict")
	if err != nil {
		t.Fatal(err)
	}
	commitFile(t, repo, "README.md", "# Test Repo\nMain branch content\n", "main change")
	commitFile(t, path, "README.md", "# Test Repo\nAgent branch content\n", "agent change")

	result, err := m.Merge("conflict", MergeOrt)
	if err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}
	if result.Merged || result.Error == nil {
		t.Fatalf("expected conflict, got %+v", result)
	}
	if len(result.ConflictFiles) == 0 || result.ConflictFiles[0] != "README.md" {
		t.Errorf("ConflictFiles = %v", result.ConflictFiles)
	}

	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = repo
	out, _ := cmd.CombinedOutput()
	if strings.Contains(string(out), "UU") || strings.Contains(string(out), "AA") {
		t.Errorf("repository left mid-merge: %s", out)
	}

	if _, err := m.Merge("nobody", MergeOrt); err == nil {
		t.Error("merging an unknown agent should fail")
	}
}

func TestParseMergeStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    MergeStrategy
		wantErr bool
	}{
		{"", MergeOrt, false},
		{"ORT", MergeOrt, false},
		{"ours", MergeOurs, false},
		{"theirs", MergeTheirs, false},
		{"octopus", MergeOrt, true},
	}
	for _, tt := range tests {
		got, err := ParseMergeStrategy(tt.in)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("ParseMergeStrategy(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestPrune(t *testing.T) {
	repo := setupTestRepo(t)
	m := NewManager(Config{RepoPath: repo, BaseBranch: "main"})

	path, err := m.Provision("stale")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(path); err != nil {
		t.Fatal(err)
	}
	if err := m.Prune(); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	infos, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 0 {
		t.Errorf("stale worktree still listed: %+v", infos)
	}
}
