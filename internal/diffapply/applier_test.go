package diffapply

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeWorkspaceFile(t *testing.T, workspace, name, content string) string {
	t.Helper()
	path := filepath.Join(workspace, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readWorkspaceFile(t *testing.T, workspace, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(workspace, name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}

func TestApply_CreatesFileFromEmptyBaseline(t *testing.T) {
	ws := t.TempDir()
	a := NewApplier(ws)

	patch := "--- /dev/null\n+++ b/hello.txt\n@@ -0,0 +1,2 @@\n+hello\n+world\n"
	err := a.Apply([]Diff{{Path: "hello.txt", Patch: patch, AfterSHA: HashContent("hello\nworld\n")}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := readWorkspaceFile(t, ws, "hello.txt"); got != "hello\nworld\n" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestApply_ModifiesExistingFile(t *testing.T) {
	ws := t.TempDir()
	before := "one\ntwo\nthree\n"
	writeWorkspaceFile(t, ws, "notes.txt", before)
	a := NewApplier(ws)

	patch := "@@ -1,3 +1,3 @@\n one\n-two\n+TWO\n three\n"
	err := a.Apply([]Diff{{
		Path:      "notes.txt",
		BeforeSHA: HashContent(before),
		AfterSHA:  HashContent("one\nTWO\nthree\n"),
		Patch:     patch,
	}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := readWorkspaceFile(t, ws, "notes.txt"); got != "one\nTWO\nthree\n" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestApply_BeforeShaMismatchFailsWithoutWriting(t *testing.T) {
	ws := t.TempDir()
	writeWorkspaceFile(t, ws, "drifted.txt", "current content\n")
	a := NewApplier(ws)

	err := a.Apply([]Diff{{
		Path:      "drifted.txt",
		BeforeSHA: HashContent("what the diff was generated against\n"),
		Patch:     "@@ -1 +1 @@\n-current content\n+new content\n",
	}})
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
	if got := readWorkspaceFile(t, ws, "drifted.txt"); got != "current content\n" {
		t.Fatalf("file was mutated on integrity failure: %q", got)
	}
}

func TestApply_AfterShaMismatchFails(t *testing.T) {
	ws := t.TempDir()
	a := NewApplier(ws)

	err := a.Apply([]Diff{{
		Path:     "out.txt",
		AfterSHA: HashContent("something else entirely"),
		Patch:    "@@ -0,0 +1 @@\n+patched\n",
	}})
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(ws, "out.txt")); !os.IsNotExist(statErr) {
		t.Fatal("file should not exist after after_sha failure")
	}
}

func TestApply_RelativeWorkspaceRoot(t *testing.T) {
	t.Chdir(t.TempDir())
	if err := os.Mkdir("ws", 0755); err != nil {
		t.Fatal(err)
	}
	a := NewApplier("ws")

	err := a.Apply([]Diff{{Path: "hello.txt", Patch: "@@ -0,0 +1 @@\n+hello\n"}})
	if err != nil {
		t.Fatalf("apply under relative root: %v", err)
	}
	if got := readWorkspaceFile(t, "ws", "hello.txt"); got != "hello\n" {
		t.Fatalf("unexpected content: %q", got)
	}

	if err := a.Apply([]Diff{{Path: "../escape.txt", Patch: "@@ -0,0 +1 @@\n+x\n"}}); err == nil {
		t.Fatal("containment must still hold under a relative root")
	}
}

func TestApply_RejectsPathTraversal(t *testing.T) {
	ws := t.TempDir()
	a := NewApplier(ws)

	for _, path := range []string{"../escape.txt", "nested/../../escape.txt", "/etc/passwd"} {
		err := a.Apply([]Diff{{Path: path, Patch: "@@ -0,0 +1 @@\n+x\n"}})
		if err == nil {
			t.Errorf("expected rejection for path %q", path)
		}
	}
}

func TestApply_ContextMismatchFails(t *testing.T) {
	ws := t.TempDir()
	writeWorkspaceFile(t, ws, "a.txt", "alpha\nbeta\n")
	a := NewApplier(ws)

	err := a.Apply([]Diff{{
		Path:  "a.txt",
		Patch: "@@ -1,2 +1,2 @@\n gamma\n-beta\n+delta\n",
	}})
	if err == nil {
		t.Fatal("expected context mismatch error")
	}
}

func TestApply_BatchStopsAtFirstFailure(t *testing.T) {
	ws := t.TempDir()
	a := NewApplier(ws)

	err := a.Apply([]Diff{
		{Path: "first.txt", Patch: "@@ -0,0 +1 @@\n+first\n"},
		{Path: "../outside.txt", Patch: "@@ -0,0 +1 @@\n+nope\n"},
	})
	if err == nil {
		t.Fatal("expected batch failure")
	}
	// First diff already landed; the failing one aborted the rest.
	if got := readWorkspaceFile(t, ws, "first.txt"); got != "first\n" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestApplyPatch_NoNewlineAtEndOfFile(t *testing.T) {
	got, err := applyPatch("", "@@ -0,0 +1 @@\n+no trailing newline\n\\ No newline at end of file\n")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got != "no trailing newline" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestApplyPatch_InsertionIntoMiddle(t *testing.T) {
	got, err := applyPatch("one\nthree\n", "@@ -1,0 +2 @@\n+two\n")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got != "one\ntwo\nthree\n" {
		t.Fatalf("unexpected content: %q", got)
	}
}
