package diff

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sprite-ai/fixrev/internal/fault"
	"github.com/sprite-ai/fixrev/internal/model"
	"github.com/sprite-ai/fixrev/internal/workspace"
)

const sampleDiff = `diff --git a/app.py b/app.py
--- a/app.py
+++ b/app.py
@@ -1,4 +1,5 @@
 import os
-import sys
+
+
 def main():
     return 0
diff --git a/util.py b/util.py
--- a/util.py
+++ b/util.py
@@ -3,3 +3,3 @@
 def add(a, b):
-    return a+b
+    return a + b
 # end
`

func TestParse(t *testing.T) {
	ds, err := Parse(sampleDiff)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(ds.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(ds.Files))
	}

	f0 := ds.Files[0]
	if f0.Name() != "app.py" {
		t.Errorf("expected name 'app.py', got %q", f0.Name())
	}
	if f0.AddedLines != 2 || f0.DeletedLines != 1 {
		t.Errorf("app.py: expected +2 -1, got +%d -%d", f0.AddedLines, f0.DeletedLines)
	}

	got := ds.PatchStats()
	want := model.PatchStats{Files: 2, Added: 3, Removed: 2, Hunks: 2}
	if got != want {
		t.Errorf("PatchStats = %+v, want %+v", got, want)
	}
}

func TestParseEmpty(t *testing.T) {
	ds, err := Parse("")
	if err != nil {
		t.Fatalf("Parse empty failed: %v", err)
	}
	if len(ds.Files) != 0 {
		t.Errorf("expected 0 files, got %d", len(ds.Files))
	}
	if StatsOf("") != (model.PatchStats{}) {
		t.Error("expected zero stats for empty diff")
	}
}

func TestGenerate(t *testing.T) {
	oldText := "a\nb\nc\nd\ne\nf\ng\nh\n"
	newText := "a\nb\nc\nD\ne\nf\ng\nh\n"

	got := Generate("pkg/x.py", oldText, newText)
	want := `diff --git a/pkg/x.py b/pkg/x.py
--- a/pkg/x.py
+++ b/pkg/x.py
@@ -1,7 +1,7 @@
 a
 b
 c
-d
+D
 e
 f
 g
`
	if got != want {
		t.Errorf("Generate mismatch:\n--- got ---\n%s\n--- want ---\n%s", got, want)
	}

	if Generate("x", "same\n", "same\n") != "" {
		t.Error("identical content should produce an empty diff")
	}
}

func TestGenerateNoTrailingNewline(t *testing.T) {
	got := Generate("x.txt", "one\ntwo", "one\nTWO")
	if !strings.Contains(got, "-two\n\\ No newline at end of file\n+TWO\n\\ No newline at end of file\n") {
		t.Errorf("missing no-newline markers:\n%s", got)
	}
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"a\n", 1},
		{"a\nb", 2},
		{"a\n\n", 2},
	}
	for _, tt := range tests {
		if got := SplitLines(tt.in); len(got) != tt.want {
			t.Errorf("SplitLines(%q) = %d lines, want %d", tt.in, len(got), tt.want)
		}
	}
}

func setupWorkspace(t *testing.T, files map[string]string) workspace.Root {
	t.Helper()
	root, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		path := filepath.Join(string(root), name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func readFile(t *testing.T, root workspace.Root, name string) string {
	t.Helper()
	data, err := root.ReadFile(name)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestApplyRoundTrip(t *testing.T) {
	files := map[string]string{
		"a.py":     "x = 1\ny = 2\nz = 3\n",
		"pkg/b.py": "def f():\n    return 1",
	}
	root := setupWorkspace(t, files)

	newA := "x = 1\ny = 20\nz = 3\n"
	newB := "def f():\n    return 2"
	g := &model.PatchGroup{
		ID:       "G001",
		DiffText: Generate("a.py", files["a.py"], newA) + Generate("pkg/b.py", files["pkg/b.py"], newB),
	}

	a := &Applier{Root: root}
	stats, err := a.Apply(context.Background(), g)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if stats.Files != 2 || stats.Added != 2 || stats.Removed != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if got := readFile(t, root, "a.py"); got != newA {
		t.Errorf("a.py = %q, want %q", got, newA)
	}
	if got := readFile(t, root, "pkg/b.py"); got != newB {
		t.Errorf("pkg/b.py = %q, want %q", got, newB)
	}
}

func TestApplyConflictIsAllOrNothing(t *testing.T) {
	files := map[string]string{
		"a.py": "x = 1\n",
		"b.py": "y = 1\n",
	}
	root := setupWorkspace(t, files)

	good := Generate("a.py", files["a.py"], "x = 2\n")
	stale := Generate("b.py", "y = 999\n", "y = 2\n")
	g := &model.PatchGroup{ID: "G002", DiffText: good + stale}

	a := &Applier{Root: root}
	_, err := a.Apply(context.Background(), g)
	if !fault.Is(err, fault.PatchApplyConflict) {
		t.Fatalf("expected PatchApplyConflict, got %v", err)
	}
	for name, want := range files {
		if got := readFile(t, root, name); got != want {
			t.Errorf("%s changed after failed apply: %q", name, got)
		}
	}
}

func TestApplyRejectsOutsideWorkspace(t *testing.T) {
	root := setupWorkspace(t, nil)
	g := &model.PatchGroup{ID: "G003", DiffText: Generate("../evil.py", "a\n", "b\n")}

	a := &Applier{Root: root}
	if _, err := a.Apply(context.Background(), g); !fault.Is(err, fault.PatchApplyConflict) {
		t.Fatalf("expected PatchApplyConflict, got %v", err)
	}
}

func TestApplyEmptyDiff(t *testing.T) {
	a := &Applier{Root: setupWorkspace(t, nil)}
	if _, err := a.Apply(context.Background(), &model.PatchGroup{ID: "G004"}); !fault.Is(err, fault.PatchApplyConflict) {
		t.Fatalf("expected PatchApplyConflict, got %v", err)
	}
}

func TestApplyWithShiftedLines(t *testing.T) {
	original := "import os\n\nx = 1\ny = 2\nz = 3\nw = 4\nv = 5\nu = 6\nt = 7\ns = 8\n"
	root := setupWorkspace(t, map[string]string{"m.py": original})

	// Both fixes are generated against the original content.
	first := &model.PatchGroup{ID: "G001", DiffText: Generate("m.py", original,
		"import os\nimport sys\n\nx = 1\ny = 2\nz = 3\nw = 4\nv = 5\nu = 6\nt = 7\ns = 8\n")}
	second := &model.PatchGroup{ID: "G002", DiffText: Generate("m.py", original,
		"import os\n\nx = 1\ny = 2\nz = 3\nw = 4\nv = 5\nu = 6\nt = 7\ns = 80\n")}

	a := &Applier{Root: root}
	if _, err := a.Apply(context.Background(), first); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if _, err := a.Apply(context.Background(), second); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	want := "import os\nimport sys\n\nx = 1\ny = 2\nz = 3\nw = 4\nv = 5\nu = 6\nt = 7\ns = 80\n"
	if got := readFile(t, root, "m.py"); got != want {
		t.Errorf("m.py = %q, want %q", got, want)
	}
}
