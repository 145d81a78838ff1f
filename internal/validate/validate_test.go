package validate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/sprite-ai/fixrev/internal/config"
	"github.com/sprite-ai/fixrev/internal/fault"
	"github.com/sprite-ai/fixrev/internal/model"
	"github.com/sprite-ai/fixrev/internal/workspace"
)

type stubRunner struct {
	findings []model.Finding
	err      error
	tool     string
	files    []string
}

func (r *stubRunner) Run(_ context.Context, tool string, files []string) ([]model.Finding, error) {
	r.tool = tool
	r.files = files
	return r.findings, r.err
}

func identity(s string) string { return s }

func finding(file, code string, line int) model.Finding {
	return model.Finding{Tool: "ruff", File: file, RuleCode: code, LineStart: line}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name          string
		targets       []model.Finding
		reported      []model.Finding
		wantVerified  int
		wantRemaining int
		wantUnmatched int
	}{
		{
			name:         "all fixed",
			targets:      []model.Finding{finding("a.py", "E501", 3)},
			wantVerified: 1,
		},
		{
			name:          "exact match remains",
			targets:       []model.Finding{finding("a.py", "E501", 3)},
			reported:      []model.Finding{finding("a.py", "E501", 3)},
			wantRemaining: 1,
		},
		{
			name:          "moved line counts as fixed",
			targets:       []model.Finding{finding("a.py", "E501", 3)},
			reported:      []model.Finding{finding("a.py", "E501", 7)},
			wantVerified:  1,
			wantUnmatched: 1,
		},
		{
			name:          "reported without line",
			targets:       []model.Finding{finding("a.py", "E501", 3)},
			reported:      []model.Finding{finding("a.py", "E501", 0)},
			wantRemaining: 1,
		},
		{
			name:          "target without line matches any line",
			targets:       []model.Finding{finding("a.py", "E501", 0)},
			reported:      []model.Finding{finding("a.py", "E501", 12)},
			wantRemaining: 1,
		},
		{
			name:          "multiset consumes once",
			targets:       []model.Finding{finding("a.py", "E501", 3), finding("a.py", "E501", 3)},
			reported:      []model.Finding{finding("a.py", "E501", 3)},
			wantVerified:  1,
			wantRemaining: 1,
		},
		{
			name:          "different code",
			targets:       []model.Finding{finding("a.py", "E501", 3)},
			reported:      []model.Finding{finding("a.py", "W291", 3)},
			wantVerified:  1,
			wantUnmatched: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Match(tt.targets, tt.reported, identity)
			if res.Verified != tt.wantVerified || len(res.Remaining) != tt.wantRemaining || res.Unmatched != tt.wantUnmatched {
				t.Errorf("Match = verified %d, remaining %d, unmatched %d; want %d, %d, %d",
					res.Verified, len(res.Remaining), res.Unmatched,
					tt.wantVerified, tt.wantRemaining, tt.wantUnmatched)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	root := workspace.Root(t.TempDir())
	g := &model.PatchGroup{ID: "G001", Findings: []model.Finding{
		finding("a.py", "E501", 3),
		finding("b.py", "E501", 9),
	}}

	runner := &stubRunner{}
	v := &Validator{Runner: runner, Root: root}
	if err := v.Validate(context.Background(), g); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if runner.tool != "ruff" || len(runner.files) != 2 {
		t.Errorf("runner called with %q %v", runner.tool, runner.files)
	}

	runner.findings = []model.Finding{finding("b.py", "E501", 9)}
	err := v.Validate(context.Background(), g)
	if !errors.Is(err, ErrFindingsRemain) {
		t.Fatalf("err = %v, want ErrFindingsRemain", err)
	}
	if fault.Is(err, fault.ValidationRerunFailed) {
		t.Error("remaining findings are not a rerun failure")
	}

	runner.err = errors.New("exit status 127")
	err = v.Validate(context.Background(), g)
	if !fault.Is(err, fault.ValidationRerunFailed) {
		t.Errorf("err = %v, want ValidationRerunFailed", err)
	}
}

func TestExecRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.py"), []byte("x=1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	root, err := workspace.New(dir)
	if err != nil {
		t.Fatal(err)
	}

	r := ExecRunner{Root: root, Tools: map[string]config.ToolConfig{
		"ruff":   {Command: []string{"sh", "-c", `echo '[{"file":"'$1'","rule_code":"E225","line_start":1}]'; exit 1`, "ruff"}},
		"broken": {Command: []string{"sh", "-c", "echo oops >&2; exit 2", "broken"}},
	}}

	got, err := r.Run(context.Background(), "ruff", []string{"a.py"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 1 || got[0].File != "a.py" || got[0].Tool != "ruff" || got[0].RuleCode != "E225" {
		t.Errorf("got %+v", got)
	}

	if _, err := r.Run(context.Background(), "broken", []string{"a.py"}); err == nil {
		t.Error("expected an error for a failing command without output")
	}
	if _, err := r.Run(context.Background(), "mypy", []string{"a.py"}); err == nil {
		t.Error("expected an error for an unconfigured tool")
	}
	if _, err := r.Run(context.Background(), "ruff", []string{"../x.py"}); !errors.Is(err, workspace.ErrOutside) {
		t.Errorf("err = %v, want ErrOutside", err)
	}
}

func TestIntroduced(t *testing.T) {
	baseline := []model.Finding{
		finding("a.py", "E501", 3),
		finding("a.py", "E501", 9),
		finding("a.py", "F401", 1),
		finding("c.py", "E501", 1),
	}
	tests := []struct {
		name     string
		reported []model.Finding
		want     int
	}{
		{"all fixed", nil, 0},
		{"pre-existing moved", []model.Finding{finding("a.py", "E501", 10)}, 0},
		{"new code in touched file", []model.Finding{finding("a.py", "W291", 4)}, 1},
		{"more of the same code", []model.Finding{
			finding("a.py", "F401", 1), finding("a.py", "F401", 2),
		}, 1},
		{"untouched file ignored", []model.Finding{finding("c.py", "W291", 1)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Introduced(baseline, tt.reported, "ruff", []string{"a.py"}, identity); got != tt.want {
				t.Errorf("Introduced = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestValidateNewIssues(t *testing.T) {
	root := workspace.Root(t.TempDir())
	g := &model.PatchGroup{ID: "G001", Findings: []model.Finding{finding("a.py", "E501", 3)}}
	runner := &stubRunner{findings: []model.Finding{finding("a.py", "E999", 3)}}

	v := &Validator{Runner: runner, Root: root}
	if err := v.Validate(context.Background(), g); err != nil {
		t.Fatalf("without a baseline introduced issues are not checked: %v", err)
	}

	v.Baseline = g.Findings
	err := v.Validate(context.Background(), g)
	if !errors.Is(err, ErrNewIssues) {
		t.Fatalf("err = %v, want ErrNewIssues", err)
	}
	if errors.Is(err, ErrFindingsRemain) {
		t.Error("the targeted finding was fixed")
	}
}
