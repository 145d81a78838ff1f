package group

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/sprite-ai/fixrev/internal/model"
)

func finding(tool, code, file string, line int) model.Finding {
	return model.Finding{Tool: tool, RuleCode: code, File: file, LineStart: line, Message: code + " issue"}
}

func TestGroupEmpty(t *testing.T) {
	if got := Group(nil, DefaultOptions()); len(got) != 0 {
		t.Errorf("expected no groups, got %d", len(got))
	}
}

func TestGroupProximity(t *testing.T) {
	findings := []model.Finding{
		finding("ruff", "E501", "a.py", 10),
		finding("ruff", "F401", "a.py", 12),
		finding("ruff", "E711", "a.py", 40),
		finding("mypy", "arg-type", "a.py", 11),
	}

	groups := Group(findings, DefaultOptions())
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}

	// a.py:10 ruff cluster, a.py:11 mypy, a.py:40 ruff
	if n := len(groups[0].Findings); n != 2 {
		t.Errorf("first group: expected 2 findings, got %d", n)
	}
	if groups[1].Tool() != "mypy" {
		t.Errorf("second group: expected mypy, got %s", groups[1].Tool())
	}
	if _, line := groups[2].Anchor(); line != 40 {
		t.Errorf("third group: expected anchor line 40, got %d", line)
	}
	for i, g := range groups {
		if want := []string{"G001", "G002", "G003"}[i]; g.ID != want {
			t.Errorf("group %d: ID = %s, want %s", i, g.ID, want)
		}
	}
}

func TestGroupSystemic(t *testing.T) {
	findings := []model.Finding{
		finding("ruff", "D103", "a.py", 1),
		finding("ruff", "D103", "b.py", 50),
		finding("ruff", "D103", "c.py", 90),
		finding("ruff", "E501", "c.py", 200),
	}

	groups := Group(findings, DefaultOptions())
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if !groups[0].Systemic || len(groups[0].Findings) != 3 {
		t.Errorf("expected first group to be systemic with 3 findings, got systemic=%v n=%d",
			groups[0].Systemic, len(groups[0].Findings))
	}
	if groups[1].Systemic {
		t.Error("expected second group to be a proximity group")
	}
}

func TestGroupSystemicSingleFileIsNotSystemic(t *testing.T) {
	findings := []model.Finding{
		finding("ruff", "D103", "a.py", 1),
		finding("ruff", "D103", "a.py", 50),
		finding("ruff", "D103", "a.py", 90),
	}
	for _, g := range Group(findings, DefaultOptions()) {
		if g.Systemic {
			t.Errorf("group %s: single-file rule must not be systemic", g.ID)
		}
	}
}

func TestGroupMaxSize(t *testing.T) {
	var findings []model.Finding
	for i := 1; i <= 7; i++ {
		findings = append(findings, finding("ruff", "E501", "a.py", i))
	}
	opts := DefaultOptions()
	opts.MaxGroupSize = 3

	groups := Group(findings, opts)
	sizes := make([]int, len(groups))
	for i, g := range groups {
		sizes[i] = len(g.Findings)
	}
	if want := []int{3, 3, 1}; !reflect.DeepEqual(sizes, want) {
		t.Errorf("sizes = %v, want %v", sizes, want)
	}
}

func TestGroupPartitionAndDeterminism(t *testing.T) {
	var findings []model.Finding
	files := []string{"a.py", "b.py", "pkg/c.py", "pkg/d.py"}
	codes := []string{"E501", "F401", "D103", "B008"}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 60; i++ {
		findings = append(findings, finding(
			[]string{"ruff", "mypy"}[rng.Intn(2)],
			codes[rng.Intn(len(codes))],
			files[rng.Intn(len(files))],
			1+rng.Intn(120),
		))
	}

	first := Group(findings, DefaultOptions())

	if got := Count(first); got != len(findings) {
		t.Fatalf("partition lost findings: got %d, want %d", got, len(findings))
	}

	shuffled := make([]model.Finding, len(findings))
	copy(shuffled, findings)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	second := Group(shuffled, DefaultOptions())

	if len(first) != len(second) {
		t.Fatalf("group count differs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !reflect.DeepEqual(first[i].Findings, second[i].Findings) || first[i].ID != second[i].ID {
			t.Fatalf("group %d differs between runs", i)
		}
	}

	for i := 1; i < len(first); i++ {
		pf, pl := first[i-1].Anchor()
		cf, cl := first[i].Anchor()
		if pf > cf || (pf == cf && pl > cl) {
			t.Errorf("groups %d and %d out of order: %s:%d before %s:%d", i-1, i, pf, pl, cf, cl)
		}
	}
}

func TestGroupOrderIgnoresInputForSeverity(t *testing.T) {
	warn := finding("ruff", "E501", "a.py", 3)
	warn.Severity = model.SeverityWarning
	errf := warn
	errf.Severity = model.SeverityError
	info := warn
	info.Severity = model.SeverityInfo

	opts := DefaultOptions()
	opts.MaxGroupSize = 2
	first := Group([]model.Finding{info, warn, errf}, opts)
	second := Group([]model.Finding{errf, info, warn}, opts)

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected 2 groups each, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if !reflect.DeepEqual(first[i].Findings, second[i].Findings) {
			t.Errorf("group %d depends on input order: %+v vs %+v", i, first[i].Findings, second[i].Findings)
		}
	}
	if first[0].Findings[0].Severity != model.SeverityError {
		t.Errorf("first finding severity = %s, want error", first[0].Findings[0].Severity)
	}
}

func TestCap(t *testing.T) {
	groups := []*model.PatchGroup{
		{ID: "G001", Findings: make([]model.Finding, 3)},
		{ID: "G002", Findings: make([]model.Finding, 4)},
		{ID: "G003", Findings: make([]model.Finding, 2)},
	}

	kept, deferred := Cap(groups, 5)
	if len(kept) != 2 || kept[0].ID != "G001" || kept[1].ID != "G003" {
		t.Errorf("unexpected kept groups: %+v", kept)
	}
	if len(deferred) != 1 || deferred[0].ID != "G002" {
		t.Errorf("unexpected deferred groups: %+v", deferred)
	}
	if Count(kept) > 5 {
		t.Errorf("kept %d findings, budget 5", Count(kept))
	}
}
