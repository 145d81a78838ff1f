// Package model defines the core data types shared across fixrev.
package model

import (
	"fmt"
	"strings"
)

// Severity of a finding as reported by the originating tool.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown values map to
// info rather than failing the whole findings file.
func (s *Severity) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "error", "high", "critical":
		*s = SeverityError
	case "warning", "warn", "medium":
		*s = SeverityWarning
	default:
		*s = SeverityInfo
	}
	return nil
}

// Finding is one normalized issue reported by an analysis tool.
type Finding struct {
	Tool      string   `json:"tool"`
	RuleCode  string   `json:"rule_code"`
	File      string   `json:"file"`
	LineStart int      `json:"line_start"`
	LineEnd   int      `json:"line_end,omitempty"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	Fixable   bool     `json:"fixable,omitempty"`
}

// End returns the last line covered by the finding.
func (f Finding) End() int {
	if f.LineEnd < f.LineStart {
		return f.LineStart
	}
	return f.LineEnd
}

// Location formats the finding as file:line.
func (f Finding) Location() string {
	if f.LineStart <= 0 {
		return f.File
	}
	return fmt.Sprintf("%s:%d", f.File, f.LineStart)
}

// RiskLabel classifies a proposed fix.
type RiskLabel string

const (
	RiskSafeStyle  RiskLabel = "safe-style"
	RiskBehavioral RiskLabel = "behavioral-risk"
)

// GroupState is the lifecycle position of a patch group.
type GroupState int

const (
	StatePending GroupState = iota
	StateFetching
	StateFetched
	StateFetchFailed
	StatePresenting
	StateAccepted
	StateAcceptedViaRemaining
	StateRejected
	StateSkipped
	StateApplied
	StateApplyFailed
	StateValidated
	StateValidationFailed
)

func (s GroupState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFetching:
		return "fetching"
	case StateFetched:
		return "fetched"
	case StateFetchFailed:
		return "fetch-failed"
	case StatePresenting:
		return "presenting"
	case StateAccepted:
		return "accepted"
	case StateAcceptedViaRemaining:
		return "accepted-via-remaining"
	case StateRejected:
		return "rejected"
	case StateSkipped:
		return "skipped"
	case StateApplied:
		return "applied"
	case StateApplyFailed:
		return "apply-failed"
	case StateValidated:
		return "validated"
	case StateValidationFailed:
		return "validation-failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s GroupState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition leaves s.
func (s GroupState) Terminal() bool {
	switch s {
	case StateFetchFailed, StateRejected, StateSkipped, StateApplied,
		StateApplyFailed, StateValidated, StateValidationFailed:
		return true
	}
	return false
}

// Landed reports whether the group's patch was written to disk.
func (s GroupState) Landed() bool {
	return s == StateApplied || s == StateValidated || s == StateValidationFailed
}

// PatchStats summarizes the size of a diff.
type PatchStats struct {
	Files   int `json:"files"`
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Hunks   int `json:"hunks"`
}

// PatchGroup is the unit of AI request, review and application.
type PatchGroup struct {
	ID          string     `json:"id"`
	Findings    []Finding  `json:"findings"`
	Systemic    bool       `json:"systemic,omitempty"`
	DiffText    string     `json:"diff,omitempty"`
	RiskRaw     string     `json:"risk_raw,omitempty"`
	Risk        RiskLabel  `json:"risk,omitempty"`
	Stats       PatchStats `json:"stats"`
	Explanation string     `json:"explanation,omitempty"`
	Confidence  string     `json:"confidence,omitempty"`
	State       GroupState `json:"state"`
	Err         error      `json:"-"`
	Note        string     `json:"note,omitempty"`
	Advisories  []Advisory `json:"advisories,omitempty"`
}

// Advisory is a reviewer note about a proposed patch. Advisories never
// change a group's risk label.
type Advisory struct {
	Check   string `json:"check"`
	File    string `json:"file"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

// Tool returns the tool of the group's first finding.
func (g *PatchGroup) Tool() string {
	if len(g.Findings) == 0 {
		return ""
	}
	return g.Findings[0].Tool
}

// Files returns the distinct files of the group in first-appearance order.
func (g *PatchGroup) Files() []string {
	seen := make(map[string]bool)
	var files []string
	for _, f := range g.Findings {
		if !seen[f.File] {
			seen[f.File] = true
			files = append(files, f.File)
		}
	}
	return files
}

// Anchor returns the lexicographically smallest file of the group and the
// lowest line within it.
func (g *PatchGroup) Anchor() (string, int) {
	var file string
	line := 0
	for i, f := range g.Findings {
		switch {
		case i == 0 || f.File < file:
			file, line = f.File, f.LineStart
		case f.File == file && f.LineStart < line:
			line = f.LineStart
		}
	}
	return file, line
}

// Usage is the token usage of one provider call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Outcome classifies the result of a provider request.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryableError
	OutcomeFatalError
	// OutcomeMalformed is a completed call whose content could not be used.
	OutcomeMalformed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryableError:
		return "retryable"
	case OutcomeFatalError:
		return "fatal"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// AIResponse is the final result of fetching a fix for one group.
type AIResponse struct {
	GroupID  string
	Text     string
	Usage    Usage
	Cost     float64
	Outcome  Outcome
	Err      error
	Attempts int
}

// Summary is the AI-written overview of a set of findings.
type Summary struct {
	Overview        string   `json:"overview"`
	KeyPatterns     []string `json:"key_patterns"`
	PriorityActions []string `json:"priority_actions"`
	EstimatedEffort string   `json:"estimated_effort"`
}
