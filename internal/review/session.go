// Package review implements the accept/reject loop over fetched fixes.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sprite-ai/fixrev/internal/fault"
	"github.com/sprite-ai/fixrev/internal/model"
	"github.com/sprite-ai/fixrev/internal/risk"
)

// Key is a reviewer decision.
type Key int

const (
	KeyUnknown Key = iota
	KeyAccept
	KeyAcceptAll
	KeyReject
	KeyDiff
	KeySkip
	KeyToggleValidate
	KeyQuit
	KeyEnter
)

func (k Key) String() string {
	switch k {
	case KeyAccept:
		return "y"
	case KeyAcceptAll:
		return "a"
	case KeyReject:
		return "r"
	case KeyDiff:
		return "d"
	case KeySkip:
		return "s"
	case KeyToggleValidate:
		return "v"
	case KeyQuit:
		return "q"
	case KeyEnter:
		return "enter"
	default:
		return "unknown"
	}
}

// ParseKey maps reviewer input to a Key. The empty string is Enter.
func ParseKey(s string) (Key, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y":
		return KeyAccept, true
	case "a":
		return KeyAcceptAll, true
	case "r":
		return KeyReject, true
	case "d":
		return KeyDiff, true
	case "s":
		return KeySkip, true
	case "v":
		return KeyToggleValidate, true
	case "q":
		return KeyQuit, true
	case "", "enter":
		return KeyEnter, true
	}
	return KeyUnknown, false
}

// Applier writes a group's patch to the workspace.
type Applier interface {
	Apply(ctx context.Context, g *model.PatchGroup) (model.PatchStats, error)
}

// Validator re-checks an applied group. A nil error means none of the
// group's findings remain; an error of kind ValidationRerunFailed means
// the check itself could not run.
type Validator interface {
	Validate(ctx context.Context, g *model.PatchGroup) error
}

// Options configures a Session.
type Options struct {
	// Applier must be set.
	Applier   Applier
	Validator Validator
	// ValidateAfterGroup is the initial validate mode; KeyToggleValidate
	// flips it.
	ValidateAfterGroup bool
	// MaxFixIssues bounds the number of findings whose fixes may be
	// accepted. Zero means no limit.
	MaxFixIssues int
	Logger       *slog.Logger
}

// Outcome reports what a key did.
type Outcome struct {
	Key   Key
	Group *model.PatchGroup
	// Settled lists the groups that reached a terminal state.
	Settled []*model.PatchGroup
	// Advanced is set when the session moved past Group.
	Advanced bool
	// Diff is the patch to display, for KeyDiff.
	Diff     string
	Validate bool
	Message  string
	Done     bool
}

// Counts tallies group states.
type Counts struct {
	Groups           int `json:"groups"`
	Accepted         int `json:"accepted"`
	AcceptedAll      int `json:"accepted_via_remaining"`
	Applied          int `json:"applied"`
	ApplyFailed      int `json:"apply_failed"`
	Validated        int `json:"validated"`
	ValidationFailed int `json:"validation_failed"`
	Rejected         int `json:"rejected"`
	Skipped          int `json:"skipped"`
	FetchFailed      int `json:"fetch_failed"`
	Unreviewed       int `json:"unreviewed"`
}

// Session walks the reviewer through groups in order. It is not safe for
// concurrent use.
type Session struct {
	groups   []*model.PatchGroup
	opts     Options
	logger   *slog.Logger
	idx      int
	started  bool
	done     bool
	validate bool
	budget   int
	viaAll   map[*model.PatchGroup]bool
}

// NewSession creates a session over groups, which are modified in place.
func NewSession(groups []*model.PatchGroup, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		groups:   groups,
		opts:     opts,
		logger:   logger,
		validate: opts.ValidateAfterGroup,
		budget:   opts.MaxFixIssues,
		viaAll:   make(map[*model.PatchGroup]bool),
	}
}

// Start positions the session on the first reviewable group. Groups whose
// fetch failed are passed over.
func (s *Session) Start() {
	if s.started {
		return
	}
	s.started = true
	s.idx = -1
	s.advance()
}

func (s *Session) advance() {
	for s.idx++; s.idx < len(s.groups); s.idx++ {
		g := s.groups[s.idx]
		if g.State == model.StateFetched {
			g.State = model.StatePresenting
			return
		}
	}
	s.done = true
}

// Done reports whether every group has been handled or the reviewer quit.
func (s *Session) Done() bool {
	return s.started && s.done
}

// Current returns the group awaiting a decision, or nil.
func (s *Session) Current() *model.PatchGroup {
	if !s.started || s.done {
		return nil
	}
	return s.groups[s.idx]
}

// Position returns the 1-based index of the current group and the total.
func (s *Session) Position() (int, int) {
	return min(s.idx+1, len(s.groups)), len(s.groups)
}

// Groups returns all groups of the session.
func (s *Session) Groups() []*model.PatchGroup {
	return s.groups
}

// Validating reports the current validate mode.
func (s *Session) Validating() bool {
	return s.validate
}

// Handle applies one key to the current group.
func (s *Session) Handle(ctx context.Context, k Key) Outcome {
	s.Start()
	out := Outcome{Key: k, Validate: s.validate}
	g := s.Current()
	if g == nil {
		out.Done = true
		out.Message = "review finished"
		return out
	}
	out.Group = g

	if k == KeyEnter {
		if !risk.IsSafe(g) {
			out.Message = "enter accepts safe-style fixes only; choose y, r or s"
			return out
		}
		k = KeyAccept
	}

	switch k {
	case KeyAccept:
		s.accept(ctx, g, model.StateAccepted)
		out.Settled = append(out.Settled, g)
		s.advance()
		out.Advanced = true

	case KeyAcceptAll:
		s.accept(ctx, g, model.StateAcceptedViaRemaining)
		out.Settled = append(out.Settled, g)
		for _, rest := range s.groups[s.idx+1:] {
			if rest.State != model.StateFetched {
				continue
			}
			s.accept(ctx, rest, model.StateAcceptedViaRemaining)
			out.Settled = append(out.Settled, rest)
		}
		s.idx = len(s.groups)
		s.done = true
		out.Advanced = true

	case KeyReject, KeySkip:
		g.State = model.StateRejected
		if k == KeySkip {
			g.State = model.StateSkipped
		}
		s.logger.Info("group decided", "group", g.ID, "state", g.State.String())
		out.Settled = append(out.Settled, g)
		s.advance()
		out.Advanced = true

	case KeyDiff:
		out.Diff = g.DiffText

	case KeyToggleValidate:
		s.validate = !s.validate
		out.Validate = s.validate
		out.Message = "validate after group: off"
		if s.validate {
			out.Message = "validate after group: on"
		}

	case KeyQuit:
		g.State = model.StateFetched
		s.done = true
		out.Message = "review stopped"
		s.logger.Info("review stopped", "group", g.ID)

	default:
		out.Message = "unknown key; choose y, a, r, d, s, v or q"
	}

	out.Done = s.done
	if out.Advanced && len(out.Settled) > 0 {
		out.Message = settledMessage(out.Settled)
	}
	return out
}

func (s *Session) accept(ctx context.Context, g *model.PatchGroup, state model.GroupState) {
	n := len(g.Findings)
	if s.opts.MaxFixIssues > 0 && n > s.budget {
		g.State = model.StateSkipped
		g.Note = fmt.Sprintf("fix budget of %d issues exhausted", s.opts.MaxFixIssues)
		s.logger.Info("group skipped", "group", g.ID, "reason", "budget")
		return
	}
	s.budget -= n
	g.State = state
	if state == model.StateAcceptedViaRemaining {
		s.viaAll[g] = true
	}

	stats, err := s.opts.Applier.Apply(ctx, g)
	if err != nil {
		g.State = model.StateApplyFailed
		g.Err = err
		g.Note = err.Error()
		s.logger.Warn("patch did not apply", "group", g.ID, "err", err)
		return
	}
	g.State = model.StateApplied
	g.Stats = stats
	s.logger.Info("patch applied", "group", g.ID, "files", stats.Files, "added", stats.Added, "removed", stats.Removed)

	if !s.validate || s.opts.Validator == nil {
		return
	}
	err = s.opts.Validator.Validate(ctx, g)
	if err == nil {
		g.State = model.StateValidated
	} else {
		if fault.Is(err, fault.ValidationRerunFailed) {
			s.logger.Warn("validation could not run", "group", g.ID, "err", err)
		}
		g.State = model.StateValidationFailed
		g.Err = err
		g.Note = err.Error()
	}
	s.logger.Info("group validated", "group", g.ID, "state", g.State.String())
}

func settledMessage(groups []*model.PatchGroup) string {
	if len(groups) == 1 {
		g := groups[0]
		if g.Note != "" {
			return fmt.Sprintf("%s %s: %s", g.ID, g.State, g.Note)
		}
		return fmt.Sprintf("%s %s", g.ID, g.State)
	}
	landed := 0
	for _, g := range groups {
		if g.State.Landed() {
			landed++
		}
	}
	return fmt.Sprintf("applied %d of %d groups", landed, len(groups))
}

// Counts tallies the current group states.
func (s *Session) Counts() Counts {
	return Tally(s.groups, s.viaAll)
}

// Tally counts group states. viaAll marks groups accepted with "accept
// remaining" and may be nil.
func Tally(groups []*model.PatchGroup, viaAll map[*model.PatchGroup]bool) Counts {
	c := Counts{Groups: len(groups)}
	for _, g := range groups {
		switch g.State {
		case model.StateApplied, model.StateValidated, model.StateValidationFailed, model.StateApplyFailed:
			c.Accepted++
			if viaAll[g] {
				c.AcceptedAll++
			}
			switch g.State {
			case model.StateApplyFailed:
				c.ApplyFailed++
			case model.StateValidated:
				c.Validated++
			case model.StateValidationFailed:
				c.ValidationFailed++
			}
			if g.State.Landed() {
				c.Applied++
			}
		case model.StateRejected:
			c.Rejected++
		case model.StateSkipped:
			c.Skipped++
		case model.StateFetchFailed:
			c.FetchFailed++
		default:
			c.Unreviewed++
		}
	}
	return c
}
