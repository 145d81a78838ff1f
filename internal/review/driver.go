package review

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sprite-ai/fixrev/internal/model"
	"github.com/sprite-ai/fixrev/internal/risk"
)

// Driver supplies decisions to a session until it is done.
type Driver interface {
	Drive(ctx context.Context, s *Session) error
}

// ScriptDriver replays a fixed list of keys. Unknown entries are handed to
// the session as KeyUnknown. When the script runs out the session is quit,
// leaving the remaining groups unreviewed.
type ScriptDriver struct {
	Keys []string
	// Out, when set, receives one line per key.
	Out io.Writer
}

func (d ScriptDriver) Drive(ctx context.Context, s *Session) error {
	s.Start()
	for _, raw := range d.Keys {
		if s.Done() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		k, _ := ParseKey(raw)
		out := s.Handle(ctx, k)
		d.log(out)
	}
	if !s.Done() {
		d.log(s.Handle(ctx, KeyQuit))
	}
	return nil
}

func (d ScriptDriver) log(out Outcome) {
	if d.Out == nil || out.Group == nil {
		return
	}
	msg := out.Message
	if out.Key == KeyDiff {
		msg = fmt.Sprintf("%d diff lines", strings.Count(out.Diff, "\n"))
	}
	fmt.Fprintf(d.Out, "%s [%s] %s\n", out.Group.ID, out.Key, msg)
}

// PolicyDriver decides without a reviewer. AcceptAll accepts every group;
// otherwise AcceptSafe accepts safe-style groups and everything else is
// skipped.
type PolicyDriver struct {
	AcceptAll  bool
	AcceptSafe bool
}

func (d PolicyDriver) Drive(ctx context.Context, s *Session) error {
	s.Start()
	for !s.Done() {
		if err := ctx.Err(); err != nil {
			s.Handle(ctx, KeyQuit)
			return err
		}
		s.Handle(ctx, d.decide(s.Current()))
	}
	return nil
}

func (d PolicyDriver) decide(g *model.PatchGroup) Key {
	switch {
	case d.AcceptAll:
		return KeyAcceptAll
	case d.AcceptSafe && risk.IsSafe(g):
		return KeyAccept
	default:
		return KeySkip
	}
}
