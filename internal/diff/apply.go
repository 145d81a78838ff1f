package diff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	"github.com/sprite-ai/fixrev/internal/fault"
	"github.com/sprite-ai/fixrev/internal/model"
	"github.com/sprite-ai/fixrev/internal/workspace"
)

// Applier writes patch groups to files under a workspace root. A group's
// diff is applied completely or not at all.
type Applier struct {
	Root   workspace.Root
	Logger *slog.Logger
}

type staged struct {
	path     string
	original []byte
	existed  bool
	updated  []byte
}

// Apply applies the group's diff and returns the stats of what was written.
// Failures are PatchApplyConflict errors and leave every file untouched.
func (a *Applier) Apply(ctx context.Context, g *model.PatchGroup) (model.PatchStats, error) {
	op := "apply " + g.ID
	if err := ctx.Err(); err != nil {
		return model.PatchStats{}, fault.New(fault.PatchApplyConflict, op, err)
	}
	if strings.TrimSpace(g.DiffText) == "" {
		return model.PatchStats{}, fault.Errorf(fault.PatchApplyConflict, op, "empty diff")
	}

	ds, err := Parse(g.DiffText)
	if err != nil {
		return model.PatchStats{}, fault.New(fault.PatchApplyConflict, op, err)
	}
	if len(ds.Files) == 0 {
		return model.PatchStats{}, fault.Errorf(fault.PatchApplyConflict, op, "diff has no files")
	}

	var changes []staged
	for _, f := range ds.Files {
		s, err := a.stage(f)
		if err != nil {
			return model.PatchStats{}, fault.New(fault.PatchApplyConflict, op, err)
		}
		changes = append(changes, s)
	}

	for i, s := range changes {
		if err := a.Root.WriteFile(s.path, s.updated); err != nil {
			a.rollback(changes[:i])
			return model.PatchStats{}, fault.New(fault.PatchApplyConflict, op, err)
		}
	}

	a.logger().Debug("applied patch", "group", g.ID, "files", len(changes))
	return ds.PatchStats(), nil
}

func (a *Applier) stage(f *File) (staged, error) {
	switch {
	case f.IsBinary:
		return staged{}, fmt.Errorf("%s: binary patches are not supported", f.Name())
	case f.IsDeleted || f.IsRenamed:
		return staged{}, fmt.Errorf("%s: only in-place edits are supported", f.Name())
	}

	s := staged{path: f.NewName}
	src, err := a.Root.ReadFile(s.path)
	switch {
	case err == nil:
		if f.IsNew {
			return staged{}, fmt.Errorf("%s: file already exists", s.path)
		}
		s.original, s.existed = src, true
	case errors.Is(err, fs.ErrNotExist) && f.IsNew:
	default:
		return staged{}, fmt.Errorf("reading %s: %w", s.path, err)
	}

	var out bytes.Buffer
	if err := gitdiff.Apply(&out, bytes.NewReader(s.original), f.raw); err != nil {
		// An earlier group in the same file may have shifted lines.
		updated, oerr := applyWithOffset(s.original, f)
		if oerr != nil {
			return staged{}, fmt.Errorf("%s: %w", s.path, err)
		}
		a.logger().Debug("applied with offset", "file", s.path)
		s.updated = updated
		return s, nil
	}
	s.updated = out.Bytes()
	return s, nil
}

// applyWithOffset applies f's fragments in order, locating each fragment's
// old lines at the nearest matching position instead of its exact one.
func applyWithOffset(src []byte, f *File) ([]byte, error) {
	lines := SplitLines(string(src))
	var out []string
	cursor, shift := 0, 0

	for _, frag := range f.Fragments {
		var oldBlock, newBlock []string
		for _, l := range frag.Lines {
			switch l.Op {
			case gitdiff.OpContext:
				oldBlock = append(oldBlock, l.Line)
				newBlock = append(newBlock, l.Line)
			case gitdiff.OpDelete:
				oldBlock = append(oldBlock, l.Line)
			case gitdiff.OpAdd:
				newBlock = append(newBlock, l.Line)
			}
		}

		want := max(int(frag.OldPosition)-1, 0) + shift
		pos := findBlock(lines, oldBlock, want, cursor)
		if pos < 0 {
			return nil, fmt.Errorf("fragment at line %d does not match", frag.OldPosition)
		}
		out = append(out, lines[cursor:pos]...)
		out = append(out, newBlock...)
		cursor = pos + len(oldBlock)
		shift = pos - max(int(frag.OldPosition)-1, 0)
	}
	out = append(out, lines[cursor:]...)
	return []byte(strings.Join(out, "")), nil
}

// findBlock returns the start index of block in lines at or after from,
// closest to want, or -1.
func findBlock(lines, block []string, want, from int) int {
	last := len(lines) - len(block)
	if last < from {
		return -1
	}
	if len(block) == 0 {
		return min(max(want, from), len(lines))
	}
	for delta := 0; want-delta >= from || want+delta <= last; delta++ {
		for _, p := range []int{want - delta, want + delta} {
			if p < from || p > last {
				continue
			}
			if blockAt(lines, block, p) {
				return p
			}
		}
	}
	return -1
}

func blockAt(lines, block []string, p int) bool {
	for i, b := range block {
		if lines[p+i] != b {
			return false
		}
	}
	return true
}

func (a *Applier) rollback(written []staged) {
	for _, s := range written {
		if !s.existed {
			if err := a.Root.Remove(s.path); err != nil {
				a.logger().Error("removing file after failed apply", "file", s.path, "err", err)
			}
			continue
		}
		if err := a.Root.WriteFile(s.path, s.original); err != nil {
			a.logger().Error("restoring file after failed apply", "file", s.path, "err", err)
		}
	}
}

func (a *Applier) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
