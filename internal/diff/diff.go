// Package diff parses, generates and applies unified diffs.
package diff

import (
	"fmt"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	"github.com/sprite-ai/fixrev/internal/model"
)

// File is a single file of a parsed diff.
type File struct {
	OldName      string
	NewName      string
	IsNew        bool
	IsDeleted    bool
	IsRenamed    bool
	IsBinary     bool
	Fragments    []*gitdiff.TextFragment
	AddedLines   int
	DeletedLines int

	raw *gitdiff.File
}

// Name returns the display name for the file.
func (f *File) Name() string {
	switch {
	case f.IsRenamed:
		return fmt.Sprintf("%s → %s", f.OldName, f.NewName)
	case f.IsDeleted:
		return f.OldName
	case f.NewName != "":
		return f.NewName
	default:
		return f.OldName
	}
}

// DiffSet holds every file of a parsed diff.
type DiffSet struct {
	Files []*File
	Raw   string
}

// Stats returns aggregate statistics.
func (ds *DiffSet) Stats() (files, added, deleted int) {
	files = len(ds.Files)
	for _, f := range ds.Files {
		added += f.AddedLines
		deleted += f.DeletedLines
	}
	return
}

// PatchStats returns the statistics shown next to a patch group.
func (ds *DiffSet) PatchStats() model.PatchStats {
	files, added, deleted := ds.Stats()
	ps := model.PatchStats{Files: files, Added: added, Removed: deleted}
	for _, f := range ds.Files {
		ps.Hunks += len(f.Fragments)
	}
	return ps
}

// Parse reads a unified diff.
func Parse(raw string) (*DiffSet, error) {
	parsed, _, err := gitdiff.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing diff: %w", err)
	}

	ds := &DiffSet{Raw: raw}
	for _, f := range parsed {
		df := &File{
			OldName:   f.OldName,
			NewName:   f.NewName,
			IsNew:     f.IsNew,
			IsDeleted: f.IsDelete,
			IsRenamed: f.IsRename,
			IsBinary:  f.IsBinary,
			Fragments: f.TextFragments,
			raw:       f,
		}
		for _, frag := range f.TextFragments {
			df.AddedLines += int(frag.LinesAdded)
			df.DeletedLines += int(frag.LinesDeleted)
		}
		ds.Files = append(ds.Files, df)
	}
	return ds, nil
}

// StatsOf parses diffText and returns its statistics. An unparsable or
// empty diff yields zero stats.
func StatsOf(diffText string) model.PatchStats {
	if strings.TrimSpace(diffText) == "" {
		return model.PatchStats{}
	}
	ds, err := Parse(diffText)
	if err != nil {
		return model.PatchStats{}
	}
	return ds.PatchStats()
}
