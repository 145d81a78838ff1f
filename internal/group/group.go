// Package group partitions findings into patch groups.
package group

import (
	"fmt"
	"sort"

	"github.com/sprite-ai/fixrev/internal/model"
)

// Options controls how findings are clustered.
type Options struct {
	// ProximityWindow is the largest gap, in lines, between a finding and
	// the cluster it joins.
	ProximityWindow int
	// SystemicThreshold is the number of findings sharing a tool and rule
	// code, across more than one file, that makes the rule a systemic fix.
	// Zero disables systemic grouping.
	SystemicThreshold int
	// MaxGroupSize caps the number of findings in a single group.
	MaxGroupSize int
}

// DefaultOptions returns the grouping defaults.
func DefaultOptions() Options {
	return Options{
		ProximityWindow:   3,
		SystemicThreshold: 3,
		MaxGroupSize:      5,
	}
}

// Group partitions findings into patch groups. The result is deterministic
// for a given input set and every finding lands in exactly one group.
func Group(findings []model.Finding, opts Options) []*model.PatchGroup {
	if len(findings) == 0 {
		return nil
	}
	if opts.MaxGroupSize < 1 {
		opts.MaxGroupSize = 1
	}

	sorted := make([]model.Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return less(sorted[i], sorted[j])
	})

	var groups []*model.PatchGroup
	rest := sorted
	if opts.SystemicThreshold > 0 {
		var systemic []*model.PatchGroup
		systemic, rest = systemicGroups(sorted, opts)
		groups = append(groups, systemic...)
	}
	groups = append(groups, proximityGroups(rest, opts)...)

	sort.SliceStable(groups, func(i, j int) bool {
		fi, li := groups[i].Anchor()
		fj, lj := groups[j].Anchor()
		if fi != fj {
			return fi < fj
		}
		return li < lj
	})
	for i, g := range groups {
		g.ID = fmt.Sprintf("G%03d", i+1)
	}
	return groups
}

type ruleKey struct {
	tool, code string
}

func systemicGroups(sorted []model.Finding, opts Options) ([]*model.PatchGroup, []model.Finding) {
	buckets := make(map[ruleKey][]int)
	var order []ruleKey
	for i, f := range sorted {
		if f.RuleCode == "" {
			continue
		}
		k := ruleKey{f.Tool, f.RuleCode}
		if _, ok := buckets[k]; !ok {
			order = append(order, k)
		}
		buckets[k] = append(buckets[k], i)
	}

	taken := make([]bool, len(sorted))
	var groups []*model.PatchGroup
	for _, k := range order {
		idx := buckets[k]
		if len(idx) < opts.SystemicThreshold || !spansFiles(sorted, idx) {
			continue
		}
		for start := 0; start < len(idx); start += opts.MaxGroupSize {
			end := min(start+opts.MaxGroupSize, len(idx))
			g := &model.PatchGroup{Systemic: true}
			for _, i := range idx[start:end] {
				g.Findings = append(g.Findings, sorted[i])
				taken[i] = true
			}
			groups = append(groups, g)
		}
	}

	var rest []model.Finding
	for i, f := range sorted {
		if !taken[i] {
			rest = append(rest, f)
		}
	}
	return groups, rest
}

func spansFiles(sorted []model.Finding, idx []int) bool {
	for _, i := range idx[1:] {
		if sorted[i].File != sorted[idx[0]].File {
			return true
		}
	}
	return false
}

type fileTool struct {
	file, tool string
}

func proximityGroups(sorted []model.Finding, opts Options) []*model.PatchGroup {
	var groups []*model.PatchGroup
	open := make(map[fileTool]*model.PatchGroup)
	reach := make(map[fileTool]int)

	for _, f := range sorted {
		k := fileTool{f.File, f.Tool}
		g := open[k]
		if g != nil && f.LineStart <= reach[k]+opts.ProximityWindow && len(g.Findings) < opts.MaxGroupSize {
			g.Findings = append(g.Findings, f)
			reach[k] = max(reach[k], f.End())
			continue
		}
		g = &model.PatchGroup{Findings: []model.Finding{f}}
		groups = append(groups, g)
		open[k] = g
		reach[k] = f.End()
	}
	return groups
}

func less(a, b model.Finding) bool {
	if a.File != b.File {
		return a.File < b.File
	}
	if a.LineStart != b.LineStart {
		return a.LineStart < b.LineStart
	}
	if a.LineEnd != b.LineEnd {
		return a.LineEnd < b.LineEnd
	}
	if a.Tool != b.Tool {
		return a.Tool < b.Tool
	}
	if a.RuleCode != b.RuleCode {
		return a.RuleCode < b.RuleCode
	}
	if a.Message != b.Message {
		return a.Message < b.Message
	}
	if a.Severity != b.Severity {
		return a.Severity > b.Severity
	}
	return !a.Fixable && b.Fixable
}

// Cap keeps groups, in order, while their combined finding count stays
// within maxFindings. Groups that do not fit are returned as deferred.
func Cap(groups []*model.PatchGroup, maxFindings int) (kept, deferred []*model.PatchGroup) {
	total := 0
	for _, g := range groups {
		if total+len(g.Findings) <= maxFindings {
			kept = append(kept, g)
			total += len(g.Findings)
			continue
		}
		deferred = append(deferred, g)
	}
	return kept, deferred
}

// Count returns the number of findings across groups.
func Count(groups []*model.PatchGroup) int {
	n := 0
	for _, g := range groups {
		n += len(g.Findings)
	}
	return n
}
