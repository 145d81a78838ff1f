// Package risk labels proposed fixes.
package risk

import (
	"strings"

	"github.com/sprite-ai/fixrev/internal/diff"
	"github.com/sprite-ai/fixrev/internal/model"
)

// Classify maps the provider's self-reported label to a RiskLabel. Only an
// explicit "safe-style" is trusted; anything else is behavioral-risk.
func Classify(raw string) model.RiskLabel {
	if strings.EqualFold(strings.TrimSpace(raw), string(model.RiskSafeStyle)) {
		return model.RiskSafeStyle
	}
	return model.RiskBehavioral
}

// IsSafe reports whether the group's fix is safe-style.
func IsSafe(g *model.PatchGroup) bool {
	return g.Risk == model.RiskSafeStyle
}

// Label classifies a fetched group and fills in its patch statistics.
func Label(g *model.PatchGroup) {
	g.Risk = Classify(g.RiskRaw)
	g.Stats = diff.StatsOf(g.DiffText)
}
