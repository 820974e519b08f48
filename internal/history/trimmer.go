// internal/history/trimmer.go
package history

import (
	"github.com/Corphon/SceneRelay/internal/models"
	"github.com/Corphon/SceneRelay/internal/tokens"
)

// LineCost is the token cost of one line as it appears in a prompt (with its newline)
func LineCost(line models.ConversationLine, est tokens.Estimator) int {
	return est.Count(line.String() + "\n")
}

// Trim fits lines into budget tokens.
//
// Narrator and system lines are always kept even if they alone exceed the budget.
// Dialogue lines are taken newest first until the first one that does not fit;
// everything older than that line is dropped. The result keeps the original order.
func Trim(lines []models.ConversationLine, budget int, est tokens.Estimator) ([]models.ConversationLine, int) {
	if len(lines) == 0 {
		return []models.ConversationLine{}, 0
	}

	costs := make([]int, len(lines))
	preserved := 0
	for i, line := range lines {
		costs[i] = LineCost(line, est)
		if line.IsPreserved() {
			preserved += costs[i]
		}
	}

	remaining := budget - preserved
	if remaining < 0 {
		remaining = 0
	}

	keep := make([]bool, len(lines))
	dialogue := 0
	full := false
	for i := len(lines) - 1; i >= 0; i-- {
		switch {
		case lines[i].IsPreserved():
			keep[i] = true
		case full:
		case dialogue+costs[i] > remaining:
			full = true
		default:
			keep[i] = true
			dialogue += costs[i]
		}
	}

	kept := make([]models.ConversationLine, 0, len(lines))
	for i, line := range lines {
		if keep[i] {
			kept = append(kept, line)
		}
	}
	return kept, preserved + dialogue
}
