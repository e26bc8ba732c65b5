package engine

import (
	"github.com/aristath/pitmetrics/internal/expr"
	"github.com/aristath/pitmetrics/internal/parse"
)

// FetchPlan tells the engine how much history to read per field before evaluating
type FetchPlan struct {
	Left   int        `json:"left"`   // periods added before the window along the chain
	Right  int        `json:"right"`  // periods added after the window along the chain
	Bound  expr.Bound `json:"bound"`  // LongestBackRolling of the root
	Depth  int        `json:"depth"`  // rows to read per field; 0 when Full
	Full   bool       `json:"full"`   // read the complete history
	Fields []string   `json:"fields"` // leaves to read
}

// Plan derives the fetch plan of e for a window starting at back-index start.
// Every operator widens its child's window by its ExtendedWindowSize, so the
// leaf is asked for back-indices up to start plus the sum of the left extensions.
func Plan(e expr.Expression, start int) FetchPlan {
	var plan FetchPlan
	expr.Walk(e, func(node expr.Expression) bool {
		left, right := node.ExtendedWindowSize()
		plan.Left += left
		plan.Right += right
		return true
	})

	plan.Bound = e.LongestBackRolling()
	plan.Fields = parse.Fields(e)
	if plan.Bound.IsUnbounded() {
		plan.Full = true
		return plan
	}

	plan.Depth = start + plan.Left + 1
	if plan.Depth < 1 {
		plan.Depth = 1
	}
	return plan
}

// limit is the row limit to pass to the store; 0 reads everything
func (p FetchPlan) limit() int {
	if p.Full {
		return 0
	}
	return p.Depth
}
