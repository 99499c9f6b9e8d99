package decision

import (
	"math"
	"sort"

	"github.com/riskcast/riskcast/internal/model"
)

// Fallback bound: with the best action's net value non-positive and the cost
// of doing nothing below this, MONITOR wins.
const fallbackInactionCost = 1000.0

// Rank scores every candidate by expected net value with a time penalty and
// recommends the top one. The penalty caps at 20 so slow actions are not
// ranked out entirely.
func Rank(actions []model.Action, inactionCost float64) model.TradeoffResult {
	result := model.TradeoffResult{InactionCost: inactionCost}
	if len(actions) == 0 {
		return result
	}

	for _, a := range actions {
		penalty := math.Min(0.1*a.TimeToExecuteHours, 20)
		result.Ranked = append(result.Ranked, model.RankedAction{
			Action: a,
			Score:  a.NetValue*a.SuccessProbability - penalty,
		})
	}
	sort.SliceStable(result.Ranked, func(i, j int) bool {
		return result.Ranked[i].Score > result.Ranked[j].Score
	})

	result.TopScore = result.Ranked[0].Score
	if len(result.Ranked) > 1 {
		result.RunnerUp = result.Ranked[1].Score
	}

	top := result.Ranked[0].Action
	if top.Type != model.ActionMonitor && top.NetValue <= 0 && inactionCost < fallbackInactionCost {
		result.FellBack = true
	}

	denom := math.Max(math.Abs(result.TopScore), 1)
	result.Confidence = math.Min(1, (result.TopScore-result.RunnerUp)/denom)
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	return result
}
