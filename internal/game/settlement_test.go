package game

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func settlementState(t *testing.T, cfg *RuleConfig) *GameState {
	t.Helper()
	state := NewGameState("100001", "g1", 1, cfg)
	for i := 0; i < SeatCount; i++ {
		state.Players[i] = NewPlayerImage([]string{"u1", "u2", "u3"}[i], i)
	}
	state.Players[0].Dealer = true
	state.DealerUserID = "u1"
	state.Phase = PhasePlaying
	return state
}

func sumScores(result *SettlementResult) int {
	sum := 0
	for _, pr := range result.PlayerResults {
		sum += pr.FinalScore
	}
	return sum
}

// Scenario: dealer self-draw, fan=2, baseScore=2, dealerMultiplier=2, selfDrawBonus=1.
// Gross per loser = 2*2*2*1 = 8, so +16/-8/-8, zero sum, within maxScore=24.
func TestSettleHuDealerSelfDraw(t *testing.T) {
	cfg := DefaultRuleConfig()
	cfg.Score.BaseScore = 2
	cfg.Score.MaxScore = 24
	cfg.Score.DealerMultiplier = 2.0
	cfg.Score.SelfDrawBonus = 1.0
	state := settlementState(t, cfg)

	wins := map[int]*WinResult{
		0: {Valid: true, BaseFan: 2, SelfDraw: true, Dealer: true, WinningFrom: -1},
	}
	result := settleHu(state, wins, nil)

	require.Equal(t, EndReasonHu, result.GameEndReason)
	require.False(t, result.MultipleWinners)
	require.Equal(t, 16, result.FinalScores["u1"])
	require.Equal(t, -8, result.FinalScores["u2"])
	require.Equal(t, -8, result.FinalScores["u3"])
	require.Zero(t, sumScores(result))
	for _, pr := range result.PlayerResults {
		require.LessOrEqual(t, abs(pr.FinalScore), cfg.Score.MaxScore)
	}
}

// Discard win: the discarder pays everything, the third player pays nothing.
func TestSettleHuDiscardWin(t *testing.T) {
	cfg := DefaultRuleConfig()
	cfg.Score.BaseScore = 2
	cfg.Score.MaxScore = 64
	state := settlementState(t, cfg)

	wins := map[int]*WinResult{
		2: {Valid: true, BaseFan: 5, SelfDraw: false, Dealer: false, WinningFrom: 0},
	}
	result := settleHu(state, wins, nil)

	require.Equal(t, 10, result.FinalScores["u3"])
	require.Equal(t, -10, result.FinalScores["u1"])
	require.Zero(t, result.FinalScores["u2"])
	require.Zero(t, sumScores(result))
}

// Clipping: a huge fan gets squeezed to maxScore and the table still sums to zero.
func TestSettleHuClipped(t *testing.T) {
	cfg := DefaultRuleConfig()
	cfg.Score.BaseScore = 10
	cfg.Score.MaxScore = 24
	cfg.Score.DealerMultiplier = 2.0
	cfg.Score.SelfDrawBonus = 1.0
	state := settlementState(t, cfg)

	// Dealer self-draw at fan 13: raw gross would be 10*13*2 = 260 per loser.
	wins := map[int]*WinResult{
		0: {Valid: true, BaseFan: 13, SelfDraw: true, Dealer: true, WinningFrom: -1},
	}
	result := settleHu(state, wins, nil)

	require.Zero(t, sumScores(result))
	for _, pr := range result.PlayerResults {
		require.LessOrEqual(t, abs(pr.FinalScore), cfg.Score.MaxScore)
	}
	// Winner absorbs what the losers actually paid, never more.
	require.Equal(t, cfg.Score.MaxScore, result.FinalScores["u1"])
}

func TestSettleDrawAllZero(t *testing.T) {
	cfg := DefaultRuleConfig()
	state := settlementState(t, cfg)

	gang := []GangScore{{
		Seat:  1,
		Kind:  MeldAnGang,
		Tile:  Tile{SuitWan, 5},
		Delta: [SeatCount]int{-4, 8, -4},
	}}
	result := settleDraw(state, gang)

	require.Equal(t, EndReasonDraw, result.GameEndReason)
	for _, pr := range result.PlayerResults {
		require.Zero(t, pr.FinalScore)
	}
	// Gang income stays on the running score, reported in the ledger only.
	require.Equal(t, 8, result.PlayerResults[1].GangScore)
}

func TestGangBonusDelta(t *testing.T) {
	// Concealed kong: 4x from each other player.
	d := gangBonusDelta(MeldAnGang, 0, -1, 1)
	require.Equal(t, [SeatCount]int{8, -4, -4}, d)

	// Open kong: 2x from each other player.
	d = gangBonusDelta(MeldGang, 1, 0, 1)
	require.Equal(t, [SeatCount]int{-2, 4, -2}, d)

	// Upgraded kong: 2x from the original pong discarder only.
	d = gangBonusDelta(MeldBuGang, 2, 0, 1)
	require.Equal(t, [SeatCount]int{-2, 0, 2}, d)

	// Every gang delta is itself zero-sum.
	for _, kind := range []MeldKind{MeldAnGang, MeldGang, MeldBuGang} {
		d := gangBonusDelta(kind, 1, 2, 3)
		require.Zero(t, d[0]+d[1]+d[2])
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
