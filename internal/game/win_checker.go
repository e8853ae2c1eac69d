package game

// MaxFan 番数封顶
const MaxFan = 13

// 可配置的牌型开关名（huTypes）
const (
	HuBasicWin      = "basicWin"
	HuSevenPairs    = "sevenPairs"
	HuAllPungs      = "allPungs"
	HuEdgeWait      = "edgeWait"
	HuPairWait      = "pairWait"
	HuAllTerminals  = "allTerminals"
	HuPureSuit      = "pureSuit"
	HuFourConcealed = "fourConcealed"
	HuSelfDraw      = "selfDraw"
	HuConcealedHand = "concealedHand"
)

// FanSource 番数来源（给客户端看的结算明细）
type FanSource struct {
	Name string `json:"name"`
	Fan  int    `json:"fan"`
}

// WinResult 和牌校验与评番结果
type WinResult struct {
	Valid       bool        `json:"valid"`
	BaseFan     int         `json:"baseFan"`
	HandTypes   []string    `json:"handTypes"`
	FanSources  []FanSource `json:"fanSources"`
	WinningTile Tile        `json:"winningTile"`
	SelfDraw    bool        `json:"selfDraw"`
	Dealer      bool        `json:"dealer"`
	WinningFrom int         `json:"winningFrom"` // 点炮座位，自摸为 -1
}

// WinContext 评番上下文：一个具体拆解加场况
type WinContext struct {
	Decomp      Decomposition
	Melds       []Meld
	AllTiles    []Tile // 手牌(含和牌张) + 副露牌
	WinningTile Tile
	SelfDraw    bool
	Concealed   bool // 无明副露
}

// FanChecker 牌型判定器
type FanChecker struct {
	Name  string
	Gate  string // huTypes 开关名，空串表示恒启用
	Check func(ctx *WinContext) int
}

// XuezhanFanRegistry 血战牌型注册表
// 番数为设计值，最终相加后按 MaxFan 封顶
var XuezhanFanRegistry = []FanChecker{
	{
		Name: "基本胡", Gate: HuBasicWin,
		Check: func(ctx *WinContext) int { return 1 },
	},
	{
		Name: "自摸", Gate: HuSelfDraw,
		Check: func(ctx *WinContext) int {
			if ctx.SelfDraw {
				return 1
			}
			return 0
		},
	},
	{
		Name: "七对", Gate: HuSevenPairs,
		Check: func(ctx *WinContext) int {
			if ctx.Decomp.SevenPairs {
				return 4
			}
			return 0
		},
	},
	{
		Name: "碰碰胡", Gate: HuAllPungs,
		Check: func(ctx *WinContext) int {
			if isAllPungs(ctx) {
				return 6
			}
			return 0
		},
	},
	{
		Name: "清幺九", Gate: HuAllTerminals,
		Check: func(ctx *WinContext) int {
			for _, t := range ctx.AllTiles {
				if !t.IsTerminal() {
					return 0
				}
			}
			return 10
		},
	},
	{
		Name: "清一色", Gate: HuPureSuit,
		Check: func(ctx *WinContext) int {
			suit := ctx.AllTiles[0].Suit
			for _, t := range ctx.AllTiles {
				if t.Suit != suit {
					return 0
				}
			}
			return 8
		},
	},
	{
		Name: "门清", Gate: "",
		Check: func(ctx *WinContext) int {
			if ctx.Concealed {
				return 2
			}
			return 0
		},
	},
	{
		Name: "边张", Gate: HuEdgeWait,
		Check: func(ctx *WinContext) int {
			if isEdgeWait(ctx) {
				return 1
			}
			return 0
		},
	},
	{
		Name: "单钓", Gate: HuPairWait,
		Check: func(ctx *WinContext) int {
			if !ctx.Decomp.SevenPairs && ctx.Decomp.Pair == ctx.WinningTile {
				return 1
			}
			return 0
		},
	},
}

// isAllPungs 所有面子均为刻/杠
func isAllPungs(ctx *WinContext) bool {
	if ctx.Decomp.SevenPairs {
		return false
	}
	for _, s := range ctx.Decomp.Sets {
		if s.Kind != SetPong {
			return false
		}
	}
	for _, m := range ctx.Melds {
		if m.Kind == MeldChi {
			return false
		}
	}
	return true
}

// isFourConcealed 四暗刻：四个面子全是未副露的刻子（暗杠视同暗刻）
func isFourConcealed(ctx *WinContext) bool {
	if ctx.Decomp.SevenPairs {
		return false
	}
	pongs := len(ctx.Decomp.Sets)
	for _, s := range ctx.Decomp.Sets {
		if s.Kind != SetPong {
			return false
		}
	}
	for _, m := range ctx.Melds {
		if m.Kind != MeldAnGang {
			return false
		}
		pongs++
	}
	return pongs == 4
}

// isEdgeWait 和的牌正好补上 123 的 3 或 789 的 7
func isEdgeWait(ctx *WinContext) bool {
	if ctx.Decomp.SevenPairs {
		return false
	}
	w := ctx.WinningTile
	for _, s := range ctx.Decomp.Sets {
		if s.Kind != SetChow || s.Tile.Suit != w.Suit {
			continue
		}
		if s.Tile.Rank == 1 && w.Rank == 3 {
			return true
		}
		if s.Tile.Rank == 7 && w.Rank == 7 {
			return true
		}
	}
	return false
}

// EvaluateWin 判定和牌并评番
// hand 不含和牌张；selfDraw 时 winningTile 是刚摸到的那张
func (s *Searcher) EvaluateWin(hand []Tile, melds []Meld, winningTile Tile, selfDraw bool, dealer bool, winningFrom int, cfg *RuleConfig) WinResult {
	result := WinResult{
		WinningTile: winningTile,
		SelfDraw:    selfDraw,
		Dealer:      dealer,
		WinningFrom: winningFrom,
	}

	full := make([]Tile, 0, len(hand)+1)
	full = append(full, hand...)
	full = append(full, winningTile)

	h := Hand27FromTiles(full)
	decomps := s.Decompose(h, len(melds), cfg.AllowChi, cfg.HuEnabled(HuSevenPairs))
	if len(decomps) == 0 {
		return result
	}

	concealed := true
	allTiles := make([]Tile, 0, len(full)+len(melds)*4)
	allTiles = append(allTiles, full...)
	for _, m := range melds {
		if m.Kind != MeldAnGang {
			concealed = false
		}
		allTiles = append(allTiles, m.Tiles...)
	}

	// 取番数最高的拆解，拆解枚举顺序确定，评番结果稳定
	best := -1
	for _, d := range decomps {
		ctx := &WinContext{
			Decomp:      d,
			Melds:       melds,
			AllTiles:    allTiles,
			WinningTile: winningTile,
			SelfDraw:    selfDraw,
			Concealed:   concealed,
		}

		fan := 0
		var sources []FanSource
		var types []string
		for _, checker := range XuezhanFanRegistry {
			if checker.Gate != "" && !cfg.HuEnabled(checker.Gate) {
				continue
			}
			got := checker.Check(ctx)
			if got > 0 {
				fan += got
				sources = append(sources, FanSource{Name: checker.Name, Fan: got})
				types = append(types, checker.Name)
			}
		}

		// 四暗刻按役满处理，直接封顶
		if cfg.HuEnabled(HuFourConcealed) && isFourConcealed(ctx) {
			fan = MaxFan
			sources = append(sources, FanSource{Name: "四暗刻", Fan: MaxFan})
			types = append(types, "四暗刻")
		}

		if fan > MaxFan {
			fan = MaxFan
		}
		if fan > best {
			best = fan
			result.BaseFan = fan
			result.FanSources = sources
			result.HandTypes = types
		}
	}

	result.Valid = best > 0
	return result
}
