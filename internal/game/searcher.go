package game

import (
	"sort"
	"sync"
)

// Hand27 手牌计数数组，27 = 3 花色 × 9 点数
type Hand27 [27]uint8

// Hand27FromTiles 构建计数数组
func Hand27FromTiles(tiles []Tile) Hand27 {
	var h Hand27
	for _, t := range tiles {
		h[t.Index()]++
	}
	return h
}

func (h Hand27) total() int {
	sum := 0
	for _, c := range h {
		sum += int(c)
	}
	return sum
}

func (h Hand27) key(meldCount int) string {
	buf := make([]byte, 0, 28)
	for _, c := range h {
		buf = append(buf, '0'+c)
	}
	buf = append(buf, byte('0'+meldCount))
	return string(buf)
}

// KongKind 杠的种类
type KongKind int

const (
	KongNone KongKind = iota
	KongOpen
	KongConcealed
	KongUpgraded
)

// SetKind 面子种类
type SetKind int

const (
	SetPong SetKind = iota
	SetChow
)

// DecompSet 拆解出的一个手内面子
// Tile 为刻子的牌，或顺子的起始牌
type DecompSet struct {
	Kind SetKind
	Tile Tile
}

// Decomposition 一种合法的和牌拆解
// 副露不在 Sets 中，由调用方连同 Decomposition 一起评番
type Decomposition struct {
	Pair       Tile
	Sets       []DecompSet
	SevenPairs bool
}

// Searcher 和牌搜索器，带结果缓存
// 算法：枚举雀头，逐花色回溯面子，刻子优先
type Searcher struct {
	mu          sync.RWMutex
	decompCache map[string][]Decomposition
}

func NewSearcher() *Searcher {
	return &Searcher{
		decompCache: make(map[string][]Decomposition, 2048),
	}
}

// CanPeng 手牌中该牌 >= 2 张
func CanPeng(hand []Tile, tile Tile) bool {
	return countTile(hand, tile) >= 2
}

// CanKong 判断杠的种类
// 手中 3 张且别家打出 -> 明杠；手中 4 张 -> 暗杠；手中 1 张且已碰 -> 补杠
func CanKong(hand []Tile, melds []Meld, tile Tile, fromDiscard bool) KongKind {
	n := countTile(hand, tile)
	if fromDiscard {
		if n >= 3 {
			return KongOpen
		}
		return KongNone
	}
	if n >= 4 {
		return KongConcealed
	}
	if n >= 1 {
		for _, m := range melds {
			if m.Kind == MeldPeng && len(m.Tiles) > 0 && m.Tiles[0] == tile {
				return KongUpgraded
			}
		}
	}
	return KongNone
}

// ChowChoices 可组成的顺子，仅对上家打出的牌有意义
// 返回每组 (a,b,c) 升序，包含被吃的牌
func ChowChoices(hand []Tile, tile Tile) [][3]Tile {
	var out [][3]Tile
	has := func(rank int) bool {
		if rank < 1 || rank > 9 {
			return false
		}
		return countTile(hand, Tile{Suit: tile.Suit, Rank: rank}) > 0
	}
	r := tile.Rank
	for _, start := range []int{r - 2, r - 1, r} {
		if start < 1 || start+2 > 9 {
			continue
		}
		ok := true
		for k := start; k <= start+2; k++ {
			if k == r {
				continue
			}
			if !has(k) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, [3]Tile{
				{Suit: tile.Suit, Rank: start},
				{Suit: tile.Suit, Rank: start + 1},
				{Suit: tile.Suit, Rank: start + 2},
			})
		}
	}
	return out
}

// Decompose 枚举所有合法拆解
// h: 含和牌张的 14-3k 张手牌；meldCount: 已副露面子数
// 输出顺序确定：刻子多者优先，再按雀头与面子起始牌从小到大
func (s *Searcher) Decompose(h Hand27, meldCount int, allowChow bool, sevenPairs bool) []Decomposition {
	key := h.key(meldCount) + map[bool]string{true: "c", false: "-"}[allowChow] + map[bool]string{true: "7", false: "-"}[sevenPairs]
	s.mu.RLock()
	if v, ok := s.decompCache[key]; ok {
		s.mu.RUnlock()
		return v
	}
	s.mu.RUnlock()

	need := 4 - meldCount
	var results []Decomposition

	if need >= 0 && h.total() == need*3+2 {
		for p := 0; p < 27; p++ {
			if h[p] < 2 {
				continue
			}
			work := h
			work[p] -= 2
			var sets []DecompSet
			extractSets(&work, 0, need, allowChow, &sets, func(found []DecompSet) {
				cp := make([]DecompSet, len(found))
				copy(cp, found)
				results = append(results, Decomposition{Pair: TileAt(p), Sets: cp})
			})
		}
	}

	// 七对是独立牌型：14 张、无副露、全部成对
	if sevenPairs && meldCount == 0 && h.total() == 14 {
		pairsOK := true
		for i := 0; i < 27; i++ {
			if h[i]%2 != 0 {
				pairsOK = false
				break
			}
		}
		if pairsOK {
			results = append(results, Decomposition{SevenPairs: true})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		pi, pj := pongCount(results[i]), pongCount(results[j])
		if pi != pj {
			return pi > pj
		}
		return decompLess(results[i], results[j])
	})

	s.mu.Lock()
	s.decompCache[key] = results
	s.mu.Unlock()
	return results
}

// IsWinning 是否存在任一合法拆解
func (s *Searcher) IsWinning(h Hand27, meldCount int, allowChow bool, sevenPairs bool) bool {
	return len(s.Decompose(h, meldCount, allowChow, sevenPairs)) > 0
}

// extractSets 逐下标回溯取面子，刻子优先保证输出顺序稳定
func extractSets(h *Hand27, from, need int, allowChow bool, acc *[]DecompSet, emit func([]DecompSet)) {
	if need == 0 {
		if remainderEmpty(h) {
			emit(*acc)
		}
		return
	}
	i := from
	for i < 27 && h[i] == 0 {
		i++
	}
	if i >= 27 {
		return
	}

	// 刻子
	if h[i] >= 3 {
		h[i] -= 3
		*acc = append(*acc, DecompSet{Kind: SetPong, Tile: TileAt(i)})
		extractSets(h, i, need-1, allowChow, acc, emit)
		*acc = (*acc)[:len(*acc)-1]
		h[i] += 3
	}

	// 顺子（不跨花色）
	if allowChow && i%RankCount <= 6 && h[i+1] > 0 && h[i+2] > 0 {
		h[i]--
		h[i+1]--
		h[i+2]--
		*acc = append(*acc, DecompSet{Kind: SetChow, Tile: TileAt(i)})
		extractSets(h, i, need-1, allowChow, acc, emit)
		*acc = (*acc)[:len(*acc)-1]
		h[i]++
		h[i+1]++
		h[i+2]++
	}
}

func remainderEmpty(h *Hand27) bool {
	for i := 0; i < 27; i++ {
		if h[i] > 0 {
			return false
		}
	}
	return true
}

func pongCount(d Decomposition) int {
	n := 0
	for _, s := range d.Sets {
		if s.Kind == SetPong {
			n++
		}
	}
	return n
}

func decompLess(a, b Decomposition) bool {
	if a.SevenPairs != b.SevenPairs {
		return !a.SevenPairs
	}
	if a.Pair.Index() != b.Pair.Index() {
		return a.Pair.Index() < b.Pair.Index()
	}
	for i := 0; i < len(a.Sets) && i < len(b.Sets); i++ {
		if a.Sets[i].Tile.Index() != b.Sets[i].Tile.Index() {
			return a.Sets[i].Tile.Index() < b.Sets[i].Tile.Index()
		}
	}
	return false
}

func countTile(hand []Tile, tile Tile) int {
	n := 0
	for _, t := range hand {
		if t == tile {
			n++
		}
	}
	return n
}
