package game

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/JackieWYB/majiang-sub001/internal/dto"
)

// Suit 花色
type Suit int

const (
	SuitWan  Suit = iota // 万
	SuitTiao             // 条
	SuitTong             // 筒
)

const (
	SeatCount     = 3  // 血战三人场固定 3 个座位
	HandSize      = 13 // 起手 13 张，庄家多摸 1 张
	RankCount     = 9
	CopiesPerTile = 4
)

func (s Suit) String() string {
	switch s {
	case SuitWan:
		return "W"
	case SuitTiao:
		return "T"
	case SuitTong:
		return "D"
	default:
		return "?"
	}
}

// Tile 牌，按 (花色, 点数) 判等
type Tile struct {
	Suit Suit `json:"suit"`
	Rank int  `json:"rank"` // 1-9
}

// String 牌面编码，如 "5W"、"9D"
func (t Tile) String() string {
	return fmt.Sprintf("%d%s", t.Rank, t.Suit)
}

// Index 返回 27 维计数数组下标
func (t Tile) Index() int {
	return int(t.Suit)*RankCount + t.Rank - 1
}

// IsTerminal 是否幺九牌
func (t Tile) IsTerminal() bool {
	return t.Rank == 1 || t.Rank == 9
}

// TileAt 由计数数组下标还原牌
func TileAt(index int) Tile {
	return Tile{Suit: Suit(index / RankCount), Rank: index%RankCount + 1}
}

// ParseTile 解析 "5W" 形式的牌面编码
func ParseTile(s string) (Tile, error) {
	if len(s) != 2 {
		return Tile{}, fmt.Errorf("%w: %q", dto.ErrInvalidTile, s)
	}
	rank := int(s[0] - '0')
	if rank < 1 || rank > 9 {
		return Tile{}, fmt.Errorf("%w: %q", dto.ErrInvalidTile, s)
	}
	var suit Suit
	switch s[1] {
	case 'W', 'w':
		suit = SuitWan
	case 'T', 't':
		suit = SuitTiao
	case 'D', 'd':
		suit = SuitTong
	default:
		return Tile{}, fmt.Errorf("%w: %q", dto.ErrInvalidTile, s)
	}
	return Tile{Suit: suit, Rank: rank}, nil
}

// TileSet 房间可选的牌池
type TileSet string

const (
	TileSetWanOnly  TileSet = "WAN_ONLY"
	TileSetAllSuits TileSet = "ALL_SUITS"
)

// Suits 返回牌池包含的花色
func (ts TileSet) Suits() []Suit {
	switch ts {
	case TileSetWanOnly:
		return []Suit{SuitWan}
	case TileSetAllSuits:
		return []Suit{SuitWan, SuitTiao, SuitTong}
	default:
		return nil
	}
}

// NewWall 按种子生成洗好的牌墙
// 同一 (配置, 种子) 必定产生同一顺序，用于断线恢复和回放
func NewWall(ts TileSet, seed int64) ([]Tile, error) {
	suits := ts.Suits()
	if len(suits) == 0 {
		return nil, fmt.Errorf("%w: 未知牌池 %q", dto.ErrConfigInvalid, ts)
	}

	wall := make([]Tile, 0, len(suits)*RankCount*CopiesPerTile)
	for _, suit := range suits {
		for rank := 1; rank <= RankCount; rank++ {
			for c := 0; c < CopiesPerTile; c++ {
				wall = append(wall, Tile{Suit: suit, Rank: rank})
			}
		}
	}

	// Fisher-Yates，由种子驱动
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(wall), func(i, j int) {
		wall[i], wall[j] = wall[j], wall[i]
	})
	return wall, nil
}

// SortTiles 仅用于展示和快照，引擎内部手牌是多重集合
func SortTiles(tiles []Tile) {
	sort.Slice(tiles, func(i, j int) bool {
		if tiles[i].Suit != tiles[j].Suit {
			return tiles[i].Suit < tiles[j].Suit
		}
		return tiles[i].Rank < tiles[j].Rank
	})
}

// MeldKind 副露类型
type MeldKind string

const (
	MeldPeng   MeldKind = "PENG"
	MeldGang   MeldKind = "GANG"    // 明杠（点杠）
	MeldAnGang MeldKind = "AN_GANG" // 暗杠
	MeldBuGang MeldKind = "BU_GANG" // 补杠（碰升级）
	MeldChi    MeldKind = "CHI"
)

// Meld 副露，归属于唯一一个座位
// From 为被叫牌的座位，暗杠为 -1
type Meld struct {
	Kind  MeldKind `json:"kind"`
	Tiles []Tile   `json:"tiles"`
	From  int      `json:"from"`
}

// IsGang 是否任意一种杠
func (m Meld) IsGang() bool {
	return m.Kind == MeldGang || m.Kind == MeldAnGang || m.Kind == MeldBuGang
}

// TileCountOf 副露占用的手牌张数（用于 13/14 张校验）
func (m Meld) TileCountOf() int {
	return len(m.Tiles)
}
