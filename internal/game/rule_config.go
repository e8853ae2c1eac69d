package game

import (
	"fmt"

	"github.com/JackieWYB/majiang-sub001/internal/dto"
	"github.com/JackieWYB/majiang-sub001/internal/utils"
)

// ScoreConf 结算参数
type ScoreConf struct {
	BaseScore        int     `json:"baseScore"`
	MaxScore         int     `json:"maxScore"`
	DealerMultiplier float64 `json:"dealerMultiplier"`
	SelfDrawBonus    float64 `json:"selfDrawBonus"`
	GangBonus        int     `json:"gangBonus"`
	MultipleWinners  bool    `json:"multipleWinners"`
}

// TurnConf 回合计时参数
type TurnConf struct {
	TurnTimeLimitSeconds   int  `json:"turnTimeLimitSeconds"`
	ActionTimeLimitSeconds int  `json:"actionTimeLimitSeconds"`
	AutoTrustee            bool `json:"autoTrustee"`
}

// RuleConfig 房间规则，由外部提供并在建房时校验
type RuleConfig struct {
	Players   int       `json:"players"`
	Tiles     TileSet   `json:"tiles"`
	AllowPeng bool      `json:"allowPong"`
	AllowGang bool      `json:"allowKong"`
	AllowChi  bool      `json:"allowChow"`
	HuTypes   []string  `json:"huTypes"`
	Score     ScoreConf `json:"score"`
	Turn      TurnConf  `json:"turn"`
	MaxRounds int       `json:"maxRounds"`
}

var knownHuTypes = []string{
	HuBasicWin, HuSevenPairs, HuAllPungs, HuEdgeWait, HuPairWait,
	HuAllTerminals, HuPureSuit, HuFourConcealed, HuSelfDraw,
}

// DefaultRuleConfig 血战三人默认规则
func DefaultRuleConfig() *RuleConfig {
	return &RuleConfig{
		Players:   SeatCount,
		Tiles:     TileSetAllSuits,
		AllowPeng: true,
		AllowGang: true,
		AllowChi:  false,
		HuTypes:   append([]string(nil), knownHuTypes...),
		Score: ScoreConf{
			BaseScore:        2,
			MaxScore:         64,
			DealerMultiplier: 2.0,
			SelfDrawBonus:    1.0,
			GangBonus:        1,
			MultipleWinners:  false,
		},
		Turn: TurnConf{
			TurnTimeLimitSeconds:   15,
			ActionTimeLimitSeconds: 2,
			AutoTrustee:            true,
		},
		MaxRounds: 4,
	}
}

// Validate 校验规则值域
func (c *RuleConfig) Validate() error {
	if c.Players != SeatCount {
		return fmt.Errorf("%w: players 只支持 %d", dto.ErrConfigInvalid, SeatCount)
	}
	if len(c.Tiles.Suits()) == 0 {
		return fmt.Errorf("%w: 未知牌池 %q", dto.ErrConfigInvalid, c.Tiles)
	}
	for _, ht := range c.HuTypes {
		if !utils.Contains(knownHuTypes, ht) {
			return fmt.Errorf("%w: 未知牌型 %q", dto.ErrConfigInvalid, ht)
		}
	}
	if c.Score.BaseScore <= 0 || c.Score.MaxScore <= 0 {
		return fmt.Errorf("%w: 分数参数必须为正", dto.ErrConfigInvalid)
	}
	if c.Score.DealerMultiplier <= 0 || c.Score.SelfDrawBonus <= 0 {
		return fmt.Errorf("%w: 倍率参数必须为正", dto.ErrConfigInvalid)
	}
	if c.Score.GangBonus < 0 {
		return fmt.Errorf("%w: gangBonus 不能为负", dto.ErrConfigInvalid)
	}
	if c.Turn.TurnTimeLimitSeconds <= 0 || c.Turn.ActionTimeLimitSeconds <= 0 {
		return fmt.Errorf("%w: 计时参数必须为正", dto.ErrConfigInvalid)
	}
	if c.MaxRounds <= 0 {
		return fmt.Errorf("%w: maxRounds 必须为正", dto.ErrConfigInvalid)
	}
	return nil
}

// HuEnabled 该牌型是否启用
func (c *RuleConfig) HuEnabled(name string) bool {
	return utils.Contains(c.HuTypes, name)
}
