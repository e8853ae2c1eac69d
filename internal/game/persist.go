package game

import (
	"encoding/json"
	"fmt"

	"github.com/JackieWYB/majiang-sub001/internal/dto"
)

// MarshalState 序列化权威对局状态
// 显式 schema：所有字段带 json tag，schemaVersion 用于升级
func MarshalState(state *GameState) ([]byte, error) {
	if state == nil {
		return nil, fmt.Errorf("%w: state 为空", dto.ErrStateCorrupt)
	}
	return json.Marshal(state)
}

// UnmarshalState 反序列化，校验版本与守恒不变式
func UnmarshalState(data []byte) (*GameState, error) {
	var state GameState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", dto.ErrStateCorrupt, err)
	}
	if state.SchemaVersion != GameStateSchemaVersion {
		return nil, fmt.Errorf("%w: schema 版本 %d 不支持", dto.ErrStateCorrupt, state.SchemaVersion)
	}
	if state.Config == nil {
		return nil, fmt.Errorf("%w: 缺少规则配置", dto.ErrStateCorrupt)
	}
	if state.Phase == PhasePlaying || state.Phase == PhaseSettlement {
		if err := state.CheckConservation(); err != nil {
			return nil, err
		}
	}
	return &state, nil
}

// StateSaver 状态存储接口（引擎侧视角）
// Save 必须在写预算内完成，超时返回 TRANSIENT_STORE_ERROR
type StateSaver interface {
	SaveState(state *GameState) error
	LoadState(roomID string) (*GameState, error)
	DeleteState(roomID string) error
}
