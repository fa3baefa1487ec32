package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Payload はイベント固有のデータ。データの型ごとにイベント種別が決まる。
type Payload interface {
	EventType() Type
}

// EventType はPrincipalCreatedを返す。
func (PrincipalCreatedData) EventType() Type { return TypePrincipalCreated }

// EventType はLoginSucceededを返す。
func (LoginSucceededData) EventType() Type { return TypeLoginSucceeded }

// EventType はTokensRefreshedを返す。
func (TokensRefreshedData) EventType() Type { return TypeTokensRefreshed }

// Record はユーザーに関するイベントを生成する。
// 種別はpayloadの型から決まり、atはUTCに揃えて保持する。
func Record(principalID string, payload Payload, at time.Time) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%sのデータのシリアライズに失敗: %w", payload.EventType(), err)
	}
	return &Event{
		ID:            uuid.NewString(),
		AggregateID:   principalID,
		AggregateType: AggregateTypePrincipal,
		EventType:     payload.EventType(),
		Data:          data,
		CreatedAt:     at.UTC(),
	}, nil
}

// Decode はイベントのデータをTとして取り出す。
// イベント種別がTの種別と異なる場合はエラーを返す。
func Decode[T Payload](e *Event) (T, error) {
	var data T
	if e.EventType != data.EventType() {
		return data, fmt.Errorf("イベント種別が一致しない: got %s, want %s", e.EventType, data.EventType())
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return data, fmt.Errorf("%sのデータのデシリアライズに失敗: %w", e.EventType, err)
	}
	return data, nil
}
