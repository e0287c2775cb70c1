package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New は新しいイベントを生成する。
// dataにはイベント固有のデータを渡す。JSON形式にシリアライズされる。
func New(aggregateID string, aggregateType AggregateType, eventType Type, version int64, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}

	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          jsonData,
		Version:       version,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// NewAppendRequest はEvent Storeへの追記リクエストを生成する。
func NewAppendRequest(aggregateID string, aggregateType AggregateType, eventType Type, data any) (AppendRequest, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return AppendRequest{}, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}
	return AppendRequest{
		AggregateID:   aggregateID,
		AggregateType: string(aggregateType),
		EventType:     string(eventType),
		Data:          jsonData,
	}, nil
}

// DecodeData はイベントのDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](e *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}
