package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
// レコードの挿入イベントではテーブル名（例: "donations"）をそのまま使う。
type AggregateType string

// Type はイベントの種類を表す。
type Type string

const (
	// TypeRowInserted はテーブルに行が挿入されたことを表す。
	TypeRowInserted Type = "RowInserted"
	// TypeUserInvited は管理者がユーザーを招待したことを表す。
	TypeUserInvited Type = "UserInvited"
	// TypeUserRoleChanged はユーザーのロールが変更されたことを表す。
	TypeUserRoleChanged Type = "UserRoleChanged"
	// TypeUserRemoved はユーザーが削除されたことを表す。
	TypeUserRemoved Type = "UserRemoved"
)

// AggregateTypeUser は管理ユーザーの監査イベントに使う種類。
const AggregateTypeUser AggregateType = "users"

// Event は変更ログにおける不変のイベントレコードを表す。
// すべての挿入はこの構造体としてEvent Storeに追記される。
type Event struct {
	// Seq はEvent Store全体での追記順序番号。購読側のカーソルに使う。
	Seq int64 `json:"seq"`
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Version はAggregate内でのイベントの順序番号。
	Version int64 `json:"version"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// UserAuditData はユーザー管理操作の監査イベントのデータ。
type UserAuditData struct {
	// ActorID は操作した管理者のユーザーID。
	ActorID string `json:"actor_id"`
	// Email は対象ユーザーのメールアドレス。
	Email string `json:"email,omitempty"`
	// Role は変更後のロール。
	Role string `json:"role,omitempty"`
}

// AppendRequest はEvent Storeへのイベント追記リクエストのJSON構造。
type AppendRequest struct {
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id" binding:"required"`
	// AggregateType は対象エンティティの種類。
	AggregateType string `json:"aggregate_type" binding:"required"`
	// EventType はイベントの種類。
	EventType string `json:"event_type" binding:"required"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data" binding:"required"`
}

// Cursor はストリームの最新の追記順序番号。
type Cursor struct {
	// AggregateType は対象のストリーム。空の場合は全体。
	AggregateType string `json:"aggregate_type"`
	// Seq は最新の順序番号。イベントが無い場合は0。
	Seq int64 `json:"seq"`
}
