package gateway

import (
	"context"
	"fmt"

	"github.com/nao1215/sanctuary/pkg/event"
	"github.com/nao1215/sanctuary/pkg/httpclient"
)

// Auditor はユーザー管理操作を監査ログに残す。
type Auditor interface {
	Audit(ctx context.Context, eventType event.Type, userID string, data event.UserAuditData) error
}

// EventStoreAuditor は監査イベントをEvent Storeに追記するAuditor。
type EventStoreAuditor struct {
	client *httpclient.Client
}

// NewEventStoreAuditor は新しいEventStoreAuditorを生成する。
func NewEventStoreAuditor(client *httpclient.Client) *EventStoreAuditor {
	return &EventStoreAuditor{client: client}
}

// Audit はAuditorを実装する。AggregateIDは対象ユーザーのIDとする。
func (a *EventStoreAuditor) Audit(ctx context.Context, eventType event.Type, userID string, data event.UserAuditData) error {
	req, err := event.NewAppendRequest(userID, event.AggregateTypeUser, eventType, data)
	if err != nil {
		return err
	}
	if err := a.client.PostJSON(ctx, "/api/v1/events", req, nil); err != nil {
		return fmt.Errorf("監査イベントの送信に失敗: %w", err)
	}
	return nil
}
