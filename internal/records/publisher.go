package records

import (
	"context"
	"fmt"

	"github.com/nao1215/sanctuary/pkg/event"
	"github.com/nao1215/sanctuary/pkg/feed"
	"github.com/nao1215/sanctuary/pkg/httpclient"
)

// Publisher は保存した行を変更ログに流す。
type Publisher interface {
	PublishInsert(ctx context.Context, stream feed.Stream, r feed.Record) error
}

// EventStorePublisher はRowInsertedイベントをEvent Storeに追記するPublisher。
type EventStorePublisher struct {
	client *httpclient.Client
}

// NewEventStorePublisher は新しいEventStorePublisherを生成する。
func NewEventStorePublisher(client *httpclient.Client) *EventStorePublisher {
	return &EventStorePublisher{client: client}
}

// PublishInsert はPublisherを実装する。AggregateIDはレコードID、AggregateTypeはストリーム名とする。
func (p *EventStorePublisher) PublishInsert(ctx context.Context, stream feed.Stream, r feed.Record) error {
	req, err := event.NewAppendRequest(r.String("id"), event.AggregateType(stream), event.TypeRowInserted, r)
	if err != nil {
		return err
	}
	if err := p.client.PostJSON(ctx, "/api/v1/events", req, nil); err != nil {
		return fmt.Errorf("Event Storeへのイベント送信に失敗: %w", err)
	}
	return nil
}
