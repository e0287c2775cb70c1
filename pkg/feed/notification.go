package feed

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
	"time"
)

// Record は挿入された行をそのまま表すキー・バリューのマップ。
type Record map[string]any

// Notification は挿入イベントから生成した通知。クライアント側でのみ生成し、永続化しない。
type Notification struct {
	// ID はカテゴリとレコードIDから決定的に導出する識別子（例: "donation-d1"）。
	ID string `json:"id"`
	// Category は通知の種類。
	Category Category `json:"category"`
	// Title はカテゴリごとに固定の見出し。
	Title string `json:"title"`
	// Message はレコードのフィールドから組み立てた本文。
	Message string `json:"message"`
	// OccurredAt はイベントを受信した時刻。並び順はこの到着順に従う。
	OccurredAt time.Time `json:"occurred_at"`
	// SourceCreatedAt はレコード自身のcreated_at。読み取れない場合はnil。
	SourceCreatedAt *time.Time `json:"source_created_at,omitempty"`
	// IsRead は既読状態。
	IsRead bool `json:"is_read"`
	// SourcePayload は元のレコードのコピー。画面遷移用に保持し、表示には使わない。
	SourcePayload Record `json:"source_payload"`
}

// Severity はトーストの表示種別。
type Severity string

const (
	// SeveritySuccess は成功系の表示。
	SeveritySuccess Severity = "success"
	// SeverityInfo は情報系の表示。
	SeverityInfo Severity = "info"
)

// Toast は新着通知に伴って表示する一時的なポップアップ。
type Toast struct {
	NotificationID string   `json:"notification_id"`
	Title          string   `json:"title"`
	Message        string   `json:"message"`
	Severity       Severity `json:"severity"`
}

// NotificationID はカテゴリとレコードIDから通知IDを導出する。
func NotificationID(c Category, recordID string) string {
	return fmt.Sprintf("%s-%s", c, recordID)
}

// Normalize はストリームの挿入レコードを通知に変換する。
// 未知のストリーム、またはidを持たないレコードの場合はfalseを返す。
func Normalize(stream Stream, r Record, receivedAt time.Time) (Notification, bool) {
	category := stream.Category()
	if category == "" {
		return Notification{}, false
	}
	recordID := r.String("id")
	if recordID == "" {
		return Notification{}, false
	}

	return Notification{
		ID:              NotificationID(category, recordID),
		Category:        category,
		Title:           category.Title(),
		Message:         buildMessage(category, r),
		OccurredAt:      receivedAt,
		SourceCreatedAt: r.Time("created_at"),
		SourcePayload:   maps.Clone(r),
	}, true
}

// buildMessage はカテゴリごとの本文を組み立てる。欠けた任意項目は文ごと省略する。
func buildMessage(c Category, r Record) string {
	switch c {
	case CategoryDonation:
		var b strings.Builder
		if amount := formatAmount(r["amount"]); amount != "" {
			b.WriteString("$" + amount + " donation received")
		} else {
			b.WriteString("Donation received")
		}
		if donor := joinNonEmpty(r.String("donor_first_name"), r.String("donor_last_name")); donor != "" {
			b.WriteString(" from " + donor)
		}
		if fund := r.String("fund"); fund != "" {
			b.WriteString(" for " + fund)
		}
		return b.String()
	case CategoryMember:
		if name := joinNonEmpty(r.String("first_name"), r.String("last_name")); name != "" {
			return name + " joined the church"
		}
		return "A new member joined the church"
	case CategoryPrayer:
		msg := "A prayer request was submitted"
		if name := r.String("first_name"); name != "" {
			msg = name + " submitted a prayer request"
		}
		if subject := r.String("subject"); subject != "" {
			msg += ": " + subject
		}
		return msg
	case CategoryContact:
		msg := "New contact message"
		if name := firstNonEmpty(r.String("name"), joinNonEmpty(r.String("first_name"), r.String("last_name"))); name != "" {
			msg = "New message from " + name
		}
		if subject := r.String("subject"); subject != "" {
			msg += ": " + subject
		}
		return msg
	case CategoryVolunteer:
		msg := "A new volunteer signed up"
		if name := joinNonEmpty(r.String("first_name"), r.String("last_name")); name != "" {
			msg = name + " signed up to volunteer"
		}
		if ministry := firstNonEmpty(r.String("ministry"), r.String("area_of_interest")); ministry != "" {
			msg += " for " + ministry
		}
		return msg
	case CategoryEvent:
		msg := "A new event was created"
		if title := r.String("title"); title != "" {
			msg = "Event created: " + title
		}
		if date := firstNonEmpty(r.String("event_date"), r.String("date")); date != "" {
			msg += " on " + date
		}
		return msg
	case CategorySermon:
		msg := "A new sermon was published"
		if title := r.String("title"); title != "" {
			msg = "New sermon published: " + title
		}
		if speaker := firstNonEmpty(r.String("speaker"), r.String("preacher")); speaker != "" {
			msg += " by " + speaker
		}
		return msg
	}
	return ""
}

// String はキーの値を文字列で返す。存在しない場合やnullの場合は空文字列。
func (r Record) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Time はキーの値を時刻として解釈する。解釈できない場合はnil。
func (r Record) Time(key string) *time.Time {
	s := r.String(key)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, time.DateTime} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// formatAmount は金額を表示用に整形する。整数なら小数点以下を付けない。
func formatAmount(v any) string {
	var f float64
	switch t := v.(type) {
	case nil:
		return ""
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return t.String()
		}
		f = parsed
	case string:
		s := strings.TrimSpace(t)
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return s
		}
		f = parsed
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
	if f == math.Trunc(f) {
		return strconv.FormatFloat(f, 'f', 0, 64)
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func joinNonEmpty(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
