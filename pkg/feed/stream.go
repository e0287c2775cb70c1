package feed

import (
	"errors"
	"fmt"
)

// ErrUnknownStream は未知のストリーム名が指定された場合のエラー。
var ErrUnknownStream = errors.New("未知のストリームです")

// Stream は挿入イベントを配信する論理ストリーム（テーブル）を表す。
type Stream string

const (
	// StreamDonations は寄付テーブル。
	StreamDonations Stream = "donations"
	// StreamMembers は会員テーブル。
	StreamMembers Stream = "church_members"
	// StreamPrayerRequests は祈りのリクエストテーブル。
	StreamPrayerRequests Stream = "prayer_requests"
	// StreamContactSubmissions はお問い合わせテーブル。
	StreamContactSubmissions Stream = "contact_submissions"
	// StreamVolunteerSubmissions はボランティア登録テーブル。
	StreamVolunteerSubmissions Stream = "volunteer_submissions"
	// StreamEvents はイベントテーブル。
	StreamEvents Stream = "events"
	// StreamSermons は説教テーブル。
	StreamSermons Stream = "sermons"
)

// AllStreams は購読対象の全ストリームを固定順で返す。
func AllStreams() []Stream {
	return []Stream{
		StreamDonations,
		StreamMembers,
		StreamPrayerRequests,
		StreamContactSubmissions,
		StreamVolunteerSubmissions,
		StreamEvents,
		StreamSermons,
	}
}

// ParseStream は文字列をStreamに変換する。
func ParseStream(s string) (Stream, error) {
	st := Stream(s)
	if st.Category() == "" {
		return "", fmt.Errorf("%w: %q", ErrUnknownStream, s)
	}
	return st, nil
}

// Category はストリームに対応する通知カテゴリを返す。未知のストリームは空文字列。
func (s Stream) Category() Category {
	switch s {
	case StreamDonations:
		return CategoryDonation
	case StreamMembers:
		return CategoryMember
	case StreamPrayerRequests:
		return CategoryPrayer
	case StreamContactSubmissions:
		return CategoryContact
	case StreamVolunteerSubmissions:
		return CategoryVolunteer
	case StreamEvents:
		return CategoryEvent
	case StreamSermons:
		return CategorySermon
	}
	return ""
}

// Public は一般公開フォームから認証なしで投稿できるストリームかを返す。
func (s Stream) Public() bool {
	switch s {
	case StreamDonations, StreamPrayerRequests, StreamContactSubmissions, StreamVolunteerSubmissions:
		return true
	}
	return false
}
