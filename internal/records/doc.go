// Package records はサイトのフォームから送信されるレコードの受付サービスを提供する。
//
// 献金・祈りの課題・問い合わせ・ボランティア申込は未認証で受け付け、
// 会員・イベント・説教の登録は管理者のみが行える。保存した行はRowInsertedイベントとして
// Event Storeに追記され、通知サービスはそれを購読して管理画面に新着を知らせる。
package records
