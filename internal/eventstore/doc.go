// Package eventstore はイベントストアサービスの内部実装を提供する。
//
// 教会サイトのすべての挿入を変更ログとして永続化する。イベントは不変（immutable）であり、
// 追記のみ（append-only）で運用される。各イベントには全体で単調増加する順序番号（seq）を振り、
// 通知サービスはこの番号をカーソルとして新着の挿入を購読する。
//
// 主な機能:
//   - イベントの追記（Append）
//   - AggregateIDによるイベント取得
//   - イベントタイプ・日時によるイベント取得
//   - 順序番号以降のイベント取得とカーソル取得（変更データの購読用）
package eventstore
