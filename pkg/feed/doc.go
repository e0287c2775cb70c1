// Package feed は管理画面向けのリアルタイム通知フィードを提供する。
//
// 寄付・新規会員・祈りのリクエスト・お問い合わせ・ボランティア登録・
// イベント・説教の7つのストリームの挿入イベントを購読し、正規化した
// 通知として上限付きのフィードに集約する。既読管理とクリア操作、
// 通知選択時の遷移先の解決も担う。
//
// フィードはセッション単位でメモリ上にのみ保持され、永続化はしない。
package feed
