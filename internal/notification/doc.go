// Package notification は管理画面向けのリアルタイム通知サービスを提供する。
//
// 管理者のセッションごとに通知フィードの集約器をマウントし、7つのストリームへの挿入を
// 1つのフィードにまとめる。フィードはREST APIで参照・既読化でき、新着はSSEでトーストとして配信する。
// フィードはメモリ上にのみ保持し、セッションの終了とともに破棄する。
package notification
