// Package realtime は通知フィードに挿入イベントを届けるチャネル提供者を実装する。
//
// Hubはプロセス内のファンイン・バスで、テストやローカル実行で合成イベントを
// 注入するために使う。EventStoreSourceはEvent Storeの変更ログをストリームごとに
// ポーリングし、RowInsertedイベントをレコードとして配信する。
package realtime
