// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// 各サービスが他のサービスのAPIを呼び出す際に使用する。
// Event Storeへのイベント追記と購読、外部のIDプロバイダAPIの呼び出しなど、
// サービス間の通信パターンを統一する。
package httpclient
