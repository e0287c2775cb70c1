// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として機能する。
// 開発用JWTの発行、records/notificationサービスへのリクエスト転送、
// 管理者によるユーザー管理を担当する。ユーザー管理は権限を確認したうえで
// 外部のIDプロバイダのAPIにそのまま委譲し、操作の監査ログをEvent Storeに残す。
package gateway
