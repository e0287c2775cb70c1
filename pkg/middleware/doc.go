// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWTの検証とロールによる認可、zapによるアクセスログ、パニックリカバリ、
// CORS設定など、全サービスで共通して使用するミドルウェアを含む。
package middleware
