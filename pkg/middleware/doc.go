// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// gatewayの流入制御パイプライン（分散レートリミット → JWT認証）と、
// 内部サービス向けの検証済みIDヘッダー認証、パニックリカバリ、CORS設定を含む。
// パイプラインの段はレートリミット → 認証 → ルーティングの順に適用し、
// 拒否されるリクエストを最小コストで弾く。
package middleware
