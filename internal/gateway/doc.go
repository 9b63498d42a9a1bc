// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 流入制御パイプライン（分散レートリミット → JWT認証）と、パス書き換え
// リバースプロキシを担当する。外部からアクセス可能な唯一のサービスであり、
// セキュリティの境界線として機能する。認証済みリクエストには検証済み
// ユーザーIDヘッダーを注入して内部サービスに転送する。
package gateway
