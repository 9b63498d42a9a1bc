// Package ratelimit は固定ウィンドウ方式の分散レートリミッターを提供する。
//
// カウンターは共有ストア（Redis）に保持され、複数のgatewayインスタンス間で
// 同一のクォータを強制する。インクリメントと有効期限設定は単一のアトミック
// 操作として実行されるため、同一キーへの並行リクエスト間で競合しない。
package ratelimit
