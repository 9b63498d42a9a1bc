// Package event はサービス間で交換されるドメインイベントの型定義と
// シリアライズ処理を提供する。
//
// イベントはEvent Exchange（トピックエクスチェンジ）経由でat-least-once
// 配信される。コンシューマーは重複配信と順序入れ替わりを前提に、
// 冪等に処理を実装すること。
package event

// Type はイベントの種類を表す。ルーティングキーとしてそのまま使用する。
type Type string

const (
	// TypePostDeleted は投稿が削除されたことを表す。
	// 投稿が参照していたメディアの連鎖削除をトリガーする。
	TypePostDeleted Type = "post-deleted"
)

// PostDeletedData はPostDeletedイベントのペイロード。
type PostDeletedData struct {
	// PostID は削除された投稿のID。
	PostID string `json:"post_id"`
	// UserID は投稿の所有者のID。
	UserID string `json:"user_id"`
	// MediaIDs は投稿が参照していたメディアのIDリスト。
	// メディアサービスが各IDのリモートオブジェクトとローカルレコードを削除する。
	MediaIDs []string `json:"media_ids"`
}
