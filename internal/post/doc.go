// Package post は投稿サービスの内部実装を提供する。
//
// 投稿の作成・取得・更新・削除を担当する。読み取りはRedisキャッシュを
// 経由し、すべての書き込みは応答を返す前に投稿系キャッシュを無効化する。
// 投稿の削除時にはpost-deletedイベントを発行し、参照していたメディアの
// 連鎖削除をメディアサービスに委ねる。
package post
