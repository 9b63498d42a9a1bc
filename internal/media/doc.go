// Package media はメディアサービスの内部実装を提供する。
//
// メディアのアップロードと一覧取得を担当する。ファイル本体は外部の
// オブジェクトストアに保存し、SQLiteにはメタデータのみを保持する。
// post-deletedイベントを購読し、削除された投稿が参照していたメディアの
// リモートオブジェクトとローカルレコードを連鎖削除する。
package media
