package post

import (
	"database/sql"
	"fmt"
)

// スキーマ定義。
const schema = `
CREATE TABLE IF NOT EXISTS posts (
    -- 投稿の一意識別子
    id TEXT PRIMARY KEY,
    -- 投稿者のユーザーID
    user_id TEXT NOT NULL,
    -- 投稿本文
    content TEXT NOT NULL,
    -- 参照するメディアIDのJSON配列
    media_ids TEXT NOT NULL DEFAULT '[]',
    -- 作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

-- ユーザーごとの投稿一覧取得を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_posts_user_id ON posts(user_id);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
