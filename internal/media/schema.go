package media

import (
	"database/sql"
	"fmt"
)

// スキーマ定義。
const schema = `
CREATE TABLE IF NOT EXISTS media (
    -- メディアの一意識別子
    id TEXT PRIMARY KEY,
    -- アップロードしたユーザーのID
    user_id TEXT NOT NULL,
    -- 元のファイル名
    file_name TEXT NOT NULL,
    -- MIMEタイプ
    mime_type TEXT NOT NULL,
    -- ファイルサイズ（バイト）
    size INTEGER NOT NULL,
    -- 作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

-- ユーザーごとのメディア一覧取得を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_media_user_id ON media(user_id);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
