package media

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/nao1215/snshub/pkg/event"
	"github.com/nao1215/snshub/pkg/httpclient"
)

// HandlePostDeleted はpost-deletedイベントを処理する。
// 削除された投稿が参照していた各メディアについて、リモートオブジェクトと
// ローカルレコードを削除する。
//
// エラーを返すとメッセージはNACK（再キュー）され、後で再配送される。
// at-least-once配信のため同じイベントが複数回届くことがあるが、
// レコードが存在しないメディアのスキップとオブジェクトストアの404の
// 成功扱いにより、再処理は冪等になる。
func (s *Server) HandlePostDeleted(ctx context.Context, body []byte) error {
	data, err := event.Decode[event.PostDeletedData](body)
	if err != nil {
		// デシリアライズ不能なメッセージは再配送しても成功しない。
		// ログに残してACKさせ、キューの詰まりを防ぐ。
		log.Printf("post-deletedイベントのデシリアライズに失敗（破棄）: %v", err)
		return nil
	}

	log.Printf("post-deletedイベントを受信: postID=%s, mediaIDs=%v", data.PostID, data.MediaIDs)

	for _, mediaID := range data.MediaIDs {
		if err := s.deleteMedia(ctx, mediaID); err != nil {
			return fmt.Errorf("メディア %s の連鎖削除に失敗: %w", mediaID, err)
		}
	}
	return nil
}

// deleteMedia はメディア1件のリモートオブジェクトとローカルレコードを削除する。
// レコードが存在しない場合は処理済みとみなしてスキップする。
func (s *Server) deleteMedia(ctx context.Context, mediaID string) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM media WHERE id = ?", mediaID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("メディアレコードの確認に失敗: %w", err)
	}
	if exists == 0 {
		// 再配送による重複処理。すでに削除済み。
		return nil
	}

	// リモートオブジェクトを先に削除する。404は前回の処理が途中まで
	// 進んでいた場合に起こり得るため成功として扱う。
	if err := s.objects.Delete(ctx, mediaID); err != nil && !errors.Is(err, httpclient.ErrNotFound) {
		return fmt.Errorf("リモートオブジェクトの削除に失敗: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM media WHERE id = ?", mediaID); err != nil {
		return fmt.Errorf("メディアレコードの削除に失敗: %w", err)
	}
	return nil
}
