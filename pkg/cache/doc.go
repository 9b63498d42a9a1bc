// Package cache はリードスルーキャッシュの共有ストア抽象を提供する。
//
// 読み取りはキャッシュを先に参照し、ヒットした場合はバックエンドストアへの
// アクセスを省略する。書き込み成功時はリソースクラス単位でキーを一括削除
// （粗い無効化）してから呼び出し元に成功を返す。
package cache
