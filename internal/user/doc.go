// Package user はユーザーサービス（identity）の内部実装を提供する。
//
// ユーザー登録・ログイン・トークン更新・ログアウトを担当する。
// アクセストークンは短命のJWT、リフレッシュトークンは長命の不透明な
// 文字列としてSQLiteに永続化する。
package user
