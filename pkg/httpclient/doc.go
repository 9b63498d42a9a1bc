// Package httpclient はサービス間通信およびリモートオブジェクトストレージ
// 呼び出し用のHTTPクライアントを提供する。
package httpclient
