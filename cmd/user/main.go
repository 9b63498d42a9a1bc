// ユーザーサービスのエントリポイント。
// ユーザー登録・ログイン・トークン更新・ログアウトを担当する。
// アクセストークン（JWT）とリフレッシュトークンの発行元となるサービス。
package main

import (
	"log"
	"os"

	"github.com/nao1215/snshub/internal/user"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	server, err := user.NewServer(port)
	if err != nil {
		log.Fatalf("ユーザーサーバーの初期化に失敗: %v", err)
	}

	log.Printf("ユーザーサービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("ユーザーサービスの起動に失敗: %v", err)
	}
}
