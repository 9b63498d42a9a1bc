package media

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/nao1215/snshub/pkg/httpclient"
)

// ObjectStore はファイル本体の保存先を抽象化する。
// 本番環境ではHTTPベースのオブジェクトストア、テストではフェイクを使用する。
type ObjectStore interface {
	// Upload はオブジェクトを保存する。
	Upload(ctx context.Context, id string, contentType string, data []byte) error
	// Delete はオブジェクトを削除する。オブジェクトが存在しない場合は
	// httpclient.ErrNotFoundを返す。呼び出し側はこれを成功として扱える。
	Delete(ctx context.Context, id string) error
}

// ObjectStoreClient はHTTP APIを持つオブジェクトストアへのクライアント。
type ObjectStoreClient struct {
	// client はサービス間通信用HTTPクライアント。
	client *httpclient.Client
}

// NewObjectStoreClient は新しいオブジェクトストアクライアントを生成する。
func NewObjectStoreClient(baseURL string) *ObjectStoreClient {
	return &ObjectStoreClient{client: httpclient.New(baseURL)}
}

// uploadObjectRequest はオブジェクト保存リクエストのJSON構造。
type uploadObjectRequest struct {
	// ID はオブジェクトの識別子。
	ID string `json:"id"`
	// ContentType はオブジェクトのMIMEタイプ。
	ContentType string `json:"content_type"`
	// Data はBase64エンコードされたオブジェクト本体。
	Data string `json:"data"`
}

// Upload はオブジェクト本体をBase64エンコードして保存する。
func (c *ObjectStoreClient) Upload(ctx context.Context, id string, contentType string, data []byte) error {
	req := uploadObjectRequest{
		ID:          id,
		ContentType: contentType,
		Data:        base64.StdEncoding.EncodeToString(data),
	}
	if err := c.client.PostJSON(ctx, "/objects", req, nil); err != nil {
		return fmt.Errorf("オブジェクトの保存に失敗: %w", err)
	}
	return nil
}

// Delete はオブジェクトを削除する。
// 存在しないオブジェクトの削除はhttpclient.ErrNotFoundをそのまま返し、
// 呼び出し側が冪等に扱えるようにする。
func (c *ObjectStoreClient) Delete(ctx context.Context, id string) error {
	return c.client.Delete(ctx, "/objects/"+id)
}
