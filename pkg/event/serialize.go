package event

import (
	"encoding/json"
	"fmt"
)

// Marshal はイベントペイロードをJSON形式にシリアライズする。
func Marshal(data any) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}
	return body, nil
}

// Decode はJSON形式のイベントペイロードを指定された型にデシリアライズする。
func Decode[T any](body []byte) (*T, error) {
	var data T
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}
