package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestPostJSON はJSON POSTリクエストの送受信を検証する。
func TestPostJSON(t *testing.T) {
	t.Parallel()

	t.Run("正常系_リクエストボディが送信されレスポンスがデシリアライズされること", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("メソッド = %s, want POST", r.Method)
			}
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want %q", ct, "application/json")
			}

			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("リクエストボディのデシリアライズに失敗: %v", err)
			}
			if body["name"] != "test" {
				t.Errorf("name = %q, want %q", body["name"], "test")
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"id": "obj-1"})
		}))
		t.Cleanup(server.Close)

		c := New(server.URL)
		var result map[string]string
		if err := c.PostJSON(context.Background(), "/objects", map[string]string{"name": "test"}, &result); err != nil {
			t.Fatalf("PostJSON()でエラーが発生: %v", err)
		}
		if result["id"] != "obj-1" {
			t.Errorf("id = %q, want %q", result["id"], "obj-1")
		}
	})

	t.Run("異常系_エラーステータスはエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		t.Cleanup(server.Close)

		c := New(server.URL)
		if err := c.PostJSON(context.Background(), "/objects", nil, nil); err == nil {
			t.Error("エラーステータスでPostJSON()がエラーを返さなかった")
		}
	})
}

// TestDelete はDELETEリクエストの挙動を検証する。
func TestDelete(t *testing.T) {
	t.Parallel()

	t.Run("正常系_2xxはnilを返すこと", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodDelete {
				t.Errorf("メソッド = %s, want DELETE", r.Method)
			}
			w.WriteHeader(http.StatusNoContent)
		}))
		t.Cleanup(server.Close)

		c := New(server.URL)
		if err := c.Delete(context.Background(), "/objects/obj-1"); err != nil {
			t.Errorf("Delete()でエラーが発生: %v", err)
		}
	})

	t.Run("正常系_404はErrNotFoundを返すこと", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		t.Cleanup(server.Close)

		c := New(server.URL)
		if err := c.Delete(context.Background(), "/objects/missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Delete() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("異常系_5xxはエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		t.Cleanup(server.Close)

		c := New(server.URL)
		err := c.Delete(context.Background(), "/objects/obj-2")
		if err == nil {
			t.Error("5xxでDelete()がエラーを返さなかった")
		}
		if errors.Is(err, ErrNotFound) {
			t.Error("5xxがErrNotFoundとして返された")
		}
	})
}
