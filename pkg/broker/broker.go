package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// handlerTimeout はイベントハンドラー1回あたりの処理時間の上限。
const handlerTimeout = 30 * time.Second

// Handler はイベントメッセージを処理する関数。
// nilを返した場合のみメッセージがACKされる。エラーを返した場合は
// NACK（再キュー）され、ブローカーが再配送する。
type Handler func(ctx context.Context, body []byte) error

// Client はEvent Exchangeへの接続を保持するクライアント。
// 1プロセスにつき1つ生成し、発行・購読で同一のチャネルを共有する。
type Client struct {
	mu       sync.Mutex
	url      string
	exchange string
	conn     *amqp.Connection
	ch       *amqp.Channel
}

// New は新しいEvent Exchangeクライアントを生成する。
// この時点では接続しない。起動時に接続を確認したい場合はConnectを呼ぶこと。
func New(url, exchange string) *Client {
	return &Client{url: url, exchange: exchange}
}

// Connect はブローカーへの接続とチャネルの確立、エクスチェンジの宣言を行う。
// すでに接続済みの場合は何もしない。
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.channelLocked()
	return err
}

// channelLocked は共有チャネルを返す。未接続の場合は接続を確立する。
// 呼び出し側はc.muを保持していること。
func (c *Client) channelLocked() (*amqp.Channel, error) {
	if c.ch != nil && !c.ch.IsClosed() {
		return c.ch, nil
	}

	if c.conn == nil || c.conn.IsClosed() {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			return nil, fmt.Errorf("ブローカーへの接続に失敗: %w", err)
		}
		c.conn = conn
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("チャネルの作成に失敗: %w", err)
	}

	// 永続トピックエクスチェンジ。存在しなければ作成する。
	if err := ch.ExchangeDeclare(c.exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("エクスチェンジの宣言に失敗: %w", err)
	}

	c.ch = ch
	return ch, nil
}

// resetLocked は閉じたチャネルを破棄して次回の再接続を促す。
func (c *Client) resetLocked() {
	if c.ch != nil {
		_ = c.ch.Close()
		c.ch = nil
	}
}

// Publish はペイロードをJSON形式にシリアライズし、ルーティングキーを付けて
// エクスチェンジに永続メッセージとして発行する。
// チャネルが切断されていた場合は再接続してから1回リトライする。
// それでも失敗した場合はエラーを呼び出し元に返す。
func (c *Client) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("イベントペイロードのシリアライズに失敗: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		ch, err := c.channelLocked()
		if err != nil {
			return err
		}

		err = ch.PublishWithContext(ctx, c.exchange, routingKey, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.New().String(),
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
		if err == nil {
			return nil
		}

		// チャネル切断の可能性があるため、再接続して1回だけやり直す。
		c.resetLocked()
		if attempt == 1 {
			return fmt.Errorf("イベントの発行に失敗: %w", err)
		}
	}
	return nil
}

// Subscribe はルーティングキーに排他キューをバインドし、受信メッセージごとに
// ハンドラーを呼び出す。ハンドラーがnilを返した場合のみACKし、エラーを
// 返した場合はNACK（再キュー）してブローカーに再配送させる。
func (c *Client) Subscribe(routingKey string, handler Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.channelLocked()
	if err != nil {
		return err
	}

	// コンシューマー専用の排他キュー。接続が切れると自動削除される。
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("キューの宣言に失敗: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, c.exchange, false, nil); err != nil {
		return fmt.Errorf("キューのバインドに失敗: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("メッセージ消費の開始に失敗: %w", err)
	}

	go func() {
		for d := range deliveries {
			dispatch(routingKey, handler, &d)
		}
		log.Printf("ルーティングキー %q の配信チャネルが閉じられました", routingKey)
	}()

	return nil
}

// dispatch は1件のメッセージをハンドラーに渡し、結果に応じてACK/NACKする。
// ハンドラーの失敗時はNACK（再キュー）し、ACKしない。ACKしてしまうと
// at-least-once配信が成立せず、処理途中のメッセージが失われる。
func dispatch(routingKey string, handler Handler, d *amqp.Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := handler(ctx, d.Body); err != nil {
		log.Printf("イベント処理に失敗（再配送させる）: routingKey=%s, error=%v", routingKey, err)
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.Printf("NACKに失敗: %v", nackErr)
		}
		return
	}

	if err := d.Ack(false); err != nil {
		log.Printf("ACKに失敗: %v", err)
	}
}

// Close はチャネルと接続を閉じる。プロセス終了時に呼ぶこと。
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch != nil {
		if err := c.ch.Close(); err != nil && !c.ch.IsClosed() {
			return fmt.Errorf("チャネルのクローズに失敗: %w", err)
		}
		c.ch = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !c.conn.IsClosed() {
			return fmt.Errorf("接続のクローズに失敗: %w", err)
		}
		c.conn = nil
	}
	return nil
}
