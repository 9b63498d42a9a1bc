// Package broker はEvent Exchange（RabbitMQトピックエクスチェンジ）への
// 接続とイベントの発行・購読を提供する。
//
// Clientは明示的に生成して必要なサービスに注入する。接続は初回利用時に
// 遅延確立され、プロセス存続中は単一のチャネルを再利用する。切断状態での
// 発行・購読は再接続してからリトライし、黙って破棄することはない。
//
// 配信はat-least-once。ハンドラーがエラーを返したメッセージはACKせず
// ブローカーに再配送させるため、ハンドラーは冪等に実装すること。
package broker
