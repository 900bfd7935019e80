package camera

import (
	"log/slog"
	"sync"
)

// Broadcaster は値を複数の購読者に配信する。
// 購読者のチャンネルが満杯なら、その購読者は切り離される。
type Broadcaster[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]chan T
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster は新しいBroadcasterを作成する
func NewBroadcaster[T any](logger *slog.Logger) *Broadcaster[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster[T]{
		subscribers: make(map[string]chan T),
		logger:      logger,
	}
}

// Subscribe は購読者を追加して受信チャンネルを返す。
// クローズ済みならクローズ済みのチャンネルを返す。
func (b *Broadcaster[T]) Subscribe(id string, bufferSize int) <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan T)
		close(ch)
		return ch
	}

	if old, exists := b.subscribers[id]; exists {
		close(old)
	}
	if bufferSize < 1 {
		bufferSize = 1
	}
	ch := make(chan T, bufferSize)
	b.subscribers[id] = ch

	b.logger.Debug("購読者を追加しました", "id", id, "total", len(b.subscribers))
	return ch
}

// Unsubscribe は購読者を削除してチャンネルをクローズする
func (b *Broadcaster[T]) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, exists := b.subscribers[id]; exists {
		close(ch)
		delete(b.subscribers, id)
		b.logger.Debug("購読者を削除しました", "id", id, "remaining", len(b.subscribers))
	}
}

// Broadcast は現在の購読者全員に値を送る。ブロックしない。
func (b *Broadcaster[T]) Broadcast(v T) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}

	var dropped []string
	for id, ch := range b.subscribers {
		select {
		case ch <- v:
		default:
			dropped = append(dropped, id)
		}
	}
	b.mu.RUnlock()

	if len(dropped) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range dropped {
		if ch, exists := b.subscribers[id]; exists {
			close(ch)
			delete(b.subscribers, id)
			b.logger.Warn("チャンネルが満杯のため購読者を切り離しました", "id", id)
		}
	}
}

// Close は全購読者のチャンネルをクローズする
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = make(map[string]chan T)
}

// SubscriberCount は現在の購読者数を返す
func (b *Broadcaster[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
