package queue

import (
	"context"

	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/docforge/internal/logging"
)

const wakeChannel = "docforge:jobs:wake"

// Notifier はジョブ投入時にRedisのPub/Subでワーカーを起こします。
// あくまでポーリング間隔を縮める補助であり、獲得の調停は常に
// データベース側で行われます。通知の欠落は次のポーリングで吸収されます。
type Notifier struct {
	rdb *redis.Client
	log *logging.Logger
}

// NewNotifier は Notifier を初期化します。
func NewNotifier(redisURL string, log *logging.Logger) (*Notifier, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Notifier{
		rdb: redis.NewClient(opt),
		log: log.With("component", "queue-notifier"),
	}, nil
}

// Wake は起床通知を発行します。失敗してもジョブ投入は成立しているため、
// ログだけ残して握りつぶします。
func (n *Notifier) Wake(ctx context.Context) {
	if err := n.rdb.Publish(ctx, wakeChannel, "1").Err(); err != nil {
		n.log.Warn("failed to publish wake signal", "error", err)
	}
}

// Listen は起床通知を受け取るチャンネルを返します。
// ctx のキャンセルで購読を終了します。
func (n *Notifier) Listen(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	sub := n.rdb.Subscribe(ctx, wakeChannel)

	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}

// Close は接続を閉じます。
func (n *Notifier) Close() error {
	return n.rdb.Close()
}
