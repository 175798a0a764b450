package queue

import (
	"math/rand"
	"time"
)

// BackoffFunc は試行回数に対するリトライ待機時間を返します。
type BackoffFunc func(attempt int) time.Duration

// NewBackoff は指数バックオフを生成します。待機時間は
// base * 2^(attempt-1) を cap で頭打ちにし、±20% のジッターを加えます。
// ジッターは試行回数から決定的に導出されるため、同じ試行回数に対して
// 常に同じ値を返します。
func NewBackoff(base, cap time.Duration) BackoffFunc {
	if base <= 0 {
		base = 30 * time.Second
	}
	if cap <= 0 {
		cap = 10 * time.Minute
	}
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}

		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= cap {
				d = cap
				break
			}
		}

		r := rand.New(rand.NewSource(int64(attempt)))
		factor := 0.8 + 0.4*r.Float64()
		jittered := time.Duration(float64(d) * factor)
		if jittered > cap {
			jittered = cap
		}
		return jittered
	}
}

// DefaultBackoff は 30秒起点・10分上限の既定バックオフです。
var DefaultBackoff = NewBackoff(30*time.Second, 10*time.Minute)
