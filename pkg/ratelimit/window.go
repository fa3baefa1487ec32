package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const (
	// DefaultLimit はウィンドウあたりの既定の許可数。
	DefaultLimit = 60
	// DefaultWindow は既定のウィンドウ幅。
	DefaultWindow = time.Minute
	// DefaultShards は既定のシャード数。
	DefaultShards = 32
	// DefaultSweepInterval は空になったウィンドウを掃除する既定の間隔。
	DefaultSweepInterval = 5 * time.Minute
)

// Decision はAllowの判定結果。
type Decision struct {
	// Allowed はリクエストを受け付けたかどうか。
	Allowed bool
	// Remaining は現在のウィンドウで残っている許可数。
	Remaining int
	// RetryAfter は拒否した場合に、次に受け付け可能になるまでの時間。
	RetryAfter time.Duration
}

// window はクライアントキーごとの受付時刻の列。古い順に並ぶ。
type window struct {
	timestamps []time.Time
}

// prune はcutoff以前の時刻を取り除く。
func (w *window) prune(cutoff time.Time) {
	i := 0
	for ; i < len(w.timestamps); i++ {
		if w.timestamps[i].After(cutoff) {
			break
		}
	}
	if i == 0 {
		return
	}
	// 先頭を詰めて背後の配列が伸び続けないようにする
	n := copy(w.timestamps, w.timestamps[i:])
	w.timestamps = w.timestamps[:n]
}

// shard はキーのハッシュで振り分けられるウィンドウ表の一部。
type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// SlidingWindow はクライアントキーごとのスライディングウィンドウ方式のレート制限。
// 状態はプロセス内のメモリにのみ保持し、複数インスタンス間では共有しない。
type SlidingWindow struct {
	limit         int
	window        time.Duration
	now           func() time.Time
	sweepInterval time.Duration
	shards        []*shard
}

// Option はSlidingWindowの生成オプション。
type Option func(*SlidingWindow)

// WithClock は判定に使う時刻関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *SlidingWindow) {
		s.now = now
	}
}

// WithShards はシャード数を設定する。1未満の場合は1になる。
func WithShards(n int) Option {
	return func(s *SlidingWindow) {
		if n < 1 {
			n = 1
		}
		s.shards = make([]*shard, n)
	}
}

// WithSweepInterval はStartで掃除を行う間隔を設定する。
func WithSweepInterval(d time.Duration) Option {
	return func(s *SlidingWindow) {
		s.sweepInterval = d
	}
}

// New はSlidingWindowを生成する。
// limitやwindowが0以下の場合は既定値を使う。
func New(limit int, windowSize time.Duration, opts ...Option) *SlidingWindow {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if windowSize <= 0 {
		windowSize = DefaultWindow
	}
	s := &SlidingWindow{
		limit:         limit,
		window:        windowSize,
		now:           time.Now,
		sweepInterval: DefaultSweepInterval,
		shards:        make([]*shard, DefaultShards),
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i] = &shard{windows: make(map[string]*window)}
	}
	return s
}

// Window はウィンドウ幅を返す。
func (s *SlidingWindow) Window() time.Duration {
	return s.window
}

// Allow はkeyのリクエストを受け付けるかどうかを判定する。
// 受け付けた場合のみ現在時刻を記録する。拒否したリクエストはウィンドウを消費しない。
//
// 同じキーへの判定はシャードのロックで直列化されるため、
// limitを超えて受け付けることはない。
func (s *SlidingWindow) Allow(key string) Decision {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.now()
	w, ok := sh.windows[key]
	if !ok {
		w = &window{}
		sh.windows[key] = w
	}
	w.prune(now.Add(-s.window))

	if len(w.timestamps) >= s.limit {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: w.timestamps[0].Add(s.window).Sub(now),
		}
	}

	w.timestamps = append(w.timestamps, now)
	return Decision{
		Allowed:   true,
		Remaining: s.limit - len(w.timestamps),
	}
}

// Sweep はウィンドウ内に時刻が残っていないキーを削除し、削除した件数を返す。
func (s *SlidingWindow) Sweep() int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		cutoff := s.now().Add(-s.window)
		for key, w := range sh.windows {
			w.prune(cutoff)
			if len(w.timestamps) == 0 {
				delete(sh.windows, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Start はctxが終了するまで一定間隔でSweepを実行する。
// 呼び出し側でゴルーチンとして起動する。
func (s *SlidingWindow) Start(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Len は現在保持しているキーの数を返す。
// テストおよびメトリクス用。
func (s *SlidingWindow) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.windows)
		sh.mu.Unlock()
	}
	return n
}

// shardFor はkeyのFNV-1aハッシュでシャードを選ぶ。
func (s *SlidingWindow) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}
