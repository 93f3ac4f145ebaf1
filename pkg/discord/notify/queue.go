// Package notify announces monitor transitions to a Discord channel.
package notify

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/Tayen15/KZT-sub000/pkg/log"
)

// QueueConfig configures a Queue.
type QueueConfig struct {
	// MaxAttempts is how many times a failed delivery is tried.
	MaxAttempts int
	// InitialBackoff doubles per attempt up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// DedupeTTL is how long an idempotency key suppresses repeats.
	DedupeTTL time.Duration
	// GroupBuffer is the per-group channel size.
	GroupBuffer int
	// GroupIdleTTL after which an idle group worker exits.
	GroupIdleTTL time.Duration
	// CleanupInterval controls how often idle groups and expired keys are dropped.
	CleanupInterval time.Duration
}

// DefaultQueueConfig returns the production settings.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxAttempts:     3,
		InitialBackoff:  time.Second,
		MaxBackoff:      30 * time.Second,
		DedupeTTL:       10 * time.Minute,
		GroupBuffer:     64,
		GroupIdleTTL:    5 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// Errors returned by Enqueue.
var (
	ErrQueueClosed = errors.New("notification queue is closed")
	ErrDuplicate   = errors.New("duplicate notification")
	ErrQueueFull   = errors.New("notification queue is full")
)

// DeliverFunc sends one notice.
type DeliverFunc func(ctx context.Context, n Notice) error

// Queue delivers notices with per-group ordering, deduplication by key and
// retry with exponential backoff.
type Queue struct {
	cfg     QueueConfig
	deliver DeliverFunc

	mu     sync.Mutex
	groups map[string]*group
	seen   map[string]time.Time // idempotency key -> expiry
	closed bool

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once

	randMu sync.Mutex
	rnd    *rand.Rand
}

type group struct {
	key        string
	ch         chan *job
	lastActive time.Time
	stopping   bool
}

type job struct {
	notice  Notice
	attempt int
}

// NewQueue starts a queue that hands notices to deliver.
func NewQueue(cfg QueueConfig, deliver DeliverFunc) *Queue {
	def := DefaultQueueConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = def.DedupeTTL
	}
	if cfg.GroupBuffer <= 0 {
		cfg.GroupBuffer = def.GroupBuffer
	}
	if cfg.GroupIdleTTL <= 0 {
		cfg.GroupIdleTTL = def.GroupIdleTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}

	q := &Queue{
		cfg:     cfg,
		deliver: deliver,
		groups:  make(map[string]*group),
		seen:    make(map[string]time.Time),
		stopCh:  make(chan struct{}),
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	q.wg.Add(1)
	go q.cleanupLoop()
	return q
}

// Enqueue schedules n without blocking. Notices sharing a GroupKey are
// delivered in order. A notice whose IdempotencyKey was seen within DedupeTTL
// returns ErrDuplicate; a group with a full buffer returns ErrQueueFull.
func (q *Queue) Enqueue(ctx context.Context, n Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if n.IdempotencyKey != "" {
		if expiry, ok := q.seen[n.IdempotencyKey]; ok && time.Now().Before(expiry) {
			return ErrDuplicate
		}
	}

	// The send must not block: workers take q.mu to record activity.
	g := q.groupLocked(n.GroupKey)
	select {
	case g.ch <- &job{notice: n, attempt: 1}:
	default:
		return ErrQueueFull
	}
	if n.IdempotencyKey != "" {
		q.seen[n.IdempotencyKey] = time.Now().Add(q.cfg.DedupeTTL)
	}
	return nil
}

// Close stops the workers. Notices still buffered are dropped.
func (q *Queue) Close() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		for _, g := range q.groups {
			if !g.stopping {
				g.stopping = true
				close(g.ch)
			}
		}
		q.mu.Unlock()
		close(q.stopCh)
		q.wg.Wait()
	})
}

func (q *Queue) groupLocked(key string) *group {
	if key == "" {
		key = "_global"
	}
	if g, ok := q.groups[key]; ok {
		return g
	}
	g := &group{key: key, ch: make(chan *job, q.cfg.GroupBuffer), lastActive: time.Now()}
	q.groups[key] = g
	q.wg.Add(1)
	go q.work(g)
	return g
}

func (q *Queue) work(g *group) {
	defer q.wg.Done()

	for j := range g.ch {
		q.mu.Lock()
		g.lastActive = time.Now()
		q.mu.Unlock()

		if !q.run(g, j) {
			return
		}
	}
}

// run delivers j, retrying inline so later notices in the group stay behind
// it. It returns false when the queue is closing.
func (q *Queue) run(g *group, j *job) bool {
	for {
		err := q.deliver(context.Background(), j.notice)
		if err == nil {
			return true
		}
		if j.attempt >= q.cfg.MaxAttempts {
			log.ErrorLoggerRaw().Error("Notification dropped after retries",
				"monitor", j.notice.Target.MonitorKey,
				"group", g.key,
				"attempts", j.attempt,
				"err", err,
			)
			return true
		}

		delay := q.backoff(j.attempt)
		j.attempt++
		log.DiscordLogger().Warn("Notification failed, retrying",
			"monitor", j.notice.Target.MonitorKey,
			"attempt", j.attempt,
			"backoff", delay.String(),
			"err", err,
		)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-q.stopCh:
			timer.Stop()
			return false
		}
	}
}

// backoff is InitialBackoff * 2^(attempt-1) with 10% jitter, capped at MaxBackoff.
func (q *Queue) backoff(attempt int) time.Duration {
	d := q.cfg.InitialBackoff
	for i := 1; i < attempt && d < q.cfg.MaxBackoff; i++ {
		d *= 2
	}
	d = min(d, q.cfg.MaxBackoff)

	delta := int64(float64(d) * 0.1)
	if delta > 0 {
		q.randMu.Lock()
		d += time.Duration(q.rnd.Int63n(2*delta+1) - delta)
		q.randMu.Unlock()
	}
	return max(min(d, q.cfg.MaxBackoff), q.cfg.InitialBackoff)
}

func (q *Queue) cleanupLoop() {
	defer q.wg.Done()
	t := time.NewTicker(q.cfg.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-t.C:
			q.cleanup(time.Now())
		}
	}
}

func (q *Queue) cleanup(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for k, expiry := range q.seen {
		if now.After(expiry) {
			delete(q.seen, k)
		}
	}
	for key, g := range q.groups {
		if !g.stopping && len(g.ch) == 0 && now.Sub(g.lastActive) >= q.cfg.GroupIdleTTL {
			g.stopping = true
			close(g.ch)
			delete(q.groups, key)
		}
	}
}
