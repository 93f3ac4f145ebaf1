// Package perf logs Discord event handlers that run longer than expected.
package perf

import (
	"sync"
	"time"

	"github.com/Tayen15/KZT-sub000/pkg/log"
	"github.com/Tayen15/KZT-sub000/pkg/util"
)

// EnvSlowHandlerMs sets the threshold in milliseconds. 0 disables tracking.
const EnvSlowHandlerMs = "STATUSBOT_SLOW_HANDLER_MS"

const defaultSlowHandlerMs = int64(500)

var (
	thresholdOnce sync.Once
	threshold     time.Duration
)

func slowThreshold() time.Duration {
	thresholdOnce.Do(func() {
		ms := util.EnvInt64(EnvSlowHandlerMs, defaultSlowHandlerMs)
		if ms > 0 {
			threshold = time.Duration(ms) * time.Millisecond
		}
	})
	return threshold
}

// Track starts timing a handler for event. Call the returned func when the
// handler returns; it logs a warning only if the handler was slow. args are
// extra key/value pairs for the log line.
func Track(event string, args ...any) func() {
	return track(slowThreshold(), time.Now, event, args...)
}

func track(limit time.Duration, now func() time.Time, event string, args ...any) func() {
	if limit <= 0 {
		return func() {}
	}
	if event == "" {
		event = "unknown"
	}
	start := now()
	return func() {
		elapsed := now().Sub(start)
		if elapsed < limit {
			return
		}
		kv := append([]any{"event", event, "duration_ms", elapsed.Milliseconds()}, args...)
		log.DiscordLogger().Warn("Slow Discord event handler", kv...)
	}
}
