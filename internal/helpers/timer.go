package helpers

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Records nested phase timings. A nil timer is valid and records nothing, so
// callers only allocate one when tracing is enabled.
type Timer struct {
	data  []timerData
	mutex sync.Mutex
}

type timerData struct {
	time  time.Time
	name  string
	isEnd bool
}

func NewTimerIfTracing(l *zap.Logger) *Timer {
	if l.Core().Enabled(zap.DebugLevel) {
		return &Timer{}
	}
	return nil
}

func (t *Timer) Begin(name string) {
	if t != nil {
		t.data = append(t.data, timerData{
			name: name,
			time: time.Now(),
		})
	}
}

func (t *Timer) End(name string) {
	if t != nil {
		t.data = append(t.data, timerData{
			name:  name,
			time:  time.Now(),
			isEnd: true,
		})
	}
}

func (t *Timer) Fork() *Timer {
	if t != nil {
		return &Timer{}
	}
	return nil
}

func (t *Timer) Join(other *Timer) {
	if t != nil && other != nil {
		t.mutex.Lock()
		defer t.mutex.Unlock()
		t.data = append(t.data, other.data...)
	}
}

// Emits one debug entry per completed phase. Times may not nest
// hierarchically because forked timers run in parallel.
func (t *Timer) Log(l *zap.Logger) {
	if t == nil {
		return
	}

	type pair struct {
		timerData
		depth int
	}
	var stack []pair

	for _, item := range t.data {
		if !item.isEnd {
			stack = append(stack, pair{timerData: item, depth: len(stack)})
			continue
		}
		last := len(stack) - 1
		top := stack[last]
		stack = stack[:last]
		if item.name != top.name {
			panic("Internal error")
		}
		l.Debug(strings.Repeat("  ", top.depth)+top.name,
			zap.Duration("elapsed", item.time.Sub(top.time)))
	}
}
