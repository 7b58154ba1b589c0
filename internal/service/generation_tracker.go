package service

import (
	"sync"
	"sync/atomic"
)

// GenerationTracker 对外暴露“是否正在生成回复”的状态。
// 它对进行中的生成计数，因此并发的多次发送也能得到正确的状态。
type GenerationTracker struct {
	active atomic.Int32
	// deliverMu 把计数变化与监听器通知串行化，监听器收到的最后一个值总是当前状态。
	deliverMu sync.Mutex

	mu        sync.Mutex
	nextID    int
	listeners map[int]func(bool)
}

func NewGenerationTracker() *GenerationTracker {
	return &GenerationTracker{listeners: make(map[int]func(bool))}
}

// Begin 标记一次生成开始，返回的 release 必须在所有退出路径上调用，重复调用无副作用。
// 监听器在 Begin/release 内同步调用，不能再调用 Begin。
func (t *GenerationTracker) Begin() (release func()) {
	t.transition(1)
	var once sync.Once
	return func() {
		once.Do(func() { t.transition(-1) })
	}
}

func (t *GenerationTracker) transition(delta int32) {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()
	switch n := t.active.Add(delta); {
	case delta > 0 && n == 1:
		t.notify(true)
	case delta < 0 && n == 0:
		t.notify(false)
	}
}

func (t *GenerationTracker) IsGenerating() bool {
	return t.active.Load() > 0
}

// Subscribe 注册一个状态变化监听器，返回取消注册的函数。
func (t *GenerationTracker) Subscribe(fn func(generating bool)) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

func (t *GenerationTracker) notify(generating bool) {
	t.mu.Lock()
	fns := make([]func(bool), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn(generating)
	}
}
