// lockout.go — временная блокировка client_id после серии неудачных попыток.
// Счётчики хранятся в памяти процесса, в ограниченных LRU с TTL
// (hashicorp/golang-lru/v2/expirable). Каждый экземпляр сервиса считает сам.
// Несуществующие client_id учитываются в отдельном LRU: перебор случайных
// идентификаторов не вытесняет счётчики настоящих SA.
package service

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var lockoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "au_lockouts_total",
	Help: "Количество блокировок client_id после неудачных попыток.",
})

// LockoutConfig — параметры блокировки.
type LockoutConfig struct {
	// Threshold — число подряд неудачных попыток до блокировки (0 — выключено)
	Threshold int
	// BaseDelay — длительность первой блокировки
	BaseDelay time.Duration
	// MaxDelay — предел длительности блокировки и TTL записи счётчика
	MaxDelay time.Duration
	// CacheSize — максимум отслеживаемых client_id (отдельно для известных и неизвестных)
	CacheSize int
}

// lockoutEntry — состояние одного client_id.
type lockoutEntry struct {
	failures    int
	lockedUntil time.Time
}

// LockoutTracker считает неудачные попытки и блокирует client_id
// с экспоненциально растущей задержкой: BaseDelay·2^(failures−Threshold),
// но не более MaxDelay.
type LockoutTracker struct {
	cfg     LockoutConfig
	mu      sync.Mutex
	entries *expirable.LRU[string, lockoutEntry]
	unknown *expirable.LRU[string, lockoutEntry]
	now     func() time.Time
}

// NewLockoutTracker создаёт трекер блокировок.
func NewLockoutTracker(cfg LockoutConfig) *LockoutTracker {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 15 * time.Minute
	}
	return &LockoutTracker{
		cfg:     cfg,
		entries: expirable.NewLRU[string, lockoutEntry](cfg.CacheSize, nil, cfg.MaxDelay),
		unknown: expirable.NewLRU[string, lockoutEntry](cfg.CacheSize, nil, cfg.MaxDelay),
		now:     time.Now,
	}
}

// Enabled сообщает, включена ли блокировка.
func (l *LockoutTracker) Enabled() bool {
	return l != nil && l.cfg.Threshold > 0
}

// Check возвращает оставшееся время блокировки client_id.
// Второе значение — true, если client_id сейчас заблокирован.
func (l *LockoutTracker) Check(clientID string) (time.Duration, bool) {
	if !l.Enabled() {
		return 0, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, cache := range []*expirable.LRU[string, lockoutEntry]{l.entries, l.unknown} {
		e, ok := cache.Peek(clientID)
		if !ok {
			continue
		}
		if remaining := e.lockedUntil.Sub(l.now()); remaining > 0 {
			return remaining, true
		}
	}
	return 0, false
}

// RecordFailure учитывает неудачную попытку для существующего client_id.
// Возвращает длительность блокировки, если после этой попытки client_id заблокирован.
func (l *LockoutTracker) RecordFailure(clientID string) time.Duration {
	return l.record(l.entries, clientID)
}

// RecordUnknownFailure учитывает попытку с несуществующим client_id.
func (l *LockoutTracker) RecordUnknownFailure(clientID string) time.Duration {
	return l.record(l.unknown, clientID)
}

func (l *LockoutTracker) record(cache *expirable.LRU[string, lockoutEntry], clientID string) time.Duration {
	if !l.Enabled() {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e, _ := cache.Peek(clientID)
	e.failures++

	var delay time.Duration
	if e.failures >= l.cfg.Threshold {
		delay = l.delay(e.failures - l.cfg.Threshold)
		e.lockedUntil = l.now().Add(delay)
		lockoutsTotal.Inc()
	}
	cache.Add(clientID, e)
	return delay
}

// Reset сбрасывает счётчик после успешной аутентификации.
func (l *LockoutTracker) Reset(clientID string) {
	if !l.Enabled() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries.Remove(clientID)
	l.unknown.Remove(clientID)
}

// delay вычисляет длительность блокировки для n-й попытки сверх порога.
func (l *LockoutTracker) delay(n int) time.Duration {
	d := l.cfg.BaseDelay
	for i := 0; i < n && d < l.cfg.MaxDelay; i++ {
		d *= 2
	}
	return min(d, l.cfg.MaxDelay)
}
