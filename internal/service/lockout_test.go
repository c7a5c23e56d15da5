package service

import (
	"strconv"
	"testing"
	"time"
)

// fakeClock — управляемые часы для тестов.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLockout(threshold int) (*LockoutTracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewLockoutTracker(LockoutConfig{
		Threshold: threshold,
		BaseDelay: time.Second,
		MaxDelay:  10 * time.Second,
		CacheSize: 100,
	})
	l.now = clock.Now
	return l, clock
}

func TestLockout_ThresholdAndBackoff(t *testing.T) {
	l, clock := newTestLockout(3)

	// До порога блокировки нет
	for i := 1; i < 3; i++ {
		if d := l.RecordFailure("c1"); d != 0 {
			t.Fatalf("попытка %d: блокировка %v, ожидается 0", i, d)
		}
		if _, locked := l.Check("c1"); locked {
			t.Fatalf("попытка %d: client_id заблокирован до порога", i)
		}
	}

	// Порог: 1s, затем 2s, 4s, 8s и предел 10s
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		d := l.RecordFailure("c1")
		if d != w {
			t.Errorf("блокировка %d = %v, ожидается %v", i, d, w)
		}
		remaining, locked := l.Check("c1")
		if !locked || remaining != w {
			t.Errorf("Check() = (%v, %v), ожидается (%v, true)", remaining, locked, w)
		}
	}

	// По истечении блокировки client_id снова доступен, но счётчик сохранён
	clock.Advance(11 * time.Second)
	if _, locked := l.Check("c1"); locked {
		t.Error("client_id заблокирован после истечения блокировки")
	}
}

func TestLockout_ResetOnSuccess(t *testing.T) {
	l, _ := newTestLockout(2)

	l.RecordFailure("c1")
	l.RecordFailure("c1")
	if _, locked := l.Check("c1"); !locked {
		t.Fatal("client_id не заблокирован после порога")
	}

	l.Reset("c1")
	if _, locked := l.Check("c1"); locked {
		t.Error("client_id заблокирован после Reset")
	}
	if d := l.RecordFailure("c1"); d != 0 {
		t.Errorf("первая попытка после Reset: блокировка %v, ожидается 0", d)
	}
}

// Счётчики разных client_id независимы.
func TestLockout_PerClient(t *testing.T) {
	l, _ := newTestLockout(1)

	l.RecordFailure("c1")
	if _, locked := l.Check("c1"); !locked {
		t.Error("c1 не заблокирован")
	}
	if _, locked := l.Check("c2"); locked {
		t.Error("c2 заблокирован из-за попыток c1")
	}
}

func TestLockout_UnknownClientsDoNotEvictKnown(t *testing.T) {
	l, _ := newTestLockout(3)

	l.RecordFailure("c1")
	l.RecordFailure("c1")

	// Перебор случайных client_id сверх размера кэша
	for i := range 1000 {
		l.RecordUnknownFailure("ghost-" + strconv.Itoa(i))
	}

	if d := l.RecordFailure("c1"); d != time.Second {
		t.Errorf("третья попытка c1: блокировка %v, ожидается 1s (счётчик вытеснен)", d)
	}
	if _, locked := l.Check("c1"); !locked {
		t.Error("c1 не заблокирован")
	}
}

func TestLockout_UnknownClientLocked(t *testing.T) {
	l, clock := newTestLockout(2)

	l.RecordUnknownFailure("ghost")
	if d := l.RecordUnknownFailure("ghost"); d != time.Second {
		t.Fatalf("блокировка %v, ожидается 1s", d)
	}
	if _, locked := l.Check("ghost"); !locked {
		t.Error("неизвестный client_id не заблокирован")
	}

	clock.Advance(2 * time.Second)
	l.Reset("ghost")
	if _, locked := l.Check("ghost"); locked {
		t.Error("блокировка не снята после Reset")
	}
}

func TestLockout_Disabled(t *testing.T) {
	l, _ := newTestLockout(0)
	for range 100 {
		if d := l.RecordFailure("c1"); d != 0 {
			t.Fatalf("блокировка %v при выключенном трекере", d)
		}
	}
	if _, locked := l.Check("c1"); locked {
		t.Error("client_id заблокирован при выключенном трекере")
	}

	var nilTracker *LockoutTracker
	if nilTracker.Enabled() {
		t.Error("nil-трекер включён")
	}
	if _, locked := nilTracker.Check("c1"); locked {
		t.Error("nil-трекер блокирует")
	}
}
