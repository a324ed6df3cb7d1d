package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: time.Hour, AlignToSlot: true}, zerolog.Nop())

	now := time.Date(2025, 3, 1, 10, 17, 42, 0, time.UTC)
	want := time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(want) {
		t.Fatalf("对齐后的下一个时间点错误: got %s want %s", got, want)
	}

	onBoundary := time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)
	if got := s.nextTick(onBoundary); !got.Equal(onBoundary.Add(time.Hour)) {
		t.Fatalf("边界时刻应跳到下一个槽位: got %s", got)
	}
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: 15 * time.Minute}, zerolog.Nop())

	now := time.Date(2025, 3, 1, 10, 17, 42, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("未对齐时应为 now+interval: got %s", got)
	}
	if got := s.slotStart(now); !got.Equal(now) {
		t.Fatalf("未对齐时槽位起点应为原时间: got %s", got)
	}
}

func TestSlotStart(t *testing.T) {
	s := New(Options{Interval: time.Hour, AlignToSlot: true}, zerolog.Nop())

	at := time.Date(2025, 3, 1, 10, 59, 59, 0, time.UTC)
	want := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	if got := s.slotStart(at); !got.Equal(want) {
		t.Fatalf("槽位起点错误: got %s want %s", got, want)
	}
}

func TestRunOnStartAndCancel(t *testing.T) {
	s := New(Options{Interval: time.Hour, RunOnStart: true}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		slots []time.Time
	)
	fired := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(_ context.Context, slot time.Time) error {
			mu.Lock()
			slots = append(slots, slot)
			mu.Unlock()
			fired <- struct{}{}
			return errors.New("boom")
		})
	}()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("启动时应立即执行一次")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("取消后应返回 context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("取消后调度器未退出")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(slots) != 1 {
		t.Fatalf("期望执行 1 次, 实际 %d 次", len(slots))
	}
}

func TestRunTicksRepeatedly(t *testing.T) {
	s := New(Options{Interval: 20 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan time.Time, 8)
	go s.Run(ctx, func(_ context.Context, slot time.Time) error {
		select {
		case fired <- slot:
		default:
		}
		return nil
	})

	var last time.Time
	for i := 0; i < 3; i++ {
		select {
		case slot := <-fired:
			if !slot.After(last) {
				t.Fatalf("槽位应单调递增: %s <= %s", slot, last)
			}
			last = slot
		case <-time.After(2 * time.Second):
			t.Fatalf("第 %d 次执行超时", i+1)
		}
	}
}

func TestStartupDelayHonoursCancel(t *testing.T) {
	s := New(Options{Interval: time.Hour, StartupDelay: time.Hour, RunOnStart: true}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx, func(context.Context, time.Time) error {
		t.Error("延迟期间不应执行")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled, got %v", err)
	}
}

func TestNewPanicsOnZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("interval 为 0 时应 panic")
		}
	}()
	New(Options{}, zerolog.Nop())
}
