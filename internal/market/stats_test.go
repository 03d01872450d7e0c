package market

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testStats(t *testing.T) *RedisStats {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStats(client)
}

func TestWindowEmptyWithoutTrades(t *testing.T) {
	stats := testStats(t)

	window, err := stats.Window(context.Background(), "iron_ore")
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if window.High != 0 || window.Low != 0 || window.Volume != 0 {
		t.Fatalf("expected empty window, got %+v", window)
	}
}

func TestRecordTradeUpdatesHighLowVolume(t *testing.T) {
	stats := testStats(t)
	ctx := context.Background()

	trades := []struct {
		rate   float64
		volume int64
	}{
		{rate: 100, volume: 3},
		{rate: 117.5, volume: 2},
		{rate: 92, volume: 5},
		{rate: 110, volume: 1},
	}
	for _, trade := range trades {
		if err := stats.RecordTrade(ctx, "iron_ore", trade.rate, trade.volume); err != nil {
			t.Fatalf("record trade: %v", err)
		}
	}

	window, err := stats.Window(ctx, "iron_ore")
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if window.High != 117.5 {
		t.Fatalf("expected high 117.5, got %v", window.High)
	}
	if window.Low != 92 {
		t.Fatalf("expected low 92, got %v", window.Low)
	}
	if window.Volume != 11 {
		t.Fatalf("expected volume 11, got %d", window.Volume)
	}
}

func TestRecordTradeIsolatesResources(t *testing.T) {
	stats := testStats(t)
	ctx := context.Background()

	if err := stats.RecordTrade(ctx, "iron_ore", 100, 4); err != nil {
		t.Fatalf("record trade: %v", err)
	}
	if err := stats.RecordTrade(ctx, "leather", 45, 9); err != nil {
		t.Fatalf("record trade: %v", err)
	}

	window, err := stats.Window(ctx, "leather")
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if window.High != 45 || window.Volume != 9 {
		t.Fatalf("unexpected leather window: %+v", window)
	}
}

func TestRecordTradeConcurrentVolume(t *testing.T) {
	stats := testStats(t)
	ctx := context.Background()

	const workers = 8
	const tradesPerWorker = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < tradesPerWorker; j++ {
				if err := stats.RecordTrade(ctx, "iron_ore", 100, 2); err != nil {
					t.Errorf("record trade: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	window, err := stats.Window(ctx, "iron_ore")
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if want := int64(workers * tradesPerWorker * 2); window.Volume != want {
		t.Fatalf("expected volume %d, got %d", want, window.Volume)
	}
}

func TestResetWindow(t *testing.T) {
	stats := testStats(t)
	ctx := context.Background()

	if err := stats.RecordTrade(ctx, "iron_ore", 120, 6); err != nil {
		t.Fatalf("record trade: %v", err)
	}
	if err := stats.ResetWindow(ctx, "iron_ore"); err != nil {
		t.Fatalf("reset window: %v", err)
	}

	window, err := stats.Window(ctx, "iron_ore")
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if window.High != 0 || window.Low != 0 || window.Volume != 0 {
		t.Fatalf("expected cleared window, got %+v", window)
	}
}
