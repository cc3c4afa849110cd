// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-webauthn-rp.
//
// go-webauthn-rp is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package metrics

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewResourceCollector(t *testing.T) {
	ctx := context.Background()
	interval := 1 * time.Second

	collector := NewResourceCollector(ctx, interval)
	if collector == nil {
		t.Fatal("Expected collector to be created")
	}
	if collector.interval != interval {
		t.Errorf("Expected interval %v, got %v", interval, collector.interval)
	}
	if collector.started.IsZero() {
		t.Error("Expected started time to be set")
	}

	collector.Stop()
}

func TestResourceCollectorStart(t *testing.T) {
	Enable()

	Goroutines.Set(0)
	MemoryAllocBytes.Set(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := NewResourceCollector(ctx, 100*time.Millisecond)
	go collector.Start()

	// Wait for at least one collection cycle
	time.Sleep(150 * time.Millisecond)
	collector.Stop()

	if testutil.CollectAndCount(Goroutines) == 0 {
		t.Error("Expected goroutines metric to be collected")
	}
	if testutil.CollectAndCount(MemoryAllocBytes) == 0 {
		t.Error("Expected memory alloc metric to be collected")
	}
}

func TestResourceCollectorContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	collector := NewResourceCollector(ctx, 1*time.Second)

	done := make(chan bool)
	go func() {
		collector.Start()
		done <- true
	}()

	cancel()

	select {
	case <-done:
		// Success
	case <-time.After(2 * time.Second):
		t.Error("Collector did not stop after context cancellation")
	}
}

func TestResourceCollectorCollectMetrics(t *testing.T) {
	Enable()

	Goroutines.Set(0)
	MemoryAllocBytes.Set(0)
	MemorySysBytes.Set(0)
	GCPauseTotalSeconds.Set(0)
	ServerUptime.Set(0)

	ctx := context.Background()
	collector := NewResourceCollector(ctx, 1*time.Second)
	collector.collect()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	if memStats.Alloc == 0 {
		t.Error("Expected allocated memory > 0")
	}

	if testutil.CollectAndCount(Goroutines) == 0 {
		t.Error("Expected Goroutines to be collecting")
	}
	if testutil.CollectAndCount(MemoryAllocBytes) == 0 {
		t.Error("Expected MemoryAllocBytes to be collecting")
	}
	if testutil.CollectAndCount(MemorySysBytes) == 0 {
		t.Error("Expected MemorySysBytes to be collecting")
	}
	if testutil.CollectAndCount(GCPauseTotalSeconds) == 0 {
		t.Error("Expected GCPauseTotalSeconds to be collecting")
	}
	if testutil.CollectAndCount(ServerUptime) == 0 {
		t.Error("Expected ServerUptime to be collecting")
	}

	collector.Stop()
}

func TestCollectOnce(t *testing.T) {
	Enable()

	Goroutines.Set(0)
	MemoryAllocBytes.Set(0)

	CollectOnce()

	if testutil.CollectAndCount(Goroutines) == 0 {
		t.Error("Expected goroutines metric to be collected")
	}
	if testutil.CollectAndCount(MemoryAllocBytes) == 0 {
		t.Error("Expected memory alloc metric to be collected")
	}
}

func TestStartResourceCollector(t *testing.T) {
	Enable()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := StartResourceCollector(ctx, 100*time.Millisecond)
	if collector == nil {
		t.Fatal("Expected collector to be created")
	}

	time.Sleep(150 * time.Millisecond)
	cancel()
	time.Sleep(50 * time.Millisecond)
}
