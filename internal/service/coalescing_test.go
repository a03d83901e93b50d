package service

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/city-weather-service/internal/models"
)

func TestRequestCoalescer_Do_ConcurrentRequests(t *testing.T) {
	coalescer := newRequestCoalescer()
	var calls atomic.Int32
	release := make(chan struct{})

	fn := func() models.WeatherSnapshot {
		calls.Add(1)
		<-release
		return models.WeatherSnapshot{Temperature: intPtr(21)}
	}

	var wg sync.WaitGroup
	var joinedCount atomic.Int32
	results := make([]models.WeatherSnapshot, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			snap, joined := coalescer.Do("hue", fn)
			if joined {
				joinedCount.Add(1)
			}
			results[idx] = snap
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("fn call count = %d, want 1 (coalescing failed)", n)
	}
	if n := joinedCount.Load(); n != 9 {
		t.Errorf("joined callers = %d, want 9", n)
	}
	for i, r := range results {
		if r.Temperature == nil || *r.Temperature != 21 {
			t.Errorf("result %d = %+v, want shared snapshot", i, r)
		}
	}
}

func TestRequestCoalescer_Do_DifferentKeys(t *testing.T) {
	coalescer := newRequestCoalescer()
	var calls atomic.Int32

	var wg sync.WaitGroup
	for _, key := range []string{"hue", "ha noi", "da nang"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			coalescer.Do(key, func() models.WeatherSnapshot {
				calls.Add(1)
				time.Sleep(10 * time.Millisecond)
				return models.WeatherSnapshot{}
			})
		}(key)
	}
	wg.Wait()

	if n := calls.Load(); n != 3 {
		t.Errorf("fn call count = %d, want 3", n)
	}
}

// TestRequestCoalescer_Do_Sequential verifies the in-flight marker is cleared
// after completion so a later call runs fn again.
func TestRequestCoalescer_Do_Sequential(t *testing.T) {
	coalescer := newRequestCoalescer()
	calls := 0
	fn := func() models.WeatherSnapshot {
		calls++
		return models.WeatherSnapshot{}
	}

	if _, joined := coalescer.Do("hue", fn); joined {
		t.Error("first call reported joined")
	}
	if _, joined := coalescer.Do("hue", fn); joined {
		t.Error("second call reported joined")
	}
	if calls != 2 {
		t.Errorf("fn call count = %d, want 2", calls)
	}
}
