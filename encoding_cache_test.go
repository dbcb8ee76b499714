package schemaregistry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/tryfix/log"
)

func registerEncoding(t *testing.T, client *fakeClient) EncodingID {
	t.Helper()

	ctx := context.Background()
	v, err := client.RegisterSchema(ctx, `g`, SchemaInfo{Type: `order`, Format: JSON, Schema: []byte(`{}`)})
	if err != nil {
		t.Fatal(err)
	}

	id, err := client.GetOrCreateEncodingID(ctx, `g`, v, CodecTypeNone)
	if err != nil {
		t.Fatal(err)
	}

	return id
}

func TestEncodingCache_SingleFetch(t *testing.T) {
	client := newFakeClient()
	id := registerEncoding(t, client)
	client.gate = make(chan struct{})

	cache := NewEncodingCache(`g`, client, WithLogger(log.Constructor.Log(log.WithColors(false))))

	const callers = 64
	infos := make([]EncodingInfo, callers)
	errs := make([]error, callers)
	wg := new(sync.WaitGroup)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			infos[i], errs[i] = cache.Get(context.Background(), id)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(client.gate)
	wg.Wait()

	for i := range infos {
		if errs[i] != nil {
			t.Fatal(errs[i])
		}
		if infos[i].VersionInfo != infos[0].VersionInfo {
			t.Errorf(`need %s, have %s`, infos[0].VersionInfo, infos[i].VersionInfo)
		}
	}

	if client.calls() != 1 {
		t.Errorf(`need 1 registry call, have %d`, client.calls())
	}

	if cache.Len() != 1 {
		t.Errorf(`need 1 cached encoding, have %d`, cache.Len())
	}

	cache.Print()
}

func TestEncodingCache_FailuresNotCached(t *testing.T) {
	client := newFakeClient()
	id := registerEncoding(t, client)
	client.failures = 1

	cache := NewEncodingCache(`g`, client)
	if _, err := cache.Get(context.Background(), id); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf(`need %v, have %v`, ErrServiceUnavailable, err)
	}

	if cache.Len() != 0 {
		t.Errorf(`failed lookups must not be cached`)
	}

	if _, err := cache.Get(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	if _, err := cache.Get(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	if client.calls() != 2 {
		t.Errorf(`need 2 registry calls, have %d`, client.calls())
	}
}

func TestEncodingCache_UnknownID(t *testing.T) {
	cache := NewEncodingCache(`g`, newFakeClient())
	if _, err := cache.Get(context.Background(), 42); !errors.Is(err, ErrEncodingNotFound) {
		t.Errorf(`need %v, have %v`, ErrEncodingNotFound, err)
	}
}

func TestEncodingCache_ContextCancel(t *testing.T) {
	client := newFakeClient()
	id := registerEncoding(t, client)
	client.gate = make(chan struct{})
	defer close(client.gate)

	cache := NewEncodingCache(`g`, client)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := cache.Get(ctx, id)
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Errorf(`need %v, have %v`, ErrServiceUnavailable, err)
	}

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf(`need %v, have %v`, context.DeadlineExceeded, err)
	}
}

func TestEncodingCache_Metrics(t *testing.T) {
	client := newFakeClient()
	id := registerEncoding(t, client)
	reg := prometheus.NewRegistry()

	cache := NewEncodingCache(`g`, client, WithMetrics(reg))
	for i := 0; i < 3; i++ {
		if _, err := cache.Get(context.Background(), id); err != nil {
			t.Fatal(err)
		}
	}

	// a second cache on the same registerer shares the counters
	other := NewEncodingCache(`g`, client, WithMetrics(reg))
	if _, err := other.Get(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	if have := testutil.ToFloat64(cache.metrics.misses.WithLabelValues(`g`)); have != 2 {
		t.Errorf(`need 2 misses, have %v`, have)
	}

	if have := testutil.ToFloat64(cache.metrics.hits.WithLabelValues(`g`)); have != 2 {
		t.Errorf(`need 2 hits, have %v`, have)
	}
}
