package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_Envelope(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p, err := Encode(7, at, []int{1, 2})
	require.NoError(t, err)

	assert.Equal(t, uint64(7), p.Seq)
	assert.Equal(t, at, p.GeneratedAt)
	assert.JSONEq(t,
		`{"event":"forecast","seq":7,"generated_at":"2024-03-01T12:00:00Z","data":[1,2]}`,
		string(p.Data))
}

func TestEncode_Unserializable(t *testing.T) {
	_, err := Encode(1, time.Now(), make(chan int))
	require.Error(t, err)
}

func TestCache_EmptyReturnsNil(t *testing.T) {
	var c Cache
	assert.Nil(t, c.Current())
}

func TestCache_StoreKeepsNewest(t *testing.T) {
	var c Cache
	assert.True(t, c.Store(&Payload{Seq: 2}))
	assert.False(t, c.Store(&Payload{Seq: 1}), "older payload replaced newer")
	assert.True(t, c.Store(&Payload{Seq: 3}))
	assert.Equal(t, uint64(3), c.Current().Seq)
}

func TestCache_LoadOrGenerate_UsesCache(t *testing.T) {
	var c Cache
	c.Store(&Payload{Seq: 5})

	p, err := c.LoadOrGenerate(context.Background(), func(context.Context) (*Payload, error) {
		t.Fatal("generate called with a populated cache")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), p.Seq)
}

func TestCache_LoadOrGenerate_ConcurrentCallersShareOneGeneration(t *testing.T) {
	var c Cache
	var calls atomic.Int32
	release := make(chan struct{})

	gen := func(context.Context) (*Payload, error) {
		calls.Add(1)
		<-release
		return &Payload{Seq: 1, Data: []byte(`{}`)}, nil
	}

	var wg sync.WaitGroup
	results := make([]*Payload, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := c.LoadOrGenerate(context.Background(), gen)
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}

	// Let the callers pile up on the in-flight generation.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, p := range results {
		assert.Same(t, results[0], p)
	}
	assert.Same(t, results[0], c.Current())
}

func TestCache_LoadOrGenerate_ErrorNotCached(t *testing.T) {
	var c Cache
	boom := errors.New("boom")

	_, err := c.LoadOrGenerate(context.Background(), func(context.Context) (*Payload, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Nil(t, c.Current())

	p, err := c.LoadOrGenerate(context.Background(), func(context.Context) (*Payload, error) {
		return &Payload{Seq: 1}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.Seq)
}

func TestPayload_DataIsValidJSON(t *testing.T) {
	p, err := Encode(1, time.Now(), map[string]string{"k": "v"})
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(p.Data, &env))
	assert.Equal(t, EventForecast, env["event"])
}
