package idgen

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGenerator(t *testing.T) {
	_, err := NewGenerator(-1)
	assert.Error(t, err)
	_, err = NewGenerator(MaxNode + 1)
	assert.Error(t, err)

	g, err := NewGenerator(MaxNode)
	require.NoError(t, err)
	assert.Positive(t, g.Next())
}

func TestGenerator_Monotonic(t *testing.T) {
	g, err := NewGenerator(3)
	require.NoError(t, err)

	prev := g.Next()
	for i := 0; i < 10000; i++ {
		id := g.Next()
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestGenerator_ClockBackwards(t *testing.T) {
	g, err := NewGenerator(1)
	require.NoError(t, err)

	base := time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return base }
	first := g.Next()

	g.now = func() time.Time { return base.Add(-time.Second) }
	assert.Greater(t, g.Next(), first)
}

func TestGenerator_Concurrent(t *testing.T) {
	g, err := NewGenerator(7)
	require.NoError(t, err)

	const workers, perWorker = 8, 500
	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := g.Next()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker)
}

func TestGenerateAuditKey(t *testing.T) {
	key := GenerateAuditKey()
	assert.True(t, strings.HasPrefix(key, "AUD"))
	assert.Len(t, key, len("AUD")+14+1+8)
	assert.NotEqual(t, key, GenerateAuditKey())
}
