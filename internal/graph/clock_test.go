package graph

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockSequence(t *testing.T) {
	c := NewClock()
	assert.Zero(t, c.Current(), "no commit yet")
	for want := int64(1); want <= 3; want++ {
		assert.Equal(t, want, c.Next())
	}
	assert.Equal(t, int64(3), c.Current())

	resumed := NewClockAt(100)
	assert.Equal(t, int64(100), resumed.Current())
	assert.Equal(t, int64(101), resumed.Next())
}

func TestClockUniqueUnderContention(t *testing.T) {
	c := NewClock()
	const workers, perWorker = 16, 250

	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perWorker)
			for range perWorker {
				local = append(local, c.Next())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, seq := range local {
				_, dup := seen[seq]
				assert.False(t, dup, "seq %d issued twice", seq)
				seen[seq] = struct{}{}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
	assert.Equal(t, int64(workers*perWorker), c.Current())
}

func TestWithClockContinuesNumbering(t *testing.T) {
	g := newTestGraph(t, WithClock(NewClockAt(41)))

	tx := begin(t, g, "e42")
	_, err := tx.Define("PROC", "P1")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.Equal(t, int64(42), tx.Seq())

	c, ok := g.Context(42)
	require.True(t, ok)
	assert.Equal(t, "e42", c.Values["event_id"])
	_, ok = g.Context(1)
	assert.False(t, ok)

	p, ok := g.Node(g.Nodes()[0].ID)
	require.True(t, ok)
	assert.Equal(t, int64(42), p.Ctx, "nodes reference the commit that created them")

	// An empty commit takes no sequence number.
	require.NoError(t, begin(t, g, "empty").Commit())
	next := begin(t, g, "e43")
	_, err = next.Define("FILE", "F1")
	require.NoError(t, err)
	require.NoError(t, next.Commit())
	assert.Equal(t, int64(43), next.Seq())
}
