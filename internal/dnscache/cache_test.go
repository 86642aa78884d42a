package dnscache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_MissingEntryDenies(t *testing.T) {
	c := New(nil)
	_, ok := c.Get("absent.com")
	assert.False(t, ok)
}

func TestCache_PutThenGet(t *testing.T) {
	c := New(nil)
	c.Put("example.com", []string{"1.2.3.4", "1.2.3.5"})

	ips, ok := c.Get("example.com")
	require.True(t, ok)
	assert.Equal(t, []string{"1.2.3.4", "1.2.3.5"}, ips)
}

func TestCache_PutOverwrites(t *testing.T) {
	c := New(nil)
	c.Put("example.com", []string{"1.1.1.1"})
	c.Put("example.com", []string{"2.2.2.2"})

	ips, ok := c.Get("example.com")
	require.True(t, ok)
	assert.Equal(t, []string{"2.2.2.2"}, ips)
}

func TestCache_EmptyWriteNeverCreatesEmptyEntry(t *testing.T) {
	c := New(nil)
	c.Put("example.com", nil)

	_, ok := c.Get("example.com")
	assert.False(t, ok, "an empty write must not create a reachable entry")
}

func TestCache_NeverEmptyInvariant(t *testing.T) {
	c := New(nil)
	c.Put("example.com", []string{"1.2.3.4"})
	c.Put("example.com", nil) // writer misbehaves; must be ignored

	ips, ok := c.Get("example.com")
	require.True(t, ok)
	assert.NotEmpty(t, ips)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(nil)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c.Put("example.com", []string{"10.0.0.1"})
		}(i)
		go func() {
			defer wg.Done()
			c.Get("example.com")
		}()
	}

	wg.Wait()
}

func TestCache_TTLSweepRemovesStaleEntries(t *testing.T) {
	c := NewWithTTL(50*time.Millisecond, nil)
	defer c.Stop()

	c.Put("example.com", []string{"1.2.3.4"})

	require.Eventually(t, func() bool {
		_, ok := c.Get("example.com")
		return !ok
	}, 2*time.Second, 20*time.Millisecond)
}
