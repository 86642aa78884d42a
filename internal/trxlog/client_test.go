package trxlog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_FlushSendsPendingBatch(t *testing.T) {
	var mu sync.Mutex
	var received []Entry

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			TrxLogs []Entry `json:"trx_logs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		received = append(received, body.TrxLogs...)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	c.Record(context.Background(), Entry{Outcome: "splicing", Hostname: "example.com"})
	c.Record(context.Background(), Entry{Outcome: "missing_ip", Hostname: "absent.com"})

	require.NoError(t, c.Flush(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, "splicing", received[0].Outcome)
}

func TestClient_FlushIsNoOpWhenEmpty(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	require.NoError(t, c.Flush(context.Background()))
	assert.False(t, called)
}

func TestClient_RecordFlushesAtBatchSize(t *testing.T) {
	var mu sync.Mutex
	count := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	c.maxBatchSize = 2

	c.Record(context.Background(), Entry{Outcome: "a"})
	c.Record(context.Background(), Entry{Outcome: "b"}) // triggers auto-flush

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}
