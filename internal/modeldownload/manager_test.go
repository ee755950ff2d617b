package modeldownload

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Aman-CERP/foldermcp/internal/embed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T, body []byte) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestManager_RequestDownloadsAndFansOutReady(t *testing.T) {
	srv := testServer(t, []byte("fake-model-bytes"))
	dir := t.TempDir()
	mm := embed.NewModelManager(dir)
	m := New(mm)

	spec := embed.ModelSpec{Name: "bge-small-en-v1.5", File: "bge-small.bin", URL: srv.URL}

	var mu sync.Mutex
	var events []Event
	done := make(chan struct{})

	m.Request(context.Background(), spec, func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		if ev.Kind == EventReady || ev.Kind == EventFailed {
			close(done)
		}
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for model_ready")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventReady, last.Kind)
	assert.FileExists(t, last.Path)
}

func TestManager_ConcurrentRequestsShareOneDownload(t *testing.T) {
	var requestCount int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requestCount++
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("model-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	mm := embed.NewModelManager(dir)
	m := New(mm)
	spec := embed.ModelSpec{Name: "shared-model", File: "shared.bin", URL: srv.URL}

	var wg sync.WaitGroup
	results := make([]Event, 3)
	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		done := make(chan struct{})
		m.Request(context.Background(), spec, func(ev Event) {
			if ev.Kind == EventReady || ev.Kind == EventFailed {
				results[i] = ev
				close(done)
				wg.Done()
			}
		})
		go func() {
			<-done
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, requestCount, "three folders requesting the same model should trigger exactly one download")
	for _, r := range results {
		assert.Equal(t, EventReady, r.Kind)
	}
}

func TestManager_FailedDownloadNotifiesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	mm := embed.NewModelManager(dir)
	m := New(mm)
	spec := embed.ModelSpec{Name: "broken-model", File: "broken.bin", URL: srv.URL}

	done := make(chan Event, 1)
	m.Request(context.Background(), spec, func(ev Event) {
		if ev.Kind == EventFailed {
			done <- ev
		}
	})

	select {
	case ev := <-done:
		require.Error(t, ev.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for download_failed")
	}
}

func TestManager_RequestAfterCompletionReplaysImmediately(t *testing.T) {
	srv := testServer(t, []byte("bytes"))
	dir := t.TempDir()
	mm := embed.NewModelManager(dir)
	m := New(mm)
	spec := embed.ModelSpec{Name: "cached-model", File: "cached.bin", URL: srv.URL}

	first := make(chan struct{})
	m.Request(context.Background(), spec, func(ev Event) {
		if ev.Kind == EventReady {
			close(first)
		}
	})
	<-first

	replayed := make(chan Event, 1)
	m.Request(context.Background(), spec, func(ev Event) {
		replayed <- ev
	})

	select {
	case ev := <-replayed:
		assert.Equal(t, EventReady, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected an immediate replay for an already-completed download")
	}
}

func TestManager_UnsubscribeStopsFurtherEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		_, _ = w.Write([]byte("bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	mm := embed.NewModelManager(dir)
	m := New(mm)
	spec := embed.ModelSpec{Name: "unsub-model", File: "unsub.bin", URL: srv.URL}

	var afterUnsub int
	var mu sync.Mutex
	unsub := m.Request(context.Background(), spec, func(ev Event) {
		mu.Lock()
		afterUnsub++
		mu.Unlock()
	})
	unsub()

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, afterUnsub, 1, "unsubscribed listener should receive at most the already-in-flight event")
}

func TestManager_InFlightReportsActiveDownload(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
		_, _ = w.Write([]byte("bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	mm := embed.NewModelManager(dir)
	m := New(mm)
	spec := embed.ModelSpec{Name: "inflight-model", File: "inflight.bin", URL: srv.URL}

	m.Request(context.Background(), spec, func(Event) {})
	time.Sleep(20 * time.Millisecond)
	assert.True(t, m.InFlight("inflight-model"))

	close(block)
	time.Sleep(50 * time.Millisecond)
	assert.False(t, m.InFlight("inflight-model"))
}
