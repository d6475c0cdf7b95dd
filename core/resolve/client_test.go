package resolve

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newSearchServer(t *testing.T, results map[string]string, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		q := r.URL.Query().Get("q")
		id, ok := results[q]
		if !ok {
			json.NewEncoder(w).Encode(map[string]interface{}{"items": []interface{}{}})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []map[string]interface{}{
				{"id": map[string]string{"videoId": id}},
			},
		})
	}))
}

func TestResolve_CachesPositiveResults(t *testing.T) {
	calls := 0
	srv := newSearchServer(t, map[string]string{"Song A Artist A": "vid-a"}, &calls)
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, CacheSize: 4})

	for i := 0; i < 3; i++ {
		id, err := c.Resolve("Song A", "Artist A")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if id != "vid-a" {
			t.Fatalf("expected vid-a, got %s", id)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 search call, got %d", calls)
	}
}

func TestResolve_DoesNotCacheFailures(t *testing.T) {
	calls := 0
	srv := newSearchServer(t, map[string]string{}, &calls)
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, CacheSize: 4})

	for i := 0; i < 2; i++ {
		if _, err := c.Resolve("Missing", "Nobody"); err == nil {
			t.Fatal("expected an error for an empty result set")
		}
	}
	if calls != 2 {
		t.Fatalf("a failed lookup must retry on the next call, got %d calls", calls)
	}
}

func TestBoundedCache_EvictsOldestOnOverflow(t *testing.T) {
	c := NewClient(Config{CacheSize: 2})

	c.store("a|x", "vid-a")
	c.store("b|x", "vid-b")
	c.store("c|x", "vid-c") // 挤掉 a|x

	if _, ok := c.lookup("a|x"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	for key, want := range map[string]string{"b|x": "vid-b", "c|x": "vid-c"} {
		got, ok := c.lookup(key)
		if !ok || got != want {
			t.Fatalf("expected %s=%s, got %s (present=%v)", key, want, got, ok)
		}
	}

	// 覆盖已有 key 不应触发淘汰
	c.store("b|x", "vid-b2")
	if got, ok := c.lookup("c|x"); !ok || got != "vid-c" {
		t.Fatalf("overwrite must not evict, got %s (present=%v)", got, ok)
	}
}
