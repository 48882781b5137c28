package loader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/relaykit/internal/types"
)

const remoteDoc = `{"version":"2.0","siteId":1,"enableTracking":true}`
const localDoc = `{"version":"2.0","siteId":2 /* seeded */}`

type stubFetcher struct {
	data []byte
	err  error
}

func (f stubFetcher) Fetch(context.Context, string, string) ([]byte, error) {
	return f.data, f.err
}

type memCache struct {
	mu    sync.Mutex
	files map[string][]byte
	fail  bool
}

func newMemCache() *memCache { return &memCache{files: map[string][]byte{}} }

func (c *memCache) Read(version string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.files[version]
	if !ok {
		return nil, types.ErrConfigNotCached
	}
	return d, nil
}

func (c *memCache) Write(version string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("disk full")
	}
	c.files[version] = data
	return nil
}

func (c *memCache) Exists(version string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.files[version]
	return ok
}

func TestLoader(t *testing.T) {
	ctx := context.Background()

	t.Run("remote success writes cache", func(t *testing.T) {
		cache := newMemCache()
		l := New(stubFetcher{data: []byte(remoteDoc)}, cache, "tok", "2.0", nil)

		cfg, src := l.LoadWithSource(ctx)
		if src != SourceRemote {
			t.Fatalf("expected remote, got %s", src)
		}
		if cfg.SiteID != 1 {
			t.Errorf("expected site 1, got %d", cfg.SiteID)
		}
		if !cache.Exists("2.0") {
			t.Error("expected remote document cached")
		}
	})

	t.Run("remote failure falls back to cache", func(t *testing.T) {
		cache := newMemCache()
		cache.files["2.0"] = []byte(localDoc)
		l := New(stubFetcher{err: errors.New("offline")}, cache, "tok", "2.0", nil)

		cfg, src := l.LoadWithSource(ctx)
		if src != SourceLocal || cfg.SiteID != 2 {
			t.Fatalf("expected local site 2, got %s %+v", src, cfg)
		}
	})

	t.Run("malformed remote falls back to cache", func(t *testing.T) {
		cache := newMemCache()
		cache.files["2.0"] = []byte(localDoc)
		l := New(stubFetcher{data: []byte("{nope")}, cache, "tok", "2.0", nil)

		_, src := l.LoadWithSource(ctx)
		if src != SourceLocal {
			t.Fatalf("expected local, got %s", src)
		}
		if string(cache.files["2.0"]) != localDoc {
			t.Error("malformed remote must not overwrite cache")
		}
	})

	t.Run("cache write failure still returns remote", func(t *testing.T) {
		cache := newMemCache()
		cache.fail = true
		l := New(stubFetcher{data: []byte(remoteDoc)}, cache, "tok", "2.0", nil)

		if _, ok := l.Load(ctx); !ok {
			t.Fatal("expected configuration despite cache failure")
		}
	})

	t.Run("nothing available", func(t *testing.T) {
		l := New(stubFetcher{err: errors.New("offline")}, newMemCache(), "tok", "2.0", nil)
		cfg, ok := l.Load(ctx)
		if ok || cfg != nil {
			t.Fatalf("expected absent configuration, got %+v", cfg)
		}
	})

	t.Run("local only skips network", func(t *testing.T) {
		cache := newMemCache()
		cache.files["2.0"] = []byte(localDoc)
		l := New(stubFetcher{data: []byte(remoteDoc)}, cache, "tok", "2.0", nil)

		cfg, ok := l.LoadLocal(ctx)
		if !ok || cfg.SiteID != 2 {
			t.Fatalf("expected cached config, got %+v", cfg)
		}
	})
}

func TestLoaderSourcePreference(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("remote wins when valid, else local, else none", prop.ForAll(
		func(remoteOK, remoteParses, cached bool) bool {
			f := stubFetcher{err: errors.New("offline")}
			if remoteOK {
				f = stubFetcher{data: []byte("{broken")}
				if remoteParses {
					f = stubFetcher{data: []byte(remoteDoc)}
				}
			}
			cache := newMemCache()
			if cached {
				cache.files["2.0"] = []byte(localDoc)
			}

			_, src := New(f, cache, "tok", "2.0", nil).LoadWithSource(context.Background())

			switch {
			case remoteOK && remoteParses:
				return src == SourceRemote
			case cached:
				return src == SourceLocal
			default:
				return src == SourceNone
			}
		},
		gen.Bool(), gen.Bool(), gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestHTTPFetcher(t *testing.T) {
	var mu sync.Mutex
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/big.json"):
			w.Write([]byte(strings.Repeat("x", 200)))
		case strings.HasSuffix(r.URL.Path, "/missing.json"):
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Write([]byte(remoteDoc))
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL+"/cfg", time.Second, 80)
	ctx := context.Background()

	data, err := f.Fetch(ctx, "tok", "2.0")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != remoteDoc {
		t.Errorf("unexpected body %s", data)
	}
	mu.Lock()
	if gotPath != "/cfg/tok/2.0.json" {
		t.Errorf("unexpected path %s", gotPath)
	}
	mu.Unlock()

	if _, err := f.Fetch(ctx, "tok", "missing"); err == nil {
		t.Error("expected error for 404")
	}
	if _, err := f.Fetch(ctx, "tok", "big"); err == nil {
		t.Error("expected error for oversized body")
	}
}

func TestFileCache(t *testing.T) {
	c := NewFileCache(t.TempDir() + "/config")

	if _, err := c.Read("1.0"); !errors.Is(err, types.ErrConfigNotCached) {
		t.Fatalf("expected ErrConfigNotCached, got %v", err)
	}
	if c.Exists("1.0") {
		t.Fatal("nothing cached yet")
	}
	if err := c.Write("1.0", []byte(remoteDoc)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := c.Write("1.0", []byte(localDoc)); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	data, err := c.Read("1.0")
	if err != nil || string(data) != localDoc {
		t.Fatalf("unexpected read %s, %v", data, err)
	}
	if !c.Exists("1.0") {
		t.Error("expected Exists after write")
	}
	if err := c.Write("../escape", nil); err == nil {
		t.Error("expected error for path traversal")
	}
}
