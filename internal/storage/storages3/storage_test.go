package storages3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/v0gel/mason/internal/storage"
)

type recordedRequest struct {
	method string
	path   string
	query  string
}

func newTestStore(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Store, *[]recordedRequest) {
	t.Helper()

	requests := new([]recordedRequest)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*requests = append(*requests, recordedRequest{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery})
		_, _ = io.Copy(io.Discard, r.Body)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client := NewClient("http://minioadmin:minioadmin@" + strings.TrimPrefix(server.URL, "http://"))
	return New(client), requests
}

func TestStorePut(t *testing.T) {
	t.Run("uploads a large object in a single request", func(t *testing.T) {
		store, requests := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("ETag", `"0123456789abcdef0123456789abcdef"`)
		})

		body := bytes.Repeat([]byte("a"), 11*1024*1024)
		meta := &storage.ObjectMeta{ContentType: "text/html", ContentEncoding: "gzip"}
		err := store.Put(context.Background(), "mybucket", "index.html", bytes.NewReader(body), meta)
		if err != nil {
			t.Fatalf("didn't want %v", err)
		}

		if want := 1; len(*requests) != want {
			t.Fatalf("got %d requests, want %d", len(*requests), want)
		}
		got := (*requests)[0]
		if want := "PUT"; got.method != want {
			t.Errorf("got %q, want %q", got.method, want)
		}
		if want := "/mybucket/index.html"; got.path != want {
			t.Errorf("got %q, want %q", got.path, want)
		}
		if strings.Contains(got.query, "uploads") || strings.Contains(got.query, "partNumber") {
			t.Errorf("got query %q, didn't want a multipart upload", got.query)
		}
	})
}

func TestStoreHead(t *testing.T) {
	t.Run("strips the etag quotes", func(t *testing.T) {
		store, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("ETag", `"0123456789abcdef0123456789abcdef"`)
		})

		got, err := store.Head(context.Background(), "mybucket", "index.html")
		if err != nil {
			t.Fatalf("didn't want %v", err)
		}
		if want := "0123456789abcdef0123456789abcdef"; got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("reports a missing object", func(t *testing.T) {
		store, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		_, err := store.Head(context.Background(), "mybucket", "gone.html")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("got %v, want %v", err, storage.ErrNotFound)
		}
	})
}
