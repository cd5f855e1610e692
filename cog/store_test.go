package cog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// rangeHandler serves data with HEAD size discovery and byte ranges.
func rangeHandler(t *testing.T, data []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.Header().Set("Accept-Ranges", "bytes")
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			rng := r.Header.Get("Range")
			if !strings.HasPrefix(rng, "bytes=") {
				t.Errorf("missing Range header on GET")
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			var start, end int
			if _, err := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if start < 0 || end >= len(data) || start > end {
				w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
				return
			}
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(data[start : end+1])
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func TestHTTPStore(t *testing.T) {
	data := testData(300)
	srv := httptest.NewServer(rangeHandler(t, data))
	defer srv.Close()

	store, err := NewHTTPStore(context.Background(), srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewHTTPStore: %v", err)
	}

	if store.Size() != 300 {
		t.Errorf("Size = %d, want 300", store.Size())
	}
	if store.Name() != srv.URL {
		t.Errorf("Name = %q, want %q", store.Name(), srv.URL)
	}

	got, err := store.ReadRange(context.Background(), 100, 50)
	if err != nil {
		t.Fatalf("ReadRange(100, 50): %v", err)
	}
	if !bytes.Equal(got, data[100:150]) {
		t.Error("ReadRange returned wrong bytes")
	}

	var oor *OffsetOutOfRangeError
	if _, err := store.ReadRange(context.Background(), 290, 20); !errors.As(err, &oor) {
		t.Errorf("ReadRange past end: got %v, want OffsetOutOfRangeError", err)
	}
}

func TestHTTPStoreRejectsNonRangeServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := NewHTTPStore(context.Background(), srv.URL, srv.Client())
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("NewHTTPStore against a server without Accept-Ranges: got %v, want TransportError", err)
	}
}

func TestHTTPStoreNon206Response(t *testing.T) {
	data := testData(100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Accept-Ranges", "bytes")
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.WriteHeader(http.StatusOK)
			return
		}
		// Ignores the Range header and returns the whole body.
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}))
	defer srv.Close()

	store, err := NewHTTPStore(context.Background(), srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewHTTPStore: %v", err)
	}

	var te *TransportError
	if _, err := store.ReadRange(context.Background(), 0, 10); !errors.As(err, &te) {
		t.Fatalf("ReadRange with a 200 response: got %v, want TransportError", err)
	}
}

func TestFileStore(t *testing.T) {
	data := testData(256)
	path := filepath.Join(t.TempDir(), "test.tif")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer store.Close()

	if store.Size() != 256 {
		t.Errorf("Size = %d, want 256", store.Size())
	}
	if store.Name() != path {
		t.Errorf("Name = %q, want %q", store.Name(), path)
	}

	got, err := store.ReadRange(context.Background(), 10, 20)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if !bytes.Equal(got, data[10:30]) {
		t.Error("ReadRange returned wrong bytes")
	}

	var oor *OffsetOutOfRangeError
	if _, err := store.ReadRange(context.Background(), 250, 10); !errors.As(err, &oor) {
		t.Errorf("ReadRange past end: got %v, want OffsetOutOfRangeError", err)
	}
}

func TestEndToEndOverHTTP(t *testing.T) {
	tf := buildTiledFixture()
	srv := httptest.NewServer(rangeHandler(t, tf.data))
	defer srv.Close()

	store, err := NewHTTPStore(context.Background(), srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewHTTPStore: %v", err)
	}
	source, err := NewSource(store, 128, nil)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	c := New(source)
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	tile, err := c.TileRaw(context.Background(), 2, 1, 0)
	if err != nil {
		t.Fatalf("TileRaw: %v", err)
	}
	if !bytes.Equal(tile.Bytes, tf.tiles[5]) {
		t.Error("tile payload read over HTTP does not match the fixture")
	}
}
