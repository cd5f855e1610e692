package cog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"gocloud.dev/blob"
)

// Store is the narrow capability a Source needs from its backing bytes:
// stateless range reads plus the total size and a human-readable name.
// Implementations own their timeout and retry policy.
type Store interface {
	// ReadRange returns exactly length bytes starting at offset. The
	// caller guarantees offset+length does not exceed Size.
	ReadRange(ctx context.Context, offset, length int64) ([]byte, error)
	Size() int64
	Name() string
}

// HTTPStore reads a remote file through HTTP Range requests.
type HTTPStore struct {
	url    string
	client *http.Client
	size   int64
}

// NewHTTPStore probes url with a HEAD request to discover the file size
// and verify the server accepts byte ranges.
func NewHTTPStore(ctx context.Context, url string, client *http.Client) (*HTTPStore, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create head request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Store: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Store: url, Err: fmt.Errorf("bad status for head request: %s", resp.Status)}
	}

	if resp.Header.Get("Accept-Ranges") != "bytes" {
		return nil, &TransportError{Store: url, Err: errors.New("server does not accept byte range requests")}
	}

	size := resp.ContentLength
	if size <= 0 {
		return nil, &TransportError{Store: url, Err: errors.New("could not determine content length or file is empty")}
	}

	return &HTTPStore{url: url, client: client, size: size}, nil
}

func (h *HTTPStore) Size() int64  { return h.size }
func (h *HTTPStore) Name() string { return h.url }

func (h *HTTPStore) ReadRange(ctx context.Context, offset, length int64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	if offset < 0 || offset+length > h.size {
		return nil, &OffsetOutOfRangeError{Offset: uint64(offset), Length: uint64(length), Size: h.size}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &TransportError{Store: h.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return nil, &TransportError{Store: h.url, Err: fmt.Errorf("expected status 206 Partial Content, got: %s", resp.Status)}
	}

	p := make([]byte, length)
	n, err := io.ReadFull(resp.Body, p)
	if err != nil {
		return nil, &ShortReadError{Offset: offset, Want: int(length), Got: n}
	}
	return p, nil
}

// FileStore reads a local file with positioned reads.
type FileStore struct {
	f    *os.File
	path string
	size int64
}

// NewFileStore opens path for reading. The caller closes the store when
// the owning Cog is done.
func NewFileStore(path string) (*FileStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local file: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat local file: %w", err)
	}
	return &FileStore{f: f, path: path, size: fi.Size()}, nil
}

func (s *FileStore) Size() int64  { return s.size }
func (s *FileStore) Name() string { return s.path }

func (s *FileStore) Close() error { return s.f.Close() }

func (s *FileStore) ReadRange(_ context.Context, offset, length int64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	if offset < 0 || offset+length > s.size {
		return nil, &OffsetOutOfRangeError{Offset: uint64(offset), Length: uint64(length), Size: s.size}
	}
	p := make([]byte, length)
	n, err := s.f.ReadAt(p, offset)
	if err != nil {
		return nil, &ShortReadError{Offset: offset, Want: int(length), Got: n}
	}
	return p, nil
}

// BlobStore reads an object in a cloud bucket (S3, GCS, Azure, ...) using
// gocloud.dev/blob.
type BlobStore struct {
	bucket *blob.Bucket
	key    string
	size   int64
}

// NewBlobStore resolves the object attributes to learn its size.
func NewBlobStore(ctx context.Context, bucket *blob.Bucket, key string) (*BlobStore, error) {
	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get attributes for key %s: %w", key, err)
	}
	return &BlobStore{bucket: bucket, key: key, size: attrs.Size}, nil
}

func (s *BlobStore) Size() int64  { return s.size }
func (s *BlobStore) Name() string { return s.key }

func (s *BlobStore) ReadRange(ctx context.Context, offset, length int64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	if offset < 0 || offset+length > s.size {
		return nil, &OffsetOutOfRangeError{Offset: uint64(offset), Length: uint64(length), Size: s.size}
	}

	r, err := s.bucket.NewRangeReader(ctx, s.key, offset, length, nil)
	if err != nil {
		return nil, &TransportError{Store: s.key, Err: err}
	}
	defer r.Close()

	p := make([]byte, length)
	n, err := io.ReadFull(r, p)
	if err != nil {
		return nil, &ShortReadError{Offset: offset, Want: int(length), Got: n}
	}
	return p, nil
}
