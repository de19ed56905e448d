// Package http provides a tarbgz.ByteSource that reads a remote archive with
// HTTP range requests.
//
// Every ReadAt issues one ranged GET. The BGZF reader asks for at most one
// maximum-size block per call, so extracting a member costs a handful of
// requests regardless of the archive size. Wrap the Source with the cache
// package to avoid refetching blocks.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"strconv"
	"strings"
	"sync/atomic"
)

// maxDrain bounds how much of a leftover partial body is read before close.
const maxDrain = 64 << 10

var (
	// ErrRangeUnsupported is returned when the server ignores Range headers.
	ErrRangeUnsupported = errors.New("http: server does not support range requests")

	// ErrChanged is returned when the remote object changed after the
	// Source was opened.
	ErrChanged = errors.New("http: remote archive changed")
)

// Source reads a remote archive with HTTP range requests. It is safe for
// concurrent use.
type Source struct {
	ctx          context.Context
	url          string
	client       *nethttp.Client
	headers      nethttp.Header
	logger       *slog.Logger
	size         int64
	etag         string
	lastModified string
	requests     atomic.Int64
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithHeader sets a header on every request, e.g. Authorization.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// WithLogger sets the logger for request tracing at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// NewSource probes url for its size and validators and returns a Source.
//
// ctx bounds the probe and every later ReadAt; cancel it to abort
// outstanding reads.
func NewSource(ctx context.Context, url string, opts ...Option) (*Source, error) {
	s := &Source{
		ctx:    ctx,
		url:    url,
		client: nethttp.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	if err := s.probe(); err != nil {
		return nil, err
	}
	s.logger.Debug("remote archive", "url", url, "size", s.size, "etag", s.etag)
	return s, nil
}

// Size returns the size of the remote archive.
func (s *Source) Size() int64 {
	return s.size
}

// URL returns the archive URL.
func (s *Source) URL() string {
	return s.url
}

// ID identifies the remote object: its URL plus the strongest validator the
// server sent. It is a suitable cache key.
func (s *Source) ID() string {
	switch {
	case s.etag != "":
		return s.url + "#" + s.etag
	case s.lastModified != "":
		return s.url + "@" + s.lastModified
	default:
		return s.url + ":" + strconv.FormatInt(s.size, 10)
	}
}

// Requests returns the number of HTTP requests issued so far.
func (s *Source) Requests() int64 {
	return s.requests.Load()
}

// ReadAt implements io.ReaderAt.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("http: read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}

	want := min(int64(len(p)), s.size-off)
	resp, err := s.get(off, off+want-1)
	if err != nil {
		return 0, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusRequestedRangeNotSatisfiable:
		return 0, io.EOF
	case nethttp.StatusPreconditionFailed:
		return 0, fmt.Errorf("%w: %s", ErrChanged, s.url)
	case nethttp.StatusOK:
		return 0, ErrRangeUnsupported
	default:
		return 0, fmt.Errorf("http: range request %s: %s", s.url, resp.Status)
	}

	n, err := io.ReadFull(resp.Body, p[:want])
	if err != nil {
		return n, fmt.Errorf("http: read range at %d: %w", off, err)
	}
	if want < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

// probe learns the size from a one-byte range request. A HEAD request
// supplies validators when the server sends them.
func (s *Source) probe() error {
	var headSize int64 = -1
	if resp, err := s.do(nethttp.MethodHead, ""); err == nil {
		if resp.StatusCode == nethttp.StatusOK {
			headSize = resp.ContentLength
			s.etag = resp.Header.Get("ETag")
			s.lastModified = resp.Header.Get("Last-Modified")
		}
		drain(resp)
	}

	resp, err := s.do(nethttp.MethodGet, "bytes=0-0")
	if err != nil {
		return err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusRequestedRangeNotSatisfiable:
		// Zero-length objects cannot satisfy any range.
		if headSize == 0 {
			return nil
		}
		return fmt.Errorf("http: range probe %s: %s", s.url, resp.Status)
	case nethttp.StatusOK:
		return ErrRangeUnsupported
	default:
		return fmt.Errorf("http: range probe %s: %s", s.url, resp.Status)
	}

	size, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return err
	}
	if headSize > 0 && headSize != size {
		return fmt.Errorf("http: size mismatch for %s: head=%d range=%d", s.url, headSize, size)
	}
	s.size = size
	if s.etag == "" {
		s.etag = resp.Header.Get("ETag")
	}
	if s.lastModified == "" {
		s.lastModified = resp.Header.Get("Last-Modified")
	}
	return nil
}

func (s *Source) get(first, last int64) (*nethttp.Response, error) {
	resp, err := s.do(nethttp.MethodGet, fmt.Sprintf("bytes=%d-%d", first, last))
	if err != nil {
		return nil, err
	}
	s.logger.Debug("range request", "url", s.url, "first", first, "last", last, "status", resp.StatusCode)
	return resp, nil
}

func (s *Source) do(method, byteRange string) (*nethttp.Response, error) {
	req, err := nethttp.NewRequestWithContext(s.ctx, method, s.url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	// Transparent decompression would break byte offsets.
	req.Header.Set("Accept-Encoding", "identity")
	if byteRange != "" {
		req.Header.Set("Range", byteRange)
		if s.etag != "" {
			req.Header.Set("If-Match", s.etag)
		} else if s.lastModified != "" {
			req.Header.Set("If-Unmodified-Since", s.lastModified)
		}
	}

	s.requests.Add(1)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %s %s: %w", method, s.url, err)
	}
	return resp, nil
}

// drain finishes a response. Partial content bodies are read to the end so
// the connection can be reused; any other body is closed unread, since a
// server that ignored the range may be sending the whole object.
func drain(resp *nethttp.Response) {
	if resp.StatusCode == nethttp.StatusPartialContent {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	}
	_ = resp.Body.Close()
}

// parseContentRange extracts the complete length from "bytes a-b/size".
func parseContentRange(value string) (int64, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes ")
	if !ok {
		return 0, fmt.Errorf("http: invalid Content-Range %q", value)
	}
	_, total, ok := strings.Cut(rest, "/")
	if !ok || total == "*" {
		return 0, fmt.Errorf("http: invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(total, 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("http: invalid Content-Range %q", value)
	}
	return size, nil
}
