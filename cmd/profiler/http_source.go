package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"time"

	tarhttp "github.com/meigma/tarbgz/http"
)

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func newHTTPSource(cfg config, data []byte) (*tarhttp.Source, func(), error) {
	if cfg.dataURL == "" {
		return nil, nil, errors.New("data-url is required for HTTP source")
	}

	url := cfg.dataURL
	var cleanup func()
	if cfg.dataURL == "local" {
		modTime := time.Now()
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			nethttp.ServeContent(w, r, "archive.tar.gz", modTime, bytes.NewReader(data))
		}))
		url = server.URL + "/archive.tar.gz"
		cleanup = server.Close
	}

	source, err := tarhttp.NewSource(context.Background(), url, tarhttp.WithClient(newHTTPClient(cfg)))
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		return nil, nil, err
	}
	return source, cleanup, nil
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func newHTTPClient(cfg config) *nethttp.Client {
	transport := nethttp.DefaultTransport
	if base, ok := transport.(*nethttp.Transport); ok {
		transport = base.Clone()
	}
	if cfg.dataHTTPLatency > 0 || cfg.dataHTTPBPS > 0 {
		transport = &throttledTransport{
			base:           transport,
			latency:        cfg.dataHTTPLatency,
			bytesPerSecond: cfg.dataHTTPBPS,
		}
	}
	return &nethttp.Client{Transport: transport}
}

// throttledTransport delays every request and paces response bodies.
type throttledTransport struct {
	base           nethttp.RoundTripper
	latency        time.Duration
	bytesPerSecond uint64
}

func (rt *throttledTransport) RoundTrip(req *nethttp.Request) (*nethttp.Response, error) {
	if rt.latency > 0 {
		select {
		case <-time.After(rt.latency):
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if rt.bytesPerSecond > 0 && resp.Body != nil {
		resp.Body = &pacedBody{rc: resp.Body, bytesPerSecond: rt.bytesPerSecond, start: time.Now()}
	}
	return resp, nil
}

type pacedBody struct {
	rc             io.ReadCloser
	bytesPerSecond uint64
	start          time.Time
	read           uint64
}

func (b *pacedBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.read += uint64(n)
		due := time.Duration(float64(b.read) / float64(b.bytesPerSecond) * float64(time.Second))
		if wait := due - time.Since(b.start); wait > 0 {
			time.Sleep(wait)
		}
	}
	return n, err
}

func (b *pacedBody) Close() error {
	return b.rc.Close()
}
