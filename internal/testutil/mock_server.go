// Package testutil provides a configurable HTTP test server for
// download engine tests.
package testutil

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MockServer serves a deterministic file over HTTP with configurable
// range behavior and failure injection.
type MockServer struct {
	Server *httptest.Server

	FileSize       int64
	SupportsRanges bool
	IgnoreRanges   bool // advertise ranges but answer 200 full body
	NoHead         bool // reject HEAD so probes must fall back to GET
	HideLength     bool // omit Content-Length and Content-Range totals
	ContentType    string
	Filename       string
	ETag           string
	LastModified   string
	Latency        time.Duration
	ChunkDelay     time.Duration // pause between 32 KiB body chunks
	FailAfterBytes int64         // cut the connection after N bytes per request
	FailFirstN     int           // answer 500 to the first N data requests

	RequestCount  atomic.Int64
	RangeRequests atomic.Int64
	FullRequests  atomic.Int64

	mu     sync.Mutex
	reqNum int
	data   []byte
}

// Option configures a MockServer.
type Option func(*MockServer)

// WithFileSize sets the size of the served file.
func WithFileSize(size int64) Option {
	return func(m *MockServer) { m.FileSize = size }
}

// WithRangeSupport enables or disables Range request handling.
func WithRangeSupport(enabled bool) Option {
	return func(m *MockServer) { m.SupportsRanges = enabled }
}

// WithIgnoreRanges makes the server advertise range support but answer
// every ranged GET with a 200 full body.
func WithIgnoreRanges() Option {
	return func(m *MockServer) { m.IgnoreRanges = true }
}

// WithNoHead rejects HEAD requests with 405.
func WithNoHead() Option {
	return func(m *MockServer) { m.NoHead = true }
}

// WithHideLength omits the Content-Length header and the total in
// Content-Range, producing an ambiguous capability answer.
func WithHideLength() Option {
	return func(m *MockServer) { m.HideLength = true }
}

// WithFilename sets the Content-Disposition filename.
func WithFilename(name string) Option {
	return func(m *MockServer) { m.Filename = name }
}

// WithETag sets the ETag validator.
func WithETag(etag string) Option {
	return func(m *MockServer) { m.ETag = etag }
}

// WithLastModified sets the Last-Modified validator.
func WithLastModified(v string) Option {
	return func(m *MockServer) { m.LastModified = v }
}

// WithLatency delays every request.
func WithLatency(d time.Duration) Option {
	return func(m *MockServer) { m.Latency = d }
}

// WithChunkDelay slows the body stream down, giving tests a window to
// pause or cancel mid-download.
func WithChunkDelay(d time.Duration) Option {
	return func(m *MockServer) { m.ChunkDelay = d }
}

// WithFailAfterBytes cuts each data response after n bytes.
func WithFailAfterBytes(n int64) Option {
	return func(m *MockServer) { m.FailAfterBytes = n }
}

// WithFailFirstN answers 500 to the first n data requests, after which
// the server behaves normally. Exercises retry paths.
func WithFailFirstN(n int) Option {
	return func(m *MockServer) { m.FailFirstN = n }
}

// NewMockServer starts a server with deterministic content.
func NewMockServer(opts ...Option) *MockServer {
	m := &MockServer{
		FileSize:       1 << 20,
		SupportsRanges: true,
		ContentType:    "application/octet-stream",
		Filename:       "testfile.bin",
	}
	for _, opt := range opts {
		opt(m)
	}

	m.data = make([]byte, m.FileSize)
	for i := range m.data {
		m.data[i] = byte((i*31 + 7) % 251)
	}

	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the server's base URL.
func (m *MockServer) URL() string { return m.Server.URL }

// Close shuts the server down.
func (m *MockServer) Close() { m.Server.Close() }

// Data returns the full served content.
func (m *MockServer) Data() []byte { return m.data }

// MD5Sum returns the hex md5 of the served content.
func (m *MockServer) MD5Sum() string {
	sum := md5.Sum(m.data)
	return hex.EncodeToString(sum[:])
}

// SHA256Sum returns the hex sha256 of the served content.
func (m *MockServer) SHA256Sum() string {
	sum := sha256.Sum256(m.data)
	return hex.EncodeToString(sum[:])
}

// SetETag changes the validator after startup, simulating the resource
// changing on the server between plan time and resume time.
func (m *MockServer) SetETag(etag string) {
	m.mu.Lock()
	m.ETag = etag
	m.mu.Unlock()
}

// Resize changes the served content, simulating the resource shrinking
// or growing on the server.
func (m *MockServer) Resize(size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FileSize = size
	m.data = make([]byte, size)
	for i := range m.data {
		m.data[i] = byte((i*31 + 7) % 251)
	}
}

func (m *MockServer) handle(w http.ResponseWriter, r *http.Request) {
	m.RequestCount.Add(1)
	if m.Latency > 0 {
		time.Sleep(m.Latency)
	}

	m.mu.Lock()
	size := m.FileSize
	data := m.data
	etag := m.ETag
	m.mu.Unlock()

	if r.Method == http.MethodHead {
		if m.NoHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		m.setMetadataHeaders(w, etag)
		if m.SupportsRanges || m.IgnoreRanges {
			w.Header().Set("Accept-Ranges", "bytes")
		}
		if !m.HideLength {
			w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	m.mu.Lock()
	m.reqNum++
	reqNum := m.reqNum
	m.mu.Unlock()
	if m.FailFirstN > 0 && reqNum <= m.FailFirstN {
		http.Error(w, "simulated failure", http.StatusInternalServerError)
		return
	}

	start, end := int64(0), size-1
	status := http.StatusOK
	rangeHeader := r.Header.Get("Range")

	if rangeHeader != "" && m.SupportsRanges && !m.IgnoreRanges {
		var err error
		start, end, err = parseRange(rangeHeader, size)
		if err != nil {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			http.Error(w, "range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
			return
		}
		status = http.StatusPartialContent
		m.RangeRequests.Add(1)
	} else {
		m.FullRequests.Add(1)
	}

	m.setMetadataHeaders(w, etag)
	if m.SupportsRanges || m.IgnoreRanges {
		w.Header().Set("Accept-Ranges", "bytes")
	}
	if status == http.StatusPartialContent {
		total := strconv.FormatInt(size, 10)
		if m.HideLength {
			total = "*"
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%s", start, end, total))
	}
	if !m.HideLength {
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	}
	w.WriteHeader(status)

	m.serveBody(w, data, start, end)
}

func (m *MockServer) serveBody(w http.ResponseWriter, data []byte, start, end int64) {
	length := end - start + 1
	written := int64(0)
	chunk := int64(32 * 1024)
	for written < length {
		if m.FailAfterBytes > 0 && written >= m.FailAfterBytes {
			// Cut the connection mid-body. New requests still succeed,
			// so retry logic can be observed end to end.
			panic(http.ErrAbortHandler)
		}
		n := chunk
		if rem := length - written; rem < n {
			n = rem
		}
		wn, err := w.Write(data[start+written : start+written+n])
		if err != nil {
			return
		}
		written += int64(wn)
		if m.ChunkDelay > 0 {
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			time.Sleep(m.ChunkDelay)
		}
	}
}

func (m *MockServer) setMetadataHeaders(w http.ResponseWriter, etag string) {
	w.Header().Set("Content-Type", m.ContentType)
	if m.Filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, m.Filename))
	}
	if etag != "" {
		w.Header().Set("ETag", etag)
	}
	if m.LastModified != "" {
		w.Header().Set("Last-Modified", m.LastModified)
	}
}

// parseRange parses "bytes=start-end", "bytes=start-" and "bytes=-n".
func parseRange(header string, size int64) (int64, int64, error) {
	if !strings.HasPrefix(header, "bytes=") {
		return 0, 0, fmt.Errorf("invalid range prefix")
	}
	parts := strings.SplitN(strings.TrimPrefix(header, "bytes="), "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid range format")
	}

	var start, end int64
	var err error
	switch {
	case parts[0] == "":
		n, perr := strconv.ParseInt(parts[1], 10, 64)
		if perr != nil {
			return 0, 0, perr
		}
		start, end = size-n, size-1
	case parts[1] == "":
		start, err = strconv.ParseInt(parts[0], 10, 64)
		end = size - 1
	default:
		start, err = strconv.ParseInt(parts[0], 10, 64)
		if err == nil {
			end, err = strconv.ParseInt(parts[1], 10, 64)
		}
	}
	if err != nil {
		return 0, 0, err
	}
	if start < 0 || start >= size || start > end {
		return 0, 0, fmt.Errorf("range out of bounds")
	}
	if end >= size {
		end = size - 1
	}
	return start, end, nil
}
