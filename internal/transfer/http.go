package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	grab "github.com/cavaliergopher/grab/v3"
	"github.com/elsbrock/gamedl/internal/errdefs"
	"github.com/elsbrock/gamedl/internal/log"
)

// DefaultMaxRedirects bounds redirect chains for archive downloads.
const DefaultMaxRedirects = 10

// ErrTooManyRedirects is returned when a redirect chain exceeds the cap.
var ErrTooManyRedirects = errors.New("too many redirects")

var errStalled = errors.New("no data received within stall timeout")

// HTTPConfig tunes the http backend.
type HTTPConfig struct {
	// StagingDir receives archives before extraction.
	StagingDir string
	// MaxRedirects caps the redirect chain; 0 means DefaultMaxRedirects.
	MaxRedirects int
	// IdleConnectionTimeout is the transport idle connection timeout.
	IdleConnectionTimeout time.Duration
	// HeaderTimeout bounds the wait for response headers.
	HeaderTimeout time.Duration
	// StallTimeout fails a transfer when no bytes arrive for this long;
	// 0 disables stall detection.
	StallTimeout time.Duration
	// UserAgent is sent with every request.
	UserAgent string
}

type redirectCounterKey struct{}

// HTTPBackend downloads archives with grab into a staging directory. It
// cannot resume: pausing discards the connection and a resume restarts the
// file from zero.
type HTTPBackend struct {
	cfg    HTTPConfig
	client *grab.Client

	mu    sync.Mutex
	inUse map[string]string // staging path -> request id
}

// NewHTTPBackend creates an http backend.
func NewHTTPBackend(cfg HTTPConfig) *HTTPBackend {
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "gamedl/1.0"
	}

	log.Debug("http").
		Str("staging_dir", cfg.StagingDir).
		Int("max_redirects", cfg.MaxRedirects).
		Dur("header_timeout", cfg.HeaderTimeout).
		Msg("Creating download client")

	client := grab.NewClient()
	client.UserAgent = cfg.UserAgent
	client.HTTPClient = &http.Client{
		Timeout: 0, // No timeout for large downloads
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DisableCompression:    true, // Archives are already compressed
			IdleConnTimeout:       cfg.IdleConnectionTimeout,
			ResponseHeaderTimeout: cfg.HeaderTimeout,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if counter, ok := req.Context().Value(redirectCounterKey{}).(*atomic.Int32); ok {
				counter.Store(int32(len(via)))
			}
			if len(via) > cfg.MaxRedirects {
				return fmt.Errorf("%w (%d)", ErrTooManyRedirects, cfg.MaxRedirects)
			}
			return nil
		},
	}

	return &HTTPBackend{
		cfg:    cfg,
		client: client,
		inUse:  make(map[string]string),
	}
}

func (b *HTTPBackend) Kind() Kind { return KindHTTP }

func (b *HTTPBackend) ResumeIsExact() bool { return false }

// StagingPath is where the archive for req is written.
func (b *HTTPBackend) StagingPath(req Request) string {
	return filepath.Join(b.cfg.StagingDir, stagingComponent(req.ID), req.FileName)
}

// Start begins downloading req.Source. It returns once the request is
// dispatched; connection failures surface through the handle's Result.
func (b *HTTPBackend) Start(ctx context.Context, req Request) (Handle, error) {
	if err := checkHTTPSource(req.Source); err != nil {
		return nil, errdefs.NewConnectError(req.ID, err, "parsing %s", req.Source)
	}
	if req.FileName == "" || strings.ContainsAny(req.FileName, `/\`) {
		return nil, errdefs.NewConnectError(req.ID, nil, "invalid staging file name %q", req.FileName)
	}

	path := b.StagingPath(req)
	if err := b.acquire(req.ID, path); err != nil {
		return nil, err
	}

	// A previous run may have left a partial file behind; the backend
	// always restarts from zero.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		b.release(path)
		return nil, errdefs.NewTransferError(req.ID, err, "removing stale %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		b.release(path)
		return nil, errdefs.NewTransferError(req.ID, err, "creating staging directory")
	}

	h := &HTTPHandle{
		id:       req.ID,
		source:   req.Source,
		path:     path,
		backend:  b,
		metadata: make(chan struct{}),
		done:     make(chan struct{}),
	}
	h.ctx, h.cancel = context.WithCancelCause(context.WithoutCancel(ctx))

	greq, err := grab.NewRequest(path, req.Source)
	if err != nil {
		h.cancel(nil)
		b.release(path)
		return nil, errdefs.NewConnectError(req.ID, err, "creating request for %s", req.Source)
	}
	greq.NoResume = true
	greq = greq.WithContext(context.WithValue(h.ctx, redirectCounterKey{}, &h.redirects))

	log.Info("http").
		Str("id", req.ID).
		Str("url", req.Source).
		Str("staging_path", path).
		Msg("Starting download")

	go h.run(greq)
	return h, nil
}

func (b *HTTPBackend) acquire(id, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if owner, ok := b.inUse[path]; ok {
		return errdefs.NewDuplicateError(id, "staging path %s in use by %s", path, owner)
	}
	b.inUse[path] = id
	return nil
}

func (b *HTTPBackend) release(path string) {
	b.mu.Lock()
	delete(b.inUse, path)
	b.mu.Unlock()
}

// HTTPHandle is a running grab transfer.
type HTTPHandle struct {
	id      string
	source  string
	path    string
	backend *HTTPBackend

	ctx       context.Context
	cancel    context.CancelCauseFunc
	redirects atomic.Int32

	mu     sync.Mutex
	resp   *grab.Response
	result Result

	metadata  chan struct{}
	done      chan struct{}
	closeMeta sync.Once
	stopOnce  sync.Once
}

func (h *HTTPHandle) Kind() Kind { return KindHTTP }

func (h *HTTPHandle) Metadata() <-chan struct{} { return h.metadata }

func (h *HTTPHandle) Done() <-chan struct{} { return h.done }

// Redirects is the number of redirects followed so far.
func (h *HTTPHandle) Redirects() int { return int(h.redirects.Load()) }

// Path is the staging file.
func (h *HTTPHandle) Path() string { return h.path }

func (h *HTTPHandle) Stats() Progress {
	h.mu.Lock()
	resp := h.resp
	h.mu.Unlock()
	if resp == nil {
		return Progress{}
	}

	p := Progress{
		BytesTransferred: resp.BytesComplete(),
		RateBps:          resp.BytesPerSecond(),
	}
	if size := resp.Size(); size > 0 {
		p.BytesTotal = size
	}
	return p
}

func (h *HTTPHandle) Result() Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

func (h *HTTPHandle) Cancel() error { return h.teardown(true) }

func (h *HTTPHandle) DestroyForPause() error { return h.teardown(false) }

func (h *HTTPHandle) teardown(removeFile bool) error {
	h.stopOnce.Do(func() { h.cancel(context.Canceled) })
	<-h.done

	if !removeFile {
		return nil
	}
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return errdefs.NewTransferError(h.id, err, "removing partial %s", h.path)
	}
	return nil
}

func (h *HTTPHandle) run(req *grab.Request) {
	defer close(h.done)
	defer h.backend.release(h.path)

	// Do returns once response headers are in or the request failed.
	resp := h.backend.client.Do(req)
	h.mu.Lock()
	h.resp = resp
	h.mu.Unlock()

	if resp.HTTPResponse != nil {
		// Only a 200 starts the body transfer; any other status fails the
		// session while it is still connecting.
		if resp.HTTPResponse.StatusCode == http.StatusOK {
			h.closeMeta.Do(func() { close(h.metadata) })
		}
		log.Debug("http").
			Str("id", h.id).
			Int("status", resp.HTTPResponse.StatusCode).
			Int64("size", resp.Size()).
			Int("redirects", h.Redirects()).
			Msg("Response received")
	}

	if h.backend.cfg.StallTimeout > 0 {
		go h.monitorStall(resp)
	}

	<-resp.Done
	err := resp.Err()
	if err == nil && resp.HTTPResponse != nil && resp.HTTPResponse.StatusCode != http.StatusOK {
		err = fmt.Errorf("server returned %s", resp.HTTPResponse.Status)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case err == nil:
		h.result = Result{RootPath: h.path}
		log.Info("http").
			Str("id", h.id).
			Int64("bytes", resp.BytesComplete()).
			Dur("duration", resp.Duration()).
			Msg("Download completed")
	case context.Cause(h.ctx) == errStalled:
		h.result = Result{Err: errdefs.NewTransferError(h.id, errStalled, "downloading %s", h.source)}
	case resp.HTTPResponse == nil:
		h.result = Result{Err: errdefs.NewConnectError(h.id, err, "connecting to %s", h.source)}
	default:
		h.result = Result{Err: errdefs.NewTransferError(h.id, err, "downloading %s", h.source)}
	}
}

// monitorStall cancels the transfer when the byte count stops moving.
func (h *HTTPHandle) monitorStall(resp *grab.Response) {
	timeout := h.backend.cfg.StallTimeout
	ticker := time.NewTicker(timeout / 4)
	defer ticker.Stop()

	lastBytes := resp.BytesComplete()
	lastChange := time.Now()
	for {
		select {
		case <-resp.Done:
			return
		case <-ticker.C:
			if n := resp.BytesComplete(); n != lastBytes {
				lastBytes = n
				lastChange = time.Now()
				continue
			}
			if time.Since(lastChange) >= timeout {
				log.Warn("http").
					Str("id", h.id).
					Int64("bytes", lastBytes).
					Dur("stalled_for", time.Since(lastChange)).
					Msg("Download stalled, aborting")
				h.cancel(errStalled)
				return
			}
		}
	}
}

func checkHTTPSource(source string) error {
	u, err := url.Parse(source)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// stagingComponent maps an id onto a single safe path element.
func stagingComponent(id string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, id)
	if s == "" || s == "." || s == ".." {
		return "_" + s
	}
	return s
}
