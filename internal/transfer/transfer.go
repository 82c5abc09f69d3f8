// Package transfer hides swarm and HTTP transport behind a single contract.
//
// A Backend starts transfers and returns a Handle. The handle is owned by
// exactly one caller, which polls Stats while bytes move, waits on Metadata
// and Done, and releases it with Cancel or DestroyForPause. Both teardown
// methods block until the underlying transfer is gone; no state changes are
// observable on the handle after they return.
package transfer

import (
	"context"
	"fmt"
)

// Kind identifies a transfer mechanism.
type Kind string

const (
	KindTorrent Kind = "torrent"
	KindHTTP    Kind = "http"
)

// ParseKind validates a user supplied kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindTorrent, KindHTTP:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown transfer kind %q", s)
	}
}

// Request describes one transfer.
type Request struct {
	// ID is the caller's id for the logical download, used for logging and
	// staging paths.
	ID string
	// Source is a magnet URI or an http(s) URL.
	Source string
	// Destination is the folder content lands in.
	Destination string
	// FileName is the staging file name (http only).
	FileName string
}

// Progress is a point-in-time view of a running transfer.
type Progress struct {
	BytesTransferred int64
	// BytesTotal is 0 while the size is unknown.
	BytesTotal int64
	RateBps    float64
	// Peers is the connected peer count; always 0 for http.
	Peers int
}

// Result is the terminal outcome of a transfer.
type Result struct {
	// RootPath is the downloaded content: the staged archive for http, the
	// destination folder for torrents.
	RootPath string
	Err      error
}

// Handle is one running transfer. The two implementations are *HTTPHandle
// and *TorrentHandle.
type Handle interface {
	Kind() Kind
	// Stats samples progress. It is cheap and may be called repeatedly.
	Stats() Progress
	// Metadata is closed once the total size is known (or, for http, once
	// response headers arrived).
	Metadata() <-chan struct{}
	// Done is closed exactly once when the transfer ends.
	Done() <-chan struct{}
	// Result is valid after Done is closed.
	Result() Result
	// Cancel tears the transfer down and discards partial data where the
	// backend cannot resume. It is idempotent and is also used to release a
	// finished handle.
	Cancel() error
	// DestroyForPause tears the transfer down but leaves bytes on disk.
	DestroyForPause() error
}

// Backend starts transfers of one kind.
type Backend interface {
	Kind() Kind
	// ResumeIsExact reports whether a paused transfer continues from the bytes
	// already on disk (true) or restarts from zero (false).
	ResumeIsExact() bool
	// Start begins a transfer. It fails with a Connect error when the source
	// cannot be parsed and with a Duplicate error when the destination is in
	// use by another handle.
	Start(ctx context.Context, req Request) (Handle, error)
}

// RateLimiter controls the process-wide download rate.
type RateLimiter interface {
	// SetDownloadRateLimit applies bytesPerSecond to all running transfers;
	// values <= 0 remove the limit.
	SetDownloadRateLimit(bytesPerSecond int64)
	DownloadRateLimit() int64
}
