package download

import (
	"strings"
	"time"

	"github.com/elsbrock/gamedl/internal/transfer"
)

// Target is what the user asked to download.
type Target struct {
	ID                string        `json:"id" validate:"required"`
	Kind              transfer.Kind `json:"kind" validate:"required,oneof=torrent http"`
	Source            string        `json:"source" validate:"required"`
	DestinationFolder string        `json:"destinationFolder" validate:"required,abspath"`
	DisplayName       string        `json:"displayName,omitempty"`
	// ArchiveFileName names the staged archive for http downloads.
	ArchiveFileName string `json:"archiveFileName,omitempty" validate:"required_if=Kind http,basename"`
}

// Name is the display name, falling back to the id.
func (t Target) Name() string {
	if t.DisplayName != "" {
		return t.DisplayName
	}
	return t.ID
}

// State is the lifecycle state of a session.
type State int32

const (
	StateConnecting State = iota
	StateDownloading
	StatePaused
	StateExtracting
	StateCompleted
	StateFailed
	StateCancelled
)

// String returns a string representation of the session state
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateDownloading:
		return "Downloading"
	case StatePaused:
		return "Paused"
	case StateExtracting:
		return "Extracting"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	case StateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// status maps a live state onto the status carried by progress events.
func (s State) status() Status {
	switch s {
	case StateDownloading:
		return StatusDownloading
	case StateExtracting:
		return StatusExtracting
	default:
		return StatusConnecting
	}
}

// PauseRecord is everything needed to resume a paused download.
type PauseRecord struct {
	Target           Target    `json:"target"`
	BytesTransferred int64     `json:"bytesTransferred"`
	BytesTotal       int64     `json:"bytesTotal"`
	PausedAt         time.Time `json:"pausedAt"`

	// settled is closed once the session that wrote the record has exited.
	settled <-chan struct{}
}

// SessionInfo is a snapshot of an active session.
type SessionInfo struct {
	Target           Target    `json:"target"`
	State            State     `json:"state"`
	BytesTransferred int64     `json:"bytesTransferred"`
	BytesTotal       int64     `json:"bytesTotal"`
	RateBps          float64   `json:"rateBps"`
	Peers            int       `json:"peers"`
	StartedAt        time.Time `json:"startedAt"`
}

// Percent is the completion percentage, or -1 while the size is unknown.
func (i SessionInfo) Percent() float64 {
	if i.BytesTotal <= 0 {
		return -1
	}
	return percentOf(i.BytesTransferred, i.BytesTotal)
}

func percentOf(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(done) / float64(total) * 100
	if p > 100 {
		p = 100
	}
	return p
}
