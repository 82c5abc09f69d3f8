package server

import (
	"time"

	"github.com/elsbrock/gamedl/internal/download"
	"github.com/elsbrock/gamedl/internal/transfer"
)

// downloadRow is one entry of the download listing. Active sessions and
// paused records share the shape so clients can render a single table.
type downloadRow struct {
	ID          string        `json:"id"`
	Kind        transfer.Kind `json:"kind"`
	DisplayName string        `json:"displayName"`
	State       string        `json:"state"`
	// PercentDone is 0..100, or -1 while the size is unknown.
	PercentDone      float64    `json:"percentDone"`
	BytesTransferred int64      `json:"bytesTransferred"`
	BytesTotal       int64      `json:"bytesTotal"`
	LeftUntilDone    int64      `json:"leftUntilDone"`
	RateBps          float64    `json:"rateBps"`
	Peers            *int       `json:"peers,omitempty"`
	ETA              string     `json:"eta,omitempty"`
	ResumeIsExact    *bool      `json:"resumeIsExact,omitempty"`
	PausedAt         *time.Time `json:"pausedAt,omitempty"`
}

func rowFromSession(info download.SessionInfo) downloadRow {
	row := downloadRow{
		ID:               info.Target.ID,
		Kind:             info.Target.Kind,
		DisplayName:      info.Target.Name(),
		State:            info.State.String(),
		PercentDone:      info.Percent(),
		BytesTransferred: info.BytesTransferred,
		BytesTotal:       info.BytesTotal,
		RateBps:          info.RateBps,
	}
	if info.Target.Kind == transfer.KindTorrent {
		peers := info.Peers
		row.Peers = &peers
	}

	// Extraction runs after every byte arrived.
	if info.State == download.StateExtracting {
		row.PercentDone = 100
		return row
	}

	if info.BytesTotal > 0 {
		row.LeftUntilDone = max(info.BytesTotal-info.BytesTransferred, 0)
		if info.RateBps > 0 && row.LeftUntilDone > 0 {
			eta := time.Duration(float64(row.LeftUntilDone) / info.RateBps * float64(time.Second))
			row.ETA = download.FormatETA(eta)
		}
	}
	return row
}

// rowFromPauseRecord renders a paused download. When the backend restarts
// from zero the stored byte counts are shown but the remaining work is the
// whole download.
func rowFromPauseRecord(rec download.PauseRecord, exact bool) downloadRow {
	pausedAt := rec.PausedAt
	row := downloadRow{
		ID:               rec.Target.ID,
		Kind:             rec.Target.Kind,
		DisplayName:      rec.Target.Name(),
		State:            download.StatePaused.String(),
		PercentDone:      -1,
		BytesTransferred: rec.BytesTransferred,
		BytesTotal:       rec.BytesTotal,
		ResumeIsExact:    &exact,
		PausedAt:         &pausedAt,
	}
	if rec.BytesTotal > 0 {
		row.PercentDone = min(float64(rec.BytesTransferred)/float64(rec.BytesTotal)*100, 100)
		row.LeftUntilDone = rec.BytesTotal
		if exact {
			row.LeftUntilDone = max(rec.BytesTotal-rec.BytesTransferred, 0)
		}
	}
	return row
}
