package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/elsbrock/gamedl/internal/download"
)

func TestArchiveNameFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://cdn.example.com/builds/Game-1.2.zip", "Game-1.2.zip"},
		{"https://cdn.example.com/builds/Game.zip?token=abc", "Game.zip"},
		{"https://cdn.example.com/", "g1.zip"},
		{"https://cdn.example.com", "g1.zip"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, archiveNameFromURL(tt.url, "g1"), tt.url)
	}
}

func TestFormatProgress(t *testing.T) {
	peers := 3
	line := formatProgress(download.Event{
		Type:             download.EventProgress,
		Status:           download.StatusDownloading,
		Percent:          50,
		BytesTransferred: 500_000,
		BytesTotal:       1_000_000,
		RateBps:          100_000,
		PeerCount:        &peers,
		ETASeconds:       5,
	})
	assert.Contains(t, line, "500kB / 1MB (50.0%)")
	assert.Contains(t, line, "100kB/s")
	assert.Contains(t, line, "3 peers")
	assert.Contains(t, line, "eta 5s")

	line = formatProgress(download.Event{Status: download.StatusConnecting, Indeterminate: true})
	assert.NotContains(t, line, "%")

	assert.Equal(t, "extracting", formatProgress(download.Event{Status: download.StatusExtracting}))
}
