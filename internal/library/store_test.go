package library

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/elsbrock/gamedl/internal/download"
	"github.com/elsbrock/gamedl/internal/errdefs"
	"github.com/elsbrock/gamedl/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func httpTarget(id string) download.Target {
	return download.Target{
		ID:                id,
		Kind:              transfer.KindHTTP,
		Source:            "https://example.com/" + id + ".zip",
		DestinationFolder: "/games/" + id,
		DisplayName:       "Game " + id,
		ArchiveFileName:   id + ".zip",
	}
}

func TestGames(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	installed := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, s.UpsertGame(ctx, Game{ID: "b", Kind: transfer.KindTorrent, RootFolder: "/games/b", InstalledAt: installed}))
	require.NoError(t, s.UpsertGame(ctx, Game{ID: "a", Kind: transfer.KindHTTP, RootFolder: "/games/a", InstalledPath: "/games/a/A.exe"}))

	g, err := s.Game(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "/games/b", g.RootFolder)
	assert.True(t, g.InstalledAt.Equal(installed))

	// Upsert replaces.
	require.NoError(t, s.UpsertGame(ctx, Game{ID: "b", Kind: transfer.KindTorrent, RootFolder: "/games/b", InstalledPath: "/games/b/B.exe"}))
	g, err = s.Game(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "/games/b/B.exe", g.InstalledPath)

	games, err := s.Games(ctx)
	require.NoError(t, err)
	require.Len(t, games, 2)
	assert.Equal(t, "a", games[0].ID)
	assert.Equal(t, "b", games[1].ID)

	require.NoError(t, s.DeleteGame(ctx, "a"))
	assert.True(t, errdefs.Is(s.DeleteGame(ctx, "a"), errdefs.KindNotFound))
	_, err = s.Game(ctx, "a")
	assert.True(t, errdefs.Is(err, errdefs.KindNotFound))
}

func TestDownloads(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SaveDownload(ctx, httpTarget("g1")))
	require.NoError(t, s.UpdateDownloadProgress(ctx, "g1", StatusPaused, 40, 400, 1000))
	// Updates for untracked ids are ignored.
	require.NoError(t, s.UpdateDownloadProgress(ctx, "ghost", StatusDownloading, 1, 1, 100))

	d, err := s.Download(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, httpTarget("g1"), d.Target)
	assert.Equal(t, StatusPaused, d.Status)
	assert.Equal(t, int64(400), d.BytesTransferred)

	records, err := s.PausedDownloads(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, httpTarget("g1"), records[0].Target)
	assert.Equal(t, int64(1000), records[0].BytesTotal)

	// Saving again resets the counters.
	require.NoError(t, s.SaveDownload(ctx, httpTarget("g1")))
	d, err = s.Download(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, StatusDownloading, d.Status)
	assert.Zero(t, d.BytesTransferred)

	require.NoError(t, s.DeleteDownload(ctx, "g1"))
	_, err = s.Download(ctx, "g1")
	assert.True(t, errdefs.Is(err, errdefs.KindNotFound))
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "library.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveDownload(ctx, httpTarget("g1")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	records, err := s.PausedDownloads(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
