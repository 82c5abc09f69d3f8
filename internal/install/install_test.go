package install

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/elsbrock/gamedl/internal/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeZip builds an archive with the given name -> content entries. Names
// ending in "/" become directories.
func writeZip(t *testing.T, path string, entries map[string]string, order []string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		if content, ok := entries[name]; ok {
			_, err = w.Write([]byte(content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("MZ"), 0644))
}

func TestLocateEntryPoint(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  string
	}{
		{name: "single exe", files: []string{"Game.exe"}, want: "Game.exe"},
		{name: "empty folder", files: nil, want: ""},
		{name: "skips helpers", files: []string{"a_uninstall.exe", "DXSETUP.exe", "redist/vcredist_x64.exe", "zz/Game.exe"}, want: "zz/Game.exe"},
		{name: "case-insensitive extension", files: []string{"readme.txt", "GAME.EXE"}, want: "GAME.EXE"},
		{name: "lexicographic depth-first", files: []string{"b/Game.exe", "a/sub/Launcher.exe", "c.exe"}, want: "a/sub/Launcher.exe"},
		{name: "uninstaller only", files: []string{"Uninstall.exe"}, want: ""},
	}

	inst := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, f := range tt.files {
				touch(t, filepath.Join(dir, filepath.FromSlash(f)))
			}

			path, ok, err := inst.LocateEntryPoint(dir)
			require.NoError(t, err)
			if tt.want == "" {
				assert.False(t, ok)
				assert.Empty(t, path)
				return
			}
			assert.True(t, ok)
			assert.Equal(t, filepath.Join(dir, filepath.FromSlash(tt.want)), path)
		})
	}
}

func TestLocateEntryPointMissingFolder(t *testing.T) {
	path, ok, err := New(nil).LocateEntryPoint(filepath.Join(t.TempDir(), "nope"))
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, path)
}

func TestLocateEntryPointCustomExtensions(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "game.exe"))
	touch(t, filepath.Join(dir, "bin", "game.sh"))

	path, ok, err := New([]string{"sh"}).LocateEntryPoint(dir)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "bin", "game.sh"), path)
}

func TestExtract(t *testing.T) {
	tmp := t.TempDir()
	archive := filepath.Join(tmp, "g.zip")
	writeZip(t, archive, map[string]string{
		"Game/Game.exe":        "MZ",
		"Game/data/level1.pak": "level",
	}, []string{"Game/", "Game/Game.exe", "Game/data/level1.pak"})

	dest := filepath.Join(tmp, "games", "G3")
	// Existing files are overwritten.
	touch(t, filepath.Join(dest, "Game", "Game.exe"))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "Game", "Game.exe"), []byte("old"), 0644))

	inst := New(nil)
	require.NoError(t, inst.Extract(archive, dest))

	got, err := os.ReadFile(filepath.Join(dest, "Game", "Game.exe"))
	require.NoError(t, err)
	assert.Equal(t, "MZ", string(got))

	got, err = os.ReadFile(filepath.Join(dest, "Game", "data", "level1.pak"))
	require.NoError(t, err)
	assert.Equal(t, "level", string(got))

	_, err = os.Stat(archive)
	assert.True(t, os.IsNotExist(err), "archive removed after extraction")

	path, ok, err := inst.LocateEntryPoint(dest)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(dest, "Game", "Game.exe"), path)
}

func TestExtractRejectsEscapingEntries(t *testing.T) {
	tmp := t.TempDir()
	archive := filepath.Join(tmp, "evil.zip")
	writeZip(t, archive, map[string]string{
		"ok.txt":        "fine",
		"../escaped.sh": "nope",
	}, []string{"ok.txt", "../escaped.sh"})

	dest := filepath.Join(tmp, "dest")
	err := New(nil).Extract(archive, dest)
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindExtract))
	assert.ErrorIs(t, err, errEscapesDestination)

	_, err = os.Stat(filepath.Join(tmp, "escaped.sh"))
	assert.True(t, os.IsNotExist(err))

	// Partial results and the archive stay behind.
	_, err = os.Stat(filepath.Join(dest, "ok.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(archive)
	assert.NoError(t, err)
}

func TestExtractCorruptArchive(t *testing.T) {
	tmp := t.TempDir()
	archive := filepath.Join(tmp, "broken.zip")
	require.NoError(t, os.WriteFile(archive, []byte("definitely not a zip"), 0644))

	err := New(nil).Extract(archive, filepath.Join(tmp, "dest"))
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindExtract))
}

func TestCheckInstalled(t *testing.T) {
	dir := t.TempDir()
	inst := New(nil)

	got, err := inst.CheckInstalled(filepath.Join(dir, "missing"), "")
	require.NoError(t, err)
	assert.False(t, got.Installed)

	touch(t, filepath.Join(dir, "G1", "bin", "Game.exe"))

	got, err = inst.CheckInstalled(filepath.Join(dir, "G1"), "")
	require.NoError(t, err)
	assert.True(t, got.Installed)
	assert.Equal(t, filepath.Join(dir, "G1", "bin", "Game.exe"), got.Path)

	got, err = inst.CheckInstalled(filepath.Join(dir, "G1"), "Other.exe")
	require.NoError(t, err)
	assert.False(t, got.Installed)

	got, err = inst.CheckInstalled(filepath.Join(dir, "G1"), filepath.Join("bin", "Game.exe"))
	require.NoError(t, err)
	assert.True(t, got.Installed)
}

func TestUninstall(t *testing.T) {
	dir := t.TempDir()
	folder := filepath.Join(dir, "G1")
	touch(t, filepath.Join(folder, "Game.exe"))

	require.NoError(t, Uninstall(folder))
	_, err := os.Stat(folder)
	assert.True(t, os.IsNotExist(err))

	err = Uninstall(folder)
	assert.True(t, errdefs.Is(err, errdefs.KindNotFound))
}
