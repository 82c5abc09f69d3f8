// Package install unpacks downloaded archives and finds the game executable
// inside an installed folder.
package install

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/elsbrock/gamedl/internal/errdefs"
	"github.com/elsbrock/gamedl/internal/log"
)

// DefaultExtensions are the file extensions treated as entry points.
var DefaultExtensions = []string{".exe"}

// helperMarkers exclude installers and redistributables that ship next to
// the real executable.
var helperMarkers = []string{"uninstall", "redist", "vcredist", "dxsetup"}

// Installer extracts archives and locates entry points.
type Installer struct {
	extensions []string
}

// New creates an installer matching the given extensions (case-insensitive,
// with leading dot). An empty list uses DefaultExtensions.
func New(extensions []string) *Installer {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	exts := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	return &Installer{extensions: exts}
}

// LocateEntryPoint walks folder depth-first in lexicographic order and
// returns the first file that looks like the game executable. A missing
// folder is reported as not found, not as an error.
func (i *Installer) LocateEntryPoint(folder string) (string, bool, error) {
	if _, err := os.Stat(folder); err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("stat %s: %w", folder, err)
	}

	var found string
	err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			log.Debug("install").
				Str("path", path).
				Err(err).
				Msg("Skipping unreadable path")
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if i.isEntryPoint(d.Name()) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("walking %s: %w", folder, err)
	}
	return found, found != "", nil
}

func (i *Installer) isEntryPoint(name string) bool {
	lower := strings.ToLower(name)
	matched := false
	for _, ext := range i.extensions {
		if strings.HasSuffix(lower, ext) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, marker := range helperMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}

// Extract unpacks the zip archive into dest, overwriting existing files, and
// deletes the archive on success. Failures leave already extracted files in
// place.
func (i *Installer) Extract(archivePath, dest string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return errdefs.NewExtractError(archivePath, err)
	}
	defer reader.Close()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return errdefs.NewExtractError(archivePath, err)
	}
	root, err := filepath.Abs(dest)
	if err != nil {
		return errdefs.NewExtractError(archivePath, err)
	}

	log.Info("install").
		Str("archive", archivePath).
		Str("destination", dest).
		Int("entries", len(reader.File)).
		Msg("Extracting archive")

	for _, file := range reader.File {
		if err := extractFile(file, root); err != nil {
			return errdefs.NewExtractError(archivePath, err)
		}
	}

	// Close before removing; Windows refuses to delete open files.
	reader.Close()
	if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
		return errdefs.NewExtractError(archivePath, fmt.Errorf("removing archive: %w", err))
	}

	log.Info("install").
		Str("destination", dest).
		Msg("Archive extracted")
	return nil
}

var errEscapesDestination = errors.New("entry escapes destination")

func extractFile(file *zip.File, root string) error {
	path := filepath.Join(root, filepath.FromSlash(file.Name))
	if path != root && !strings.HasPrefix(path, root+string(os.PathSeparator)) {
		return fmt.Errorf("%s: %w", file.Name, errEscapesDestination)
	}

	if file.FileInfo().IsDir() {
		return os.MkdirAll(path, 0755)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("%s: %w", file.Name, err)
	}
	defer src.Close()

	mode := file.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode|0200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("%s: %w", file.Name, err)
	}
	return dst.Close()
}

// Installation reports whether a game folder holds a runnable game.
type Installation struct {
	Installed  bool   `json:"installed"`
	Path       string `json:"path,omitempty"`
	RootFolder string `json:"rootFolder"`
}

// CheckInstalled looks for exeName inside folder, or for any entry point
// when exeName is empty. A folder without an entry point still counts as
// installed when exeName is empty and the folder exists.
func (i *Installer) CheckInstalled(folder, exeName string) (Installation, error) {
	inst := Installation{RootFolder: folder}
	if exeName != "" {
		inst.Path = filepath.Join(folder, exeName)
		_, err := os.Stat(inst.Path)
		switch {
		case err == nil:
			inst.Installed = true
		case !os.IsNotExist(err):
			return inst, err
		}
		return inst, nil
	}

	path, ok, err := i.LocateEntryPoint(folder)
	if err != nil {
		return inst, err
	}
	if ok {
		inst.Path = path
		inst.Installed = true
		return inst, nil
	}
	if _, err := os.Stat(folder); err == nil {
		inst.Installed = true
	}
	return inst, nil
}

// Uninstall removes an installed game folder. A missing folder yields a
// NotFound error.
func Uninstall(folder string) error {
	if _, err := os.Stat(folder); err != nil {
		if os.IsNotExist(err) {
			return errdefs.NewNotFoundError(folder)
		}
		return err
	}
	if err := os.RemoveAll(folder); err != nil {
		return fmt.Errorf("removing %s: %w", folder, err)
	}
	log.Info("install").
		Str("folder", folder).
		Msg("Game uninstalled")
	return nil
}
