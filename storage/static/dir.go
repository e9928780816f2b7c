package static

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/indigo-web/harbor/http/mime"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
)

// Dir is the static resources collaborator. Every access goes through os.Root, so no name,
// including ones with symlinks, may reach outside the directory.
//
// Static files are considered immutable, however uploads may land inside the directory at
// runtime. Therefore, when watching is enabled, only positive stat results are cached, and a
// filesystem notification on a path drops its entry.
type Dir struct {
	root    *os.Root
	path    string
	cache   *xsync.MapOf[string, fs.FileInfo]
	watcher *fsnotify.Watcher
	log     zerolog.Logger
}

// Open opens the directory, creating it if necessary.
func Open(dir string, watch bool, log zerolog.Logger) (*Dir, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("static: %w", err)
	}

	if err = os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("static: %w", err)
	}

	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("static: %w", err)
	}

	d := &Dir{
		root: root,
		path: abs,
		log:  log.With().Str("component", "static").Logger(),
	}

	if watch {
		if err = d.startWatching(); err != nil {
			// the directory is still perfectly usable, just without the cache
			d.log.Warn().Err(err).Msg("watching disabled")
		}
	}

	return d, nil
}

// Path returns the absolute path of the directory.
func (d *Dir) Path() string {
	return d.path
}

// Stat returns the file info for a slash-separated name relative to the directory.
func (d *Dir) Stat(name string) (fs.FileInfo, error) {
	if d.cache != nil {
		if info, ok := d.cache.Load(name); ok {
			return info, nil
		}
	}

	info, err := d.root.Stat(filepath.FromSlash(name))
	if err != nil {
		return nil, err
	}

	if d.cache != nil {
		d.cache.Store(name, info)
	}

	return info, nil
}

// Exists reports whether a regular file is found by the name.
func (d *Dir) Exists(name string) bool {
	info, err := d.Stat(name)
	return err == nil && info.Mode().IsRegular()
}

// Type returns the media type of the file, if its type is allowed to be served.
func (d *Dir) Type(name string) (mime.MIME, bool) {
	return mime.ByName(path.Base(name))
}

// Open opens a file for reading. The caller must close it.
func (d *Dir) Open(name string) (io.ReadCloser, error) {
	return d.root.Open(filepath.FromSlash(name))
}

// Read returns the whole file contents.
func (d *Dir) Read(name string) ([]byte, error) {
	file, err := d.Open(name)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(file)
	return data, errors.Join(err, file.Close())
}

// Close stops watching and releases the directory.
func (d *Dir) Close() error {
	var err error
	if d.watcher != nil {
		err = d.watcher.Close()
	}

	return errors.Join(err, d.root.Close())
}

func (d *Dir) startWatching() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// fsnotify isn't recursive, so every subdirectory is watched on its own
	err = filepath.WalkDir(d.path, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if entry.IsDir() {
			return watcher.Add(p)
		}

		return nil
	})
	if err != nil {
		_ = watcher.Close()
		return err
	}

	d.watcher = watcher
	d.cache = xsync.NewMapOf[string, fs.FileInfo]()
	go d.watch()

	return nil
}

func (d *Dir) watch() {
	for {
		select {
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			d.invalidate(event)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}

			d.log.Warn().Err(err).Msg("watcher failure")
		}
	}
}

func (d *Dir) invalidate(event fsnotify.Event) {
	rel, err := filepath.Rel(d.path, event.Name)
	if err != nil || !filepath.IsLocal(rel) {
		return
	}

	name := filepath.ToSlash(rel)
	d.cache.Delete(name)
	d.log.Debug().Str("name", name).Str("op", event.Op.String()).Msg("invalidated")

	switch {
	case event.Has(fsnotify.Create):
		if info, err := d.root.Stat(rel); err == nil && info.IsDir() {
			if err = d.watcher.Add(event.Name); err != nil {
				d.log.Warn().Err(err).Str("name", name).Msg("cannot watch new directory")
			}
		}
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		prefix := name + "/"
		d.cache.Range(func(key string, _ fs.FileInfo) bool {
			if strings.HasPrefix(key, prefix) {
				d.cache.Delete(key)
			}

			return true
		})
	}
}
