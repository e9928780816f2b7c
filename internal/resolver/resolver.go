package resolver

import (
	"errors"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/indigo-web/harbor/http/mime"
	"github.com/indigo-web/harbor/http/status"
	"github.com/indigo-web/harbor/internal/uridecode"
)

// Source is the static resources collaborator. Names are slash-separated and relative to
// the resources root.
type Source interface {
	Stat(name string) (fs.FileInfo, error)
	Type(name string) (mime.MIME, bool)
	Open(name string) (io.ReadCloser, error)
}

// Path is a request path that passed the traversal checks. It can be constructed only by
// Resolver.Clean, so holding one guarantees the name stays within the resources root.
type Path struct {
	name string
}

// Name returns the slash-separated name relative to the resources root.
func (p Path) Name() string {
	return p.name
}

// Resource is a resolved static file.
type Resource struct {
	Path        Path
	Size        int64
	ContentType mime.MIME
}

type Resolver struct {
	source Source
	index  string
}

func New(source Source, index string) *Resolver {
	return &Resolver{
		source: source,
		index:  strings.TrimPrefix(path.Clean("/"+index), "/"),
	}
}

// Resolve maps the raw request target onto a static file. Checks are made in the fixed
// order: path safety (403), existence (404), type (415). The first failing check wins.
func (r *Resolver) Resolve(target string) (Resource, error) {
	p, err := r.Clean(target)
	if err != nil {
		return Resource{}, err
	}

	info, err := r.source.Stat(p.name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Resource{}, status.ErrNotFound
	case err != nil:
		// the root refuses names escaping it (e.g. via symlinks) with a non-NotExist error
		return Resource{}, status.ErrForbidden
	case info.IsDir():
		return Resource{}, status.ErrForbidden
	case !info.Mode().IsRegular():
		return Resource{}, status.ErrNotFound
	}

	contentType, allowed := r.source.Type(p.name)
	if !allowed {
		return Resource{}, status.ErrUnsupportedMediaType
	}

	return Resource{
		Path:        p,
		Size:        info.Size(),
		ContentType: contentType,
	}, nil
}

// Open opens the resolved resource for reading.
func (r *Resolver) Open(resource Resource) (io.ReadCloser, error) {
	return r.source.Open(resource.Path.name)
}

// Clean normalizes the request target. Query is dropped, percent-encoding is decoded once.
// Targets containing dot-dot segments (also encoded ones), backslashes, NUL bytes, nested
// escapes or starting with double slash are rejected with status.ErrForbidden regardless
// of whether the file exists. Empty path and / are mapped onto the index.
func (r *Resolver) Clean(target string) (Path, error) {
	target, _, _ = strings.Cut(target, "?")

	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return Path{}, status.ErrForbidden
	}

	decoded, err := uridecode.Decode(target)
	if err != nil {
		return Path{}, status.ErrForbidden
	}

	// a decoded string that still contains escapes was encoded multiple times, which is
	// a common way to smuggle traversals through naive filters
	if strings.ContainsAny(decoded, "\\\x00%") {
		return Path{}, status.ErrForbidden
	}

	for _, segment := range strings.Split(decoded, "/") {
		if segment == ".." {
			return Path{}, status.ErrForbidden
		}
	}

	name := strings.TrimPrefix(path.Clean(decoded), "/")
	if len(name) == 0 {
		name = r.index
	}

	if !fs.ValidPath(name) {
		return Path{}, status.ErrForbidden
	}

	return Path{name: name}, nil
}
