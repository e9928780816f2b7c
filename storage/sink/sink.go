package sink

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"time"

	"github.com/dchest/uniuri"
	"github.com/rs/zerolog"
)

const (
	suffixLength = 8
	maxAttempts  = 4
	timeLayout   = "20060102_150405"
)

var suffixChars = []byte("abcdefghijklmnopqrstuvwxyz0123456789")

// Sink stores uploaded JSON documents. Each document gets a fresh name, made of the
// upload time and a random suffix, and is created exclusively, so concurrent uploads never
// contend on the same file and an existing file is never overwritten.
type Sink struct {
	root   *os.Root
	prefix string
	now    func() time.Time
	suffix func() string
	log    zerolog.Logger
}

// New opens the directory, creating it if necessary. Names returned by Store are prefixed
// with the prefix, which is the public location of the directory.
func New(dir, prefix string, log zerolog.Logger) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: %w", err)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("sink: %w", err)
	}

	return &Sink{
		root:   root,
		prefix: prefix,
		now:    time.Now,
		suffix: randomSuffix,
		log:    log.With().Str("component", "sink").Logger(),
	}, nil
}

// Store persists the data and returns its path relative to the resources root.
func (s *Sink) Store(data []byte) (string, error) {
	for range maxAttempts {
		name := s.name()
		file, err := s.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		} else if err != nil {
			return "", fmt.Errorf("sink: %w", err)
		}

		n, err := file.Write(data)
		if err == nil && n != len(data) {
			err = fmt.Errorf("sink: %s: short write", name)
		}

		if err = errors.Join(err, file.Close()); err != nil {
			// a half-written document must never become visible
			_ = s.root.Remove(name)
			return "", fmt.Errorf("sink: %w", err)
		}

		s.log.Debug().Str("name", name).Int("bytes", len(data)).Msg("stored")

		return path.Join(s.prefix, name), nil
	}

	return "", fmt.Errorf("sink: no free name after %d attempts: %w", maxAttempts, fs.ErrExist)
}

// Close releases the directory.
func (s *Sink) Close() error {
	return s.root.Close()
}

func (s *Sink) name() string {
	return "upload_" + s.now().UTC().Format(timeLayout) + "_" +
		s.suffix() + ".json"
}

func randomSuffix() string {
	return uniuri.NewLenChars(suffixLength, suffixChars)
}
