// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

// Package artifact stores uploaded files in a local directory.
package artifact

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fittrack/fittrack/pkg/errutil"
)

// Accepted upload content types and the extension each is stored under.
var contentTypes = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpeg",
	"image/jpg":  "jpg",
}

// ExtensionFor returns the file extension for an accepted content type.
func ExtensionFor(contentType string) (string, error) {
	ext, ok := contentTypes[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return "", oops.Code(errutil.CodeValidation).
			With("content_type", contentType).
			Errorf("unsupported image type %q", contentType)
	}
	return ext, nil
}

// LocalStore writes artifacts under one directory. Paths it returns are
// that directory joined with a generated file name.
type LocalStore struct {
	dir      string
	maxBytes int64
}

// NewLocalStore creates dir if needed. maxBytes <= 0 disables the size limit.
func NewLocalStore(dir string, maxBytes int64) (*LocalStore, error) {
	if dir == "" {
		return nil, oops.Code(errutil.CodeValidation).Errorf("upload directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, oops.Code(errutil.CodeStorage).With("dir", dir).Wrap(err)
	}
	return &LocalStore{dir: filepath.Clean(dir), maxBytes: maxBytes}, nil
}

// Dir returns the storage directory.
func (s *LocalStore) Dir() string {
	return s.dir
}

// Write stores r under a fresh name with extension ext and returns its path.
// Nothing is left behind if the write fails.
func (s *LocalStore) Write(ctx context.Context, ext string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", oops.Code(errutil.CodeStorage).Wrap(err)
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", oops.Code(errutil.CodeStorage).With("operation", "create temp file").Wrap(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmp.Name())
		}
	}()

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, err := io.Copy(tmp, src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", oops.Code(errutil.CodeStorage).With("operation", "write artifact").Wrap(err)
	}
	if s.maxBytes > 0 && n > s.maxBytes {
		return "", oops.Code(errutil.CodeValidation).
			With("max_bytes", s.maxBytes).
			Errorf("upload exceeds %d bytes", s.maxBytes)
	}

	path := filepath.Join(s.dir, ulid.Make().String()+"."+ext)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", oops.Code(errutil.CodeStorage).With("operation", "publish artifact").Wrap(err)
	}
	committed = true
	return path, nil
}

// Remove deletes the artifact at path. Paths outside the directory are
// rejected. Removing a missing file succeeds.
func (s *LocalStore) Remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return oops.Code(errutil.CodeStorage).With("path", path).Wrap(err)
	}
	clean, err := s.confine(path)
	if err != nil {
		return err
	}
	if err := os.Remove(clean); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return oops.Code(errutil.CodeStorage).With("path", path).Wrap(err)
	}
	return nil
}

func (s *LocalStore) confine(path string) (string, error) {
	clean := filepath.Clean(path)
	rel, err := filepath.Rel(s.dir, clean)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", oops.Code(errutil.CodeValidation).
			With("path", path).
			Errorf("artifact path is outside the upload directory")
	}
	return clean, nil
}
