package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// SaveOption configures [Response.Save].
type SaveOption func(*saveOpts) error

type saveOpts struct {
	checksum     *checksumVerifier
	skipExisting bool
	logger       *slog.Logger
}

// WithChecksum verifies the written bytes. h is a fresh hash.Hash
// (e.g. sha256.New()) and expected its hex-encoded sum.
func WithChecksum(h hash.Hash, expected string) SaveOption {
	return func(opts *saveOpts) error {
		if h == nil {
			return errors.New("hash must not be nil")
		}
		if expected == "" {
			return errors.New("expected checksum must not be empty")
		}

		opts.checksum = &checksumVerifier{hash: h, expected: expected}
		return nil
	}
}

// WithSkipExisting makes Save a no-op when the destination already exists.
func WithSkipExisting() SaveOption {
	return func(opts *saveOpts) error {
		opts.skipExisting = true
		return nil
	}
}

// WithSaveLogger sets the logger used while saving.
func WithSaveLogger(logger *slog.Logger) SaveOption {
	return func(opts *saveOpts) error {
		opts.logger = logger
		return nil
	}
}

// Save writes the raw body to path. Data goes to a temp file in the same
// directory which is renamed to path on success and removed on failure.
func (r *Response) Save(ctx context.Context, path string, optFns ...SaveOption) error {
	if path == "" {
		return errors.New("path must not be empty")
	}

	opts := saveOpts{logger: slog.Default()}
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return fmt.Errorf("applying save option: %w", err)
		}
	}
	logger := opts.logger

	if opts.skipExisting {
		if _, err := os.Stat(path); err == nil {
			logger.Info("skipping existing file", "path", path)
			return nil
		}
	}

	file, err := os.CreateTemp(filepath.Dir(path), ".unihttp-save-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	var successful bool
	defer func() {
		if err := file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			logger.Error("defer closing temp file", "error", err)
		}
		if !successful {
			if err := os.Remove(file.Name()); err != nil {
				logger.Error("failed to remove temp file", "error", err)
			}
		}
	}()

	var w io.Writer = file
	if opts.checksum != nil {
		w = io.MultiWriter(w, opts.checksum)
	}

	body := &contextReader{ctx: ctx, r: bytes.NewReader(r.Body)}
	if _, err := io.Copy(w, body); err != nil {
		return fmt.Errorf("writing body: %w", err)
	}

	if err := opts.checksum.verify(); err != nil {
		return err
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(file.Name(), path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	successful = true
	logger.Debug("response saved", "path", path, "bytes", len(r.Body))

	return nil
}

type checksumVerifier struct {
	hash     hash.Hash
	expected string
}

func (v *checksumVerifier) Write(p []byte) (int, error) {
	return v.hash.Write(p)
}

func (v *checksumVerifier) verify() error {
	if v == nil {
		return nil
	}

	actual := hex.EncodeToString(v.hash.Sum(nil))
	if actual != v.expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, v.expected, actual)
	}
	return nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
