// Package objstore persists receipt images so they can be re-examined
// after extraction. The filesystem implementation is the only variant;
// the interface keeps the door open for a bucket-backed one.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

var ErrNotFound = errors.New("object not found")

type Store interface {
	// Put stores data under a per-user key and returns a stable
	// reference usable with Get and Delete.
	Put(ctx context.Context, userID int64, key string, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
	Exists(ctx context.Context, ref string) (bool, error)
}

type fsStore struct {
	root   string
	logger *slog.Logger
}

// NewFSStore keeps objects under root, one directory per user.
func NewFSStore(root string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create object root: %w", err)
	}
	return &fsStore{root: root, logger: logger}, nil
}

func (s *fsStore) Put(_ context.Context, userID int64, key string, data []byte) (string, error) {
	dir := filepath.Join(s.root, strconv.FormatInt(userID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create user dir: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(key))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	s.logger.Debug("objstore.put", "ref", path, "bytes", len(data))
	return path, nil
}

func (s *fsStore) Get(_ context.Context, ref string) ([]byte, error) {
	data, err := os.ReadFile(ref)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *fsStore) Delete(_ context.Context, ref string) error {
	err := os.Remove(ref)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

func (s *fsStore) Exists(_ context.Context, ref string) (bool, error) {
	_, err := os.Stat(ref)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
