package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Local stores files under a root directory.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("NewLocal: resolving %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("NewLocal: creating %q: %w", abs, err)
	}
	return &Local{root: abs}, nil
}

func (l *Local) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := l.resolve(key)
	if err != nil {
		return "", fmt.Errorf("Put: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return "", fmt.Errorf("Put: creating directory: %w", err)
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return "", fmt.Errorf("Put: writing %q: %w", p, err)
	}
	return p, nil
}

func (l *Local) Get(ctx context.Context, storagePath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := l.contain(storagePath)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("Get: %s: %w", storagePath, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Get: reading %q: %w", p, err)
	}
	return data, nil
}

// Delete removes the file. A missing file is not an error.
func (l *Local) Delete(ctx context.Context, storagePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := l.contain(storagePath)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("Delete: removing %q: %w", p, err)
	}
	_ = os.Remove(filepath.Dir(p))
	return nil
}

func (l *Local) resolve(key string) (string, error) {
	return l.contain(filepath.Join(l.root, filepath.FromSlash(key)))
}

// contain rejects paths that escape the root directory.
func (l *Local) contain(p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(l.root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(l.root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", fmt.Errorf("path %q is outside %q", p, l.root)
	}
	return p, nil
}
