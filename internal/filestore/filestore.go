// Package filestore keeps uploaded document bytes on local disk or in a
// Google Cloud Storage bucket.
package filestore

import (
	"context"
	"errors"
	"path"
	"strings"
)

// ErrNotFound is returned when a stored file does not exist.
var ErrNotFound = errors.New("file not found")

// FileStore stores and fetches uploaded files. Put returns the storage path
// recorded on the document; Get and Delete accept that path.
type FileStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, storagePath string) ([]byte, error)
	Delete(ctx context.Context, storagePath string) error
}

// ObjectKey builds the storage key of an uploaded document.
func ObjectKey(documentID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return "documents/" + documentID + "/" + name
}
