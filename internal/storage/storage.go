package storage

import (
	"context"
	"io"
	"time"

	"github.com/styryl1/invoicecore/internal"
)

// Storage defines the interface for invoice document storage.
// Providers that return PDF or UBL bytes (rather than hosted links) get
// their documents parked here; the stored URL is what the invoice row
// carries from then on.
type Storage interface {
	// Put stores a document and returns its URL/path for retrieval.
	// The key should be a unique identifier (e.g., "invoices/uuid/invoice.pdf").
	Put(ctx context.Context, key string, content io.Reader, contentType string) (string, error)

	// Get retrieves a document by its key.
	// Returns an io.ReadCloser that must be closed by the caller.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes a document by its key.
	// Returns nil if the document doesn't exist (idempotent).
	Delete(ctx context.Context, key string) error

	// URL returns the public URL for accessing a stored document.
	URL(key string) string

	// SignedURL returns a time-limited download URL. Local storage has no
	// signing and falls back to the plain URL.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Exists checks if a document exists at the given key.
	Exists(ctx context.Context, key string) (bool, error)
}

// NewStorage creates a Storage implementation based on configuration.
// Returns LocalStorage for "local" provider, R2Storage for "r2" provider.
func NewStorage(cfg internal.StorageConfig) (Storage, error) {
	switch cfg.Provider {
	case "local", "":
		return NewLocalStorage(cfg.LocalPath, cfg.LocalURL)
	case "r2":
		return NewR2Storage(R2Config{
			AccountID:   cfg.R2AccountID,
			AccessKeyID: cfg.R2AccessKeyID,
			SecretKey:   cfg.R2SecretKey,
			BucketName:  cfg.R2BucketName,
			PublicURL:   cfg.R2PublicURL,
		})
	default:
		return nil, ErrUnknownProvider(cfg.Provider)
	}
}
