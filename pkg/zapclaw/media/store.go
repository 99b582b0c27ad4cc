// Package media stores voice-note audio on the local filesystem, addressed by
// the id of the message that carried it.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrTooLarge is returned when a blob exceeds the configured size cap.
var ErrTooLarge = errors.New("blob exceeds maximum size")

// Key addresses a stored blob.
type Key struct {
	MessageID string
	Ext       string
}

// Filename returns the on-disk name, e.g. "M1.ogg".
func (k Key) Filename() string {
	id := sanitizeID(k.MessageID)
	if k.Ext == "" {
		return id
	}
	return id + "." + strings.TrimPrefix(k.Ext, ".")
}

// KeyFor builds the key for a message id and its MIME type.
func KeyFor(messageID, mimeType string) Key {
	return Key{MessageID: messageID, Ext: ExtensionFromMIME(mimeType)}
}

// StoreConfig configures FileSystemStore.
type StoreConfig struct {
	// Dir is where blobs are written.
	Dir string `yaml:"dir"`

	// MaxFileSize is the largest blob accepted, in bytes. 0 = 32MB.
	MaxFileSize int64 `yaml:"max_file_size"`
}

// FileSystemStore keeps one file per blob in a flat directory.
type FileSystemStore struct {
	config StoreConfig
	logger *slog.Logger
}

// NewFileSystemStore creates a filesystem-backed blob store.
func NewFileSystemStore(cfg StoreConfig, logger *slog.Logger) *FileSystemStore {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 32 * 1024 * 1024
	}
	return &FileSystemStore{
		config: cfg,
		logger: logger.With("component", "media-store"),
	}
}

// Dir returns the storage directory.
func (s *FileSystemStore) Dir() string { return s.config.Dir }

// EnsureDir creates the storage directory if it doesn't exist.
func (s *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(s.config.Dir, 0o700); err != nil {
		return fmt.Errorf("creating directory %s: %w", s.config.Dir, err)
	}
	return nil
}

// Path returns the absolute-or-relative file path for key.
func (s *FileSystemStore) Path(key Key) string {
	return filepath.Join(s.config.Dir, key.Filename())
}

// Write stores data under key. The file appears atomically: data goes to a
// temporary file first and is renamed into place.
func (s *FileSystemStore) Write(ctx context.Context, key Key, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key.MessageID == "" {
		return errors.New("message id is required")
	}
	if len(data) == 0 {
		return errors.New("no data provided")
	}
	if int64(len(data)) > s.config.MaxFileSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(data), s.config.MaxFileSize)
	}

	if err := s.EnsureDir(); err != nil {
		return err
	}

	tmp := filepath.Join(s.config.Dir, ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	path := s.Path(key)
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("moving blob into place: %w", err)
	}

	s.logger.Debug("blob saved", "file", key.Filename(), "size", len(data))
	return nil
}

// Read returns the blob for key. A missing blob is reported as
// (nil, false, nil), not as an error.
func (s *FileSystemStore) Read(ctx context.Context, key Key) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading blob: %w", err)
	}
	return data, true, nil
}

// Exists reports whether a blob is stored under key.
func (s *FileSystemStore) Exists(key Key) bool {
	info, err := os.Stat(s.Path(key))
	return err == nil && !info.IsDir()
}

// PurgeOlderThan removes blobs whose modification time is older than age.
// Returns how many files were deleted.
func (s *FileSystemStore) PurgeOlderThan(ctx context.Context, age time.Duration) (int, error) {
	entries, err := os.ReadDir(s.config.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading media directory: %w", err)
	}

	cutoff := time.Now().Add(-age)
	count := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return count, ctx.Err()
		}
		if entry.IsDir() || !isAudioBlob(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.config.Dir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to delete blob", "path", path, "error", err)
			continue
		}
		count++
	}

	if count > 0 {
		s.logger.Info("old blobs purged", "count", count, "older_than", age)
	}
	return count, nil
}

// isAudioBlob limits purging to files this store writes. The directory may be
// shared with other data (the default is the working directory).
func isAudioBlob(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ogg", ".mp3", ".m4a", ".wav", ".weba", ".amr", ".oga", ".opus":
		return true
	}
	return false
}

// sanitizeID keeps message ids from escaping the storage directory.
func sanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() > 200 {
		return b.String()[:200]
	}
	return b.String()
}
