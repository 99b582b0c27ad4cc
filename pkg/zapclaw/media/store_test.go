package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExtensionFromMIME(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"audio/ogg; codecs=opus", "ogg"},
		{"audio/ogg", "ogg"},
		{"AUDIO/MPEG", "mp3"},
		{"audio/mp4", "m4a"},
		{"image/jpeg", "jpg"},
		{"application/x-unknown-thing", "bin"},
		{"", "bin"},
	}
	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			if got := ExtensionFromMIME(tt.mime); got != tt.want {
				t.Errorf("ExtensionFromMIME(%q) = %q, want %q", tt.mime, got, tt.want)
			}
		})
	}
}

func TestKey_Filename(t *testing.T) {
	tests := []struct {
		key  Key
		want string
	}{
		{Key{MessageID: "M1", Ext: "ogg"}, "M1.ogg"},
		{Key{MessageID: "M1", Ext: ".ogg"}, "M1.ogg"},
		{Key{MessageID: "3EB0ABC"}, "3EB0ABC"},
		{Key{MessageID: "../../etc/passwd", Ext: "ogg"}, "______etc_passwd.ogg"},
	}
	for _, tt := range tests {
		if got := tt.key.Filename(); got != tt.want {
			t.Errorf("%+v: got %q, want %q", tt.key, got, tt.want)
		}
	}

	if got := KeyFor("M1", "audio/ogg; codecs=opus").Filename(); got != "M1.ogg" {
		t.Errorf("KeyFor: got %q", got)
	}
}

func TestFileSystemStore_WriteRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audio")
	store := NewFileSystemStore(StoreConfig{Dir: dir, MaxFileSize: 1024}, nil)
	ctx := context.Background()
	key := Key{MessageID: "M1", Ext: "ogg"}

	t.Run("absent blob is not an error", func(t *testing.T) {
		data, ok, err := store.Read(ctx, key)
		if err != nil || ok || data != nil {
			t.Errorf("expected (nil, false, nil), got (%v, %v, %v)", data, ok, err)
		}
		if store.Exists(key) {
			t.Error("Exists should be false")
		}
	})

	t.Run("write then read", func(t *testing.T) {
		if err := store.Write(ctx, key, []byte("opus-bytes")); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "M1.ogg")); err != nil {
			t.Fatalf("expected M1.ogg on disk: %v", err)
		}
		data, ok, err := store.Read(ctx, key)
		if err != nil || !ok {
			t.Fatalf("read: ok=%v err=%v", ok, err)
		}
		if string(data) != "opus-bytes" {
			t.Errorf("unexpected content %q", data)
		}
	})

	t.Run("no temp files left behind", func(t *testing.T) {
		entries, _ := os.ReadDir(dir)
		if len(entries) != 1 {
			t.Errorf("expected only the blob, got %d entries", len(entries))
		}
	})

	t.Run("oversized blob rejected", func(t *testing.T) {
		err := store.Write(ctx, Key{MessageID: "BIG", Ext: "ogg"}, make([]byte, 2048))
		if !errors.Is(err, ErrTooLarge) {
			t.Errorf("expected ErrTooLarge, got %v", err)
		}
	})

	t.Run("empty data rejected", func(t *testing.T) {
		if err := store.Write(ctx, Key{MessageID: "E", Ext: "ogg"}, nil); err == nil {
			t.Error("expected error for empty data")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if err := store.Write(cctx, key, []byte("x")); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestFileSystemStore_PurgeOlderThan(t *testing.T) {
	dir := t.TempDir()
	store := NewFileSystemStore(StoreConfig{Dir: dir}, nil)
	ctx := context.Background()

	_ = store.Write(ctx, Key{MessageID: "OLD", Ext: "ogg"}, []byte("a"))
	_ = store.Write(ctx, Key{MessageID: "NEW", Ext: "ogg"}, []byte("b"))

	old := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(store.Path(Key{MessageID: "OLD", Ext: "ogg"}), old, old); err != nil {
		t.Fatal(err)
	}
	// Unrelated files in a shared directory are never touched.
	other := filepath.Join(dir, "config.yaml")
	_ = os.WriteFile(other, []byte("x"), 0o600)
	_ = os.Chtimes(other, old, old)

	n, err := store.PurgeOlderThan(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged, got %d", n)
	}
	if store.Exists(Key{MessageID: "OLD", Ext: "ogg"}) {
		t.Error("old blob should be gone")
	}
	if !store.Exists(Key{MessageID: "NEW", Ext: "ogg"}) {
		t.Error("new blob should remain")
	}
	if _, err := os.Stat(other); err != nil {
		t.Error("unrelated file was removed")
	}
}
