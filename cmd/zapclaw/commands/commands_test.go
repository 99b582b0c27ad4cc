package commands

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/channels"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/channels/whatsapp"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/config"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/history"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/media"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/router"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/scheduler"
)

type sentMessage struct {
	to  string
	msg *channels.OutgoingMessage
}

type recordingGateway struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (g *recordingGateway) DownloadMedia(context.Context, *channels.IncomingMessage) ([]byte, string, error) {
	return nil, "", channels.ErrNoMedia
}

func (g *recordingGateway) Send(_ context.Context, to string, msg *channels.OutgoingMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, sentMessage{to: to, msg: msg})
	return nil
}

type stubBackend struct {
	completeErr error
}

func (b *stubBackend) Transcribe(context.Context, []byte, string) (string, error) {
	return "", errors.New("not used")
}

func (b *stubBackend) Complete(context.Context, string, string) (string, error) {
	if b.completeErr != nil {
		return "", b.completeErr
	}
	return "tudo certo", nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRootCmd(t *testing.T) {
	root := NewRootCmd("1.2.3")
	if root.Version != "1.2.3" {
		t.Errorf("version: %q", root.Version)
	}

	for _, name := range []string{"serve", "setup", "config", "logout"} {
		t.Run(name, func(t *testing.T) {
			cmd, _, err := root.Find([]string{name})
			if err != nil || cmd.Name() != name {
				t.Errorf("subcommand %q not registered: %v", name, err)
			}
		})
	}

	for _, flag := range []string{"config", "verbose"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing persistent flag %q", flag)
		}
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LoggingConfig
		verbose   bool
		wantDebug bool
		wantInfo  bool
		wantJSON  bool
	}{
		{name: "default json info", cfg: config.LoggingConfig{}, wantInfo: true, wantJSON: true},
		{name: "debug level", cfg: config.LoggingConfig{Level: "DEBUG"}, wantDebug: true, wantInfo: true, wantJSON: true},
		{name: "warn hides info", cfg: config.LoggingConfig{Level: "warn", Format: "text"}},
		{name: "verbose overrides", cfg: config.LoggingConfig{Level: "error", Format: "text"}, verbose: true, wantDebug: true, wantInfo: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(tt.cfg, tt.verbose, &buf)
			ctx := context.Background()

			if got := logger.Enabled(ctx, slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if got := logger.Enabled(ctx, slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("info enabled = %v, want %v", got, tt.wantInfo)
			}

			logger.Error("probe")
			if isJSON := strings.HasPrefix(buf.String(), "{"); isJSON != tt.wantJSON {
				t.Errorf("json output = %v, want %v: %q", isJSON, tt.wantJSON, buf.String())
			}
		})
	}
}

func TestRegisterJobs(t *testing.T) {
	now := time.Date(2024, 5, 10, 22, 0, 0, 0, time.UTC)
	group := "120363000000000001@g.us"

	setup := func(t *testing.T, backend *stubBackend) (*history.Store, *recordingGateway, *router.Router, *media.FileSystemStore) {
		t.Helper()
		store := history.NewStore()
		gw := &recordingGateway{}
		rt := router.New(router.Config{
			Groups:   []string{group, "120363000000000002@g.us"},
			Prompt:   "Resuma:",
			Model:    "gpt-4o-mini",
			Location: time.UTC,
		}, store, nil, gw, backend, discardLogger(), router.WithClock(func() time.Time { return now }))
		blobs := media.NewFileSystemStore(media.StoreConfig{Dir: t.TempDir()}, discardLogger())
		return store, gw, rt, blobs
	}

	t.Run("disabled jobs are not registered", func(t *testing.T) {
		_, _, rt, blobs := setup(t, &stubBackend{})
		cfg := config.DefaultConfig()
		cfg.Schedule.DailySummary = ""
		cfg.Media.RetentionDays = 0

		sched := scheduler.New(time.UTC, time.Minute, discardLogger())
		if err := registerJobs(sched, cfg, rt, blobs, discardLogger()); err != nil {
			t.Fatal(err)
		}
		if n := len(sched.Entries()); n != 0 {
			t.Errorf("expected no jobs, got %d", n)
		}
	})

	t.Run("invalid schedule", func(t *testing.T) {
		_, _, rt, blobs := setup(t, &stubBackend{})
		cfg := config.DefaultConfig()
		cfg.Schedule.DailySummary = "not a cron"

		sched := scheduler.New(time.UTC, time.Minute, discardLogger())
		if err := registerJobs(sched, cfg, rt, blobs, discardLogger()); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("daily summary posts to groups with history", func(t *testing.T) {
		store, gw, rt, blobs := setup(t, &stubBackend{})
		if err := store.Record(now.Day(), group, history.Entry{
			Sender: "Ana", Body: "bom dia", Timestamp: now.Add(-time.Hour),
		}); err != nil {
			t.Fatal(err)
		}

		cfg := config.DefaultConfig()
		cfg.Schedule.DailySummary = "0 22 * * *"

		sched := scheduler.New(time.UTC, time.Minute, discardLogger())
		if err := registerJobs(sched, cfg, rt, blobs, discardLogger()); err != nil {
			t.Fatal(err)
		}
		if err := sched.RunNow(jobDailySummary); err != nil {
			t.Fatal(err)
		}

		if len(gw.sent) != 1 {
			t.Fatalf("expected one summary, got %d", len(gw.sent))
		}
		if gw.sent[0].to != group || gw.sent[0].msg.Content != router.SummaryPrefix+"tudo certo" {
			t.Errorf("unexpected summary %+v", gw.sent[0])
		}
		if gw.sent[0].msg.ReplyTo != "" {
			t.Error("scheduled summary must not be threaded")
		}

		entries := sched.Entries()
		if len(entries) != 1 || entries[0].LastErr != "" {
			t.Errorf("unexpected entries %+v", entries)
		}
	})

	t.Run("daily summary reports backend errors", func(t *testing.T) {
		store, gw, rt, _ := setup(t, &stubBackend{completeErr: errors.New("quota")})
		_ = store.Record(now.Day(), group, history.Entry{Sender: "Ana", Body: "oi", Timestamp: now.Add(-time.Minute)})

		err := dailySummaryJob(rt, discardLogger())(context.Background())
		if err == nil || !strings.Contains(err.Error(), group) {
			t.Errorf("expected error naming the group, got %v", err)
		}
		if len(gw.sent) != 0 {
			t.Error("nothing should be sent on failure")
		}
	})

	t.Run("purge removes old audio", func(t *testing.T) {
		_, _, rt, blobs := setup(t, &stubBackend{})
		cfg := config.DefaultConfig()
		cfg.Schedule.DailySummary = ""
		cfg.Media.RetentionDays = 1

		old := filepath.Join(blobs.Dir(), "OLD.ogg")
		fresh := filepath.Join(blobs.Dir(), "NEW.ogg")
		for _, p := range []string{old, fresh} {
			if err := os.WriteFile(p, []byte("audio"), 0o600); err != nil {
				t.Fatal(err)
			}
		}
		past := time.Now().Add(-72 * time.Hour)
		if err := os.Chtimes(old, past, past); err != nil {
			t.Fatal(err)
		}

		sched := scheduler.New(time.UTC, time.Minute, discardLogger())
		if err := registerJobs(sched, cfg, rt, blobs, discardLogger()); err != nil {
			t.Fatal(err)
		}
		if err := sched.RunNow(jobPurgeAudio); err != nil {
			t.Fatal(err)
		}

		if _, err := os.Stat(old); !os.IsNotExist(err) {
			t.Error("old audio should be purged")
		}
		if _, err := os.Stat(fresh); err != nil {
			t.Error("fresh audio should be kept")
		}
	})
}

func TestSetupHelpers(t *testing.T) {
	t.Run("splitGroups", func(t *testing.T) {
		got := splitGroups("a@g.us, b@g.us\n\n c@g.us ,")
		if strings.Join(got, "|") != "a@g.us|b@g.us|c@g.us" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("normalizePhone", func(t *testing.T) {
		if got := normalizePhone("+55 (11) 99999-9999"); got != "5511999999999" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("validators", func(t *testing.T) {
		if validatePhone("") != nil || validatePhone("+55 11 99999-9999") != nil {
			t.Error("valid phones rejected")
		}
		if validatePhone("123") == nil {
			t.Error("short phone accepted")
		}
		if validateTimezone("UTC") != nil || validateTimezone("Nowhere/Else") == nil {
			t.Error("timezone validation wrong")
		}
		if validateCron("0 22 * * *") != nil || validateCron("") != nil || validateCron("nope") == nil {
			t.Error("cron validation wrong")
		}
	})

	t.Run("apply keeps key when left empty", func(t *testing.T) {
		base := config.DefaultConfig()
		base.OpenAI.APIKey = "sk-existing"
		ans := answersFrom(base)
		ans.groups = "g1@g.us\ng2@g.us"
		ans.operator = "+55 11 99999-9999"
		ans.prompt = "  "

		cfg := ans.apply(base)
		if cfg.OpenAI.APIKey != "sk-existing" {
			t.Errorf("key lost: %q", cfg.OpenAI.APIKey)
		}
		if cfg.Operator != "5511999999999" || len(cfg.Groups) != 2 {
			t.Errorf("unexpected config %+v", cfg)
		}
		if cfg.Prompt != config.DefaultPrompt {
			t.Error("blank prompt should fall back to the default")
		}
		if base.Groups != nil {
			t.Error("base config must not be modified")
		}
	})
}

func TestWriteMaskedConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OpenAI.APIKey = "sk-abcdefghijkl1234"

	var buf bytes.Buffer
	if err := writeMaskedConfig(&buf, cfg); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, "sk-abcdefghijkl1234") {
		t.Error("secret leaked")
	}
	if !strings.Contains(out, "sk-****1234") {
		t.Errorf("masked key missing:\n%s", out)
	}
	if cfg.OpenAI.APIKey != "sk-abcdefghijkl1234" {
		t.Error("original config modified")
	}
}

func TestStateHint(t *testing.T) {
	var buf bytes.Buffer
	hint := stateHint(slog.New(slog.NewTextHandler(&buf, nil)))

	hint(whatsapp.StateChange{From: whatsapp.StateConnected, To: whatsapp.StateReconnecting, Reason: "socket_closed"})
	hint(whatsapp.StateChange{From: whatsapp.StateReconnecting, To: whatsapp.StateConnected})
	if buf.Len() != 0 {
		t.Errorf("routine transitions should be quiet, got %q", buf.String())
	}

	hint(whatsapp.StateChange{From: whatsapp.StateConnected, To: whatsapp.StateLoggedOut})
	if !strings.Contains(buf.String(), "unlinked") {
		t.Errorf("expected unlink hint, got %q", buf.String())
	}

	buf.Reset()
	hint(whatsapp.StateChange{From: whatsapp.StateReconnecting, To: whatsapp.StateDisconnected, Reason: "reconnect_exhausted"})
	if !strings.Contains(buf.String(), "reconnect_exhausted") {
		t.Errorf("expected restart hint, got %q", buf.String())
	}
}
