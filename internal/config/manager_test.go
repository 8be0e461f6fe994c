package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return NewManager(path)
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "config.json", `{
		"discord": {"token": "tok", "owner_user_ids": ["1", "2"]},
		"upstream": {"login": "bot", "password": "pw"},
		"poller": {"time_interval_minutes": 5, "rank_interval_minutes": 60},
		"storage": {"path": "/tmp/bot.db"},
		"logging": {"level": "debug", "console": true}
	}`)

	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Discord.Token != "tok" || len(cfg.Discord.OwnerUserIDs) != 2 {
		t.Fatalf("discord = %+v", cfg.Discord)
	}
	if cfg.Poller.TimeIntervalMinutes != 5 || cfg.Poller.RankIntervalMinutes != 60 {
		t.Fatalf("poller = %+v", cfg.Poller)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "config.yaml", `
discord:
  token: tok
upstream:
  login: bot
  password: pw
  min_request_interval: 750ms
poller:
  time_interval_minutes: 5
  rank_interval_minutes: 60
storage:
  path: /tmp/bot.db
logging:
  console: true
`)

	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Upstream.MinRequestInterval != "750ms" {
		t.Fatalf("upstream = %+v", cfg.Upstream)
	}
	if !cfg.Logging.Console {
		t.Fatal("console flag lost in yaml coercion")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "config.json", `{"discord": {"token": "tok", "oops": 1}}`)
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "config.json", `{"discord": {"token": "a"}} {"extra": true}`)
	if _, err := m.Parse(); err == nil {
		t.Fatal("trailing data accepted")
	}
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "config.json", `{"discord": {"token": "a"}}`)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	sub := m.Subscribe(1)
	cfg := &Config{}
	m.publish(cfg)

	select {
	case got := <-sub:
		if got != cfg {
			t.Fatal("received wrong config pointer")
		}
	case <-time.After(time.Second):
		t.Fatal("publish never arrived")
	}

	// A slow subscriber gets the newest config, not the oldest.
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	select {
	case got := <-sub:
		if got != second {
			t.Fatal("stale config delivered after burst")
		}
	case <-time.After(time.Second):
		t.Fatal("burst publish never arrived")
	}

	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("channel still open after Unsubscribe")
	}
}

func TestQueuesEffectiveDefaults(t *testing.T) {
	t.Parallel()

	// An absent queues section must still yield the documented sizing, in
	// particular command workers above the background queue's single worker.
	var absent *QueuesConfig
	got := absent.Effective()
	want := QueuesConfig{
		APIBacklog:        64,
		CommandWorkers:    4,
		CommandBacklog:    32,
		BackgroundBacklog: 8,
	}
	if got != want {
		t.Fatalf("nil section = %+v, want %+v", got, want)
	}
	if got.CommandWorkers <= 1 {
		t.Fatalf("command workers default = %d, commands would serialize", got.CommandWorkers)
	}

	// Zero-valued fields take defaults, explicit fields win.
	partial := &QueuesConfig{CommandWorkers: 8}
	got = partial.Effective()
	if got.CommandWorkers != 8 || got.CommandBacklog != 32 || got.APIBacklog != 64 {
		t.Fatalf("partial section = %+v", got)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: "500ms", want: 500 * time.Millisecond},
		{raw: "2m", want: 2 * time.Minute},
		{raw: "banana", wantErr: true},
		{raw: "-1s", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("test.field", tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDurationField(%q) accepted", tt.raw)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseDurationField(%q) = %v, %v, want %v", tt.raw, got, err, tt.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	got, err := ParseDurationOrDefault("test.field", "", 3*time.Second)
	if err != nil || got != 3*time.Second {
		t.Fatalf("empty = %v, %v, want default", got, err)
	}
	got, err = ParseDurationOrDefault("test.field", "10s", 3*time.Second)
	if err != nil || got != 10*time.Second {
		t.Fatalf("explicit = %v, %v, want 10s", got, err)
	}
}
