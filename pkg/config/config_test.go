package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
token: shippo_test_abc
start_date: "2017-01-01"
base_url: https://shippo.test
page_size: 50
lookback_days: 2
http:
  timeout_seconds: 45
  max_retries: 3
  backoff_initial_ms: 100
  backoff_max_ms: 500
  user_agent: custom-agent/2.0
state:
  backend: redis
  redis:
    addr: redis.test:6379
    db: 3
metrics:
  port: 9102
logging:
  level: debug
  pretty: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Token != "shippo_test_abc" {
		t.Fatalf("expected token override, got %q", cfg.Token)
	}
	if cfg.BaseURL != "https://shippo.test" || cfg.PageSize != 50 {
		t.Fatalf("expected extraction overrides to apply: %+v", cfg)
	}
	if cfg.State.Backend != BackendRedis || cfg.State.Redis.Addr != "redis.test:6379" || cfg.State.Redis.DB != 3 {
		t.Fatalf("expected redis backend overrides: %+v", cfg.State)
	}
	if cfg.Metrics.Port != 9102 {
		t.Fatalf("expected metrics port 9102, got %d", cfg.Metrics.Port)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Pretty {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}

	cc := cfg.ClientConfig()
	if cc.Token != "shippo_test_abc" || cc.Timeout != 45*time.Second {
		t.Fatalf("unexpected client config: %+v", cc)
	}
	if cc.Retry.MaxAttempts != 3 || cc.Retry.InitialBackoff != 100*time.Millisecond {
		t.Fatalf("unexpected retry config: %+v", cc.Retry)
	}

	sc, err := cfg.SyncConfig()
	if err != nil {
		t.Fatalf("SyncConfig() error = %v", err)
	}
	want := time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)
	if !sc.StartDate.Equal(want) {
		t.Fatalf("expected start date %v, got %v", want, sc.StartDate)
	}
	if sc.Lookback != 48*time.Hour {
		t.Fatalf("expected 48h lookback, got %v", sc.Lookback)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SHIPPO_TOKEN", "shippo_test_env")
	t.Setenv("SHIPPO_START_DATE", "2017-01-01T00:00:00Z")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Token != "shippo_test_env" {
		t.Fatalf("expected token from environment, got %q", cfg.Token)
	}
	if cfg.BaseURL != "https://api.goshippo.com" {
		t.Fatalf("unexpected default base url %q", cfg.BaseURL)
	}
	if cfg.PageSize != 1000 {
		t.Fatalf("unexpected default page size %d", cfg.PageSize)
	}
	if cfg.State.Backend != BackendFile || cfg.State.Path != "state.json" {
		t.Fatalf("unexpected default state config: %+v", cfg.State)
	}
	if cfg.Metrics.Port != 0 {
		t.Fatalf("metrics listener should be disabled by default, got port %d", cfg.Metrics.Port)
	}
}

func TestStartTimeFormats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		want  time.Time
		ok    bool
	}{
		{"bare date", "2017-01-01", time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"rfc3339", "2017-01-01T12:30:00Z", time.Date(2017, 1, 1, 12, 30, 0, 0, time.UTC), true},
		{"rfc3339 with offset", "2017-01-01T12:30:00+02:00", time.Date(2017, 1, 1, 10, 30, 0, 0, time.UTC), true},
		{"garbage", "last tuesday", time.Time{}, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Config{StartDate: tt.value}
			got, err := cfg.StartTime()
			if tt.ok {
				if err != nil {
					t.Fatalf("StartTime() error = %v", err)
				}
				if !got.Equal(tt.want) {
					t.Fatalf("expected %v, got %v", tt.want, got)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error for %q", tt.value)
			}
		})
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Token:     "shippo_test_abc",
		StartDate: "2017-01-01",
		PageSize:  100,
		HTTP:      HTTPConfig{TimeoutSeconds: 10, MaxRetries: 5},
		State:     StateConfig{Backend: BackendFile, Path: "state.json"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "missing token",
			cfg: func() Config {
				c := base
				c.Token = ""
				return c
			}(),
			want: "token",
		},
		{
			name: "missing start date",
			cfg: func() Config {
				c := base
				c.StartDate = ""
				return c
			}(),
			want: "start_date",
		},
		{
			name: "unparseable start date",
			cfg: func() Config {
				c := base
				c.StartDate = "soon"
				return c
			}(),
			want: "start_date",
		},
		{
			name: "invalid page size",
			cfg: func() Config {
				c := base
				c.PageSize = 0
				return c
			}(),
			want: "page_size",
		},
		{
			name: "negative lookback",
			cfg: func() Config {
				c := base
				c.LookbackDays = -1
				return c
			}(),
			want: "lookback_days",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.HTTP.TimeoutSeconds = 0
				return c
			}(),
			want: "http.timeout_seconds",
		},
		{
			name: "unknown backend",
			cfg: func() Config {
				c := base
				c.State.Backend = "etcd"
				return c
			}(),
			want: "state.backend",
		},
		{
			name: "file backend without path",
			cfg: func() Config {
				c := base
				c.State.Path = ""
				return c
			}(),
			want: "state.path",
		},
		{
			name: "redis backend without addr",
			cfg: func() Config {
				c := base
				c.State = StateConfig{Backend: BackendRedis}
				return c
			}(),
			want: "state.redis.addr",
		},
		{
			name: "invalid metrics port",
			cfg: func() Config {
				c := base
				c.Metrics.Port = 70000
				return c
			}(),
			want: "metrics.port",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
