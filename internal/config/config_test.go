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
logging:
  development: false
output:
  backend: local
  dir: /tmp/out
crawler:
  batch_size: 5
  user_agent: real-agent
  fetch_timeout_seconds: 12
  settle_delay_ms: 1500
  workers: 2
server:
  port: 9090
sources:
  alza:
    enabled: true
    strategy: alza
    loader: browser
    seed_urls: ["https://www.alza.cz/stolni-pocitace/18852653.htm"]
    batch_size: 20
    settle_delay_ms: 3000
  datart:
    enabled: true
    strategy: datart
    seed_urls: ["https://www.datart.cz/stolni-pocitace.html"]
  planeo:
    enabled: false
    strategy: planeo
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Crawler.BatchSize != 5 || cfg.Crawler.UserAgent != "real-agent" {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if got := cfg.FetchTimeout(); got != 12*time.Second {
		t.Fatalf("expected fetch timeout 12s, got %v", got)
	}

	sources, err := cfg.EnabledSources()
	if err != nil {
		t.Fatalf("EnabledSources() error = %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 enabled sources, got %d", len(sources))
	}
	alza, datart := sources[0], sources[1]
	if alza.Name != "alza" || datart.Name != "datart" {
		t.Fatalf("expected sources sorted by name, got %s, %s", alza.Name, datart.Name)
	}
	if alza.BatchSize != 20 || alza.SettleDelay != 3*time.Second || alza.Loader != LoaderBrowser {
		t.Fatalf("expected per-source overrides for alza: %+v", alza)
	}
	if datart.BatchSize != 5 || datart.SettleDelay != 1500*time.Millisecond || datart.Loader != LoaderHTTP {
		t.Fatalf("expected shared defaults for datart: %+v", datart)
	}
	if datart.Workers != 2 {
		t.Fatalf("expected shared workers default, got %d", datart.Workers)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.BatchSize != 10 {
		t.Fatalf("expected default batch size 10, got %d", cfg.Crawler.BatchSize)
	}
	if cfg.Output.Backend != BackendLocal || cfg.Output.Dir != "output" {
		t.Fatalf("unexpected output defaults: %+v", cfg.Output)
	}
	if got := cfg.NavTimeout(); got != 45*time.Second {
		t.Fatalf("expected nav timeout 45s, got %v", got)
	}
}

func TestEnabledSourcesFilter(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Crawler: CrawlerConfig{BatchSize: 10, Workers: 1},
		Sources: map[string]SourceConfig{
			"alza":   {Enabled: true, Strategy: "alza", SeedURLs: []string{"https://alza.cz"}},
			"datart": {Enabled: true, Strategy: "datart", SeedURLs: []string{"https://datart.cz"}},
		},
	}

	got, err := cfg.EnabledSources("Datart")
	if err != nil {
		t.Fatalf("EnabledSources() error = %v", err)
	}
	if len(got) != 1 || got[0].Name != "datart" {
		t.Fatalf("expected only datart, got %+v", got)
	}

	if _, err := cfg.EnabledSources("missing"); err == nil {
		t.Fatal("expected error for unknown source")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Output:  OutputConfig{Backend: BackendLocal, Dir: "out"},
		Crawler: CrawlerConfig{BatchSize: 10, FetchTimeoutSeconds: 10, Workers: 1, QueueDepth: 4},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "unknown backend",
			cfg: func() Config {
				c := base
				c.Output.Backend = "s3"
				return c
			}(),
			want: "output.backend",
		},
		{
			name: "gcs without bucket",
			cfg: func() Config {
				c := base
				c.Output.Backend = BackendGCS
				return c
			}(),
			want: "output.gcs_bucket",
		},
		{
			name: "invalid batch size",
			cfg: func() Config {
				c := base
				c.Crawler.BatchSize = 0
				return c
			}(),
			want: "crawler.batch_size",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.Crawler.FetchTimeoutSeconds = 0
				return c
			}(),
			want: "crawler.fetch_timeout_seconds",
		},
		{
			name: "topic without project",
			cfg: func() Config {
				c := base
				c.PubSub.TopicName = "snapshots"
				return c
			}(),
			want: "pubsub.project_id",
		},
		{
			name: "enabled source without seeds",
			cfg: func() Config {
				c := base
				c.Sources = map[string]SourceConfig{"alza": {Enabled: true, Strategy: "alza"}}
				return c
			}(),
			want: "sources.alza.seed_urls",
		},
		{
			name: "unknown loader",
			cfg: func() Config {
				c := base
				c.Sources = map[string]SourceConfig{
					"alza": {Enabled: true, Strategy: "alza", Loader: "curl", SeedURLs: []string{"https://alza.cz"}},
				}
				return c
			}(),
			want: "sources.alza.loader",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestExampleConfigLoads(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join("..", "..", "config.example.yaml"))
	if err != nil {
		t.Fatalf("Load example: %v", err)
	}
	sources, err := cfg.EnabledSources()
	if err != nil {
		t.Fatalf("EnabledSources: %v", err)
	}
	if len(sources) != 6 {
		t.Fatalf("expected 6 sources, got %d", len(sources))
	}
	for _, src := range sources {
		if src.Strategy != src.Name {
			t.Fatalf("source %s uses strategy %s", src.Name, src.Strategy)
		}
		if src.Delay != 500*time.Millisecond {
			t.Fatalf("source %s delay = %v", src.Name, src.Delay)
		}
	}
}
