package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalYAML = `
media:
  base_url: https://media.example.org
  partner_id: "2503451"
transcription:
  base_url: https://stt.example.org
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Database.Path != "data/webtv.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
	if cfg.Transcription.PollIntervalSeconds != 10 || cfg.Transcription.PollMaxAttempts != 360 {
		t.Errorf("polling = %+v", cfg.Transcription)
	}
	if cfg.Classifier.Model != "gpt-4o-mini" || cfg.Classifier.TaggerConcurrency != 8 || cfg.Classifier.ContextWindow != 2 {
		t.Errorf("classifier = %+v", cfg.Classifier)
	}
	if cfg.Pipeline.LockTimeoutMinutes != 30 || cfg.Pipeline.JanitorIntervalMin != 10 {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
}

func TestLoadReadsAPIKeysFromEnvironment(t *testing.T) {
	t.Setenv("TRANSCRIPTION_API_KEY", "stt-key")
	t.Setenv("CLASSIFIER_API_KEY", "llm-key")

	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transcription.APIKey != "stt-key" {
		t.Errorf("transcription key = %q", cfg.Transcription.APIKey)
	}
	if cfg.Classifier.APIKey != "llm-key" {
		t.Errorf("classifier key = %q", cfg.Classifier.APIKey)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
server:
  port: 9090
pipeline:
  lock_timeout_minutes: 5
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Pipeline.LockTimeoutMinutes != 5 {
		t.Errorf("lock timeout = %d", cfg.Pipeline.LockTimeoutMinutes)
	}
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	cases := map[string]string{
		"no media base url": `
transcription:
  base_url: https://stt.example.org
`,
		"no transcription base url": `
media:
  base_url: https://media.example.org
`,
	}
	for name, yaml := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, yaml)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
