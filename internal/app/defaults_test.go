package app

import (
	"os"
	"path/filepath"
	"testing"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		d, err := GetDefaults(envMap(map[string]string{
			EnvConfigPath: "/custom/config.toml",
			EnvHome:       "/custom/souviens",
		}))
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		want := Defaults{
			ConfigPath: "/custom/config.toml",
			BaseDir:    "/custom/souviens",
			LogDir:     "/custom/souviens/log",
		}
		if d != want {
			t.Errorf("GetDefaults() = %+v, want %+v", d, want)
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		d, err := GetDefaults(envMap(nil))
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()
		wantBase := filepath.Join(homeDir, ".local", "share", "souviens")
		want := Defaults{
			ConfigPath: filepath.Join(homeDir, ".config", "souviens.toml"),
			BaseDir:    wantBase,
			LogDir:     filepath.Join(wantBase, "log"),
		}
		if d != want {
			t.Errorf("GetDefaults() = %+v, want %+v", d, want)
		}
	})
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "souviens.toml")
	content := `
[snapshot]
tables = ["events"]
batch_size = 50

[gateway]
type = "supabase"
url = "https://file.supabase.co"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, d, err := LoadConfig(envMap(map[string]string{
		EnvConfigPath:               path,
		EnvHome:                     dir,
		"SUPABASE_URL":              "https://env.supabase.co",
		"SUPABASE_SERVICE_ROLE_KEY": "service-key",
	}))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if d.BaseDir != dir {
		t.Errorf("BaseDir = %q, want %q", d.BaseDir, dir)
	}
	if cfg.Gateway.URL != "https://env.supabase.co" || cfg.Gateway.ServiceKey != "service-key" {
		t.Errorf("gateway = %+v, want env credentials", cfg.Gateway)
	}
	if len(cfg.Snapshot.Tables) != 1 || cfg.Snapshot.BatchSize != 50 {
		t.Errorf("snapshot = %+v, want file values", cfg.Snapshot)
	}
	if len(cfg.Snapshot.Buckets) != 2 {
		t.Errorf("buckets = %v, want defaults kept", cfg.Snapshot.Buckets)
	}
	if cfg.LogDir != filepath.Join(dir, "log") {
		t.Errorf("LogDir = %q", cfg.LogDir)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	dir := t.TempDir()
	cfg, _, err := LoadConfig(envMap(map[string]string{
		EnvConfigPath: filepath.Join(dir, "absent.toml"),
		EnvHome:       dir,
	}))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Archive.Root != "./backups" || cfg.Snapshot.App != "SOUVIENS_TOI" {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
}
