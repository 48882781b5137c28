package config

import (
	"os"
	"testing"
)

// TestAcceptanceCriteria verifies settings precedence and the secrets rule.
func TestAcceptanceCriteria(t *testing.T) {
	t.Run("AC1: Config file with realtime token rejected with clear error", func(t *testing.T) {
		tmpfile, err := os.CreateTemp("", "config-*.yaml")
		if err != nil {
			t.Fatal(err)
		}
		defer os.Remove(tmpfile.Name())

		configContent := `runtime:
  app_id: "com.example.app"
  realtime_token: "should_be_rejected"
`
		if _, err := tmpfile.Write([]byte(configContent)); err != nil {
			t.Fatal(err)
		}
		tmpfile.Close()

		_, err = LoadConfig(tmpfile.Name())
		if err == nil {
			t.Fatal("AC1 FAIL: Expected error for realtime token in config file")
		}
		if err.Error() != "realtime tokens not allowed in config files (they are delivered by the tenant configuration)" {
			t.Fatalf("AC1 FAIL: Wrong error message: %v", err)
		}
		t.Log("AC1 PASS: Config file with realtime token rejected with clear error")
	})

	t.Run("AC2: Environment overrides config file", func(t *testing.T) {
		t.Setenv("RK_RUNTIME_APP_ID", "com.env.app")

		tmpfile, err := os.CreateTemp("", "config-*.yaml")
		if err != nil {
			t.Fatal(err)
		}
		defer os.Remove(tmpfile.Name())

		configContent := `runtime:
  app_id: "com.file.app"
  locale: "de-DE"
`
		if _, err := tmpfile.Write([]byte(configContent)); err != nil {
			t.Fatal(err)
		}
		tmpfile.Close()

		cfg, err := LoadConfig(tmpfile.Name())
		if err != nil {
			t.Fatalf("AC2 FAIL: LoadConfig error: %v", err)
		}
		if cfg.AppID != "com.env.app" {
			t.Fatalf("AC2 FAIL: Environment should override config file, got %s", cfg.AppID)
		}
		if cfg.Locale != "de-DE" {
			t.Fatalf("AC2 FAIL: Config file should override default, got %s", cfg.Locale)
		}
		t.Log("AC2 PASS: env > config file > defaults")
	})
}
