package config

import ("os"
	"path/filepath"
	"testing"
	"time"

	"zwavehost/driver")

func TestLoadNoFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	opts, err := Load(filepath.Join(dir, "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := driver.DefaultOptions()
	if opts.RetryTimeout != want.RetryTimeout || opts.PollInterval != want.PollInterval {
		t.Fatalf("opts = %+v, want defaults %+v", opts, want)
	}
}

func TestLoadFromYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zwavehost.yaml")
	contents := "logging: true\n" +
		"retry_timeout: 5s\n" +
		"enable_sis: true\n" +
		"network_key: \"0x01,0x02,0x03,0x04,0x05,0x06,0x07,0x08,0x09,0x0a,0x0b,0x0c,0x0d,0x0e,0x0f,0x10\"\n" +
		"reload_after_update: immediate\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	opts, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !opts.Logging {
		t.Fatal("expected Logging = true")
	}
	if opts.RetryTimeout != 5*time.Second {
		t.Fatalf("RetryTimeout = %v, want 5s", opts.RetryTimeout)
	}
	if !opts.EnableSIS {
		t.Fatal("expected EnableSIS = true")
	}
	if len(opts.NetworkKey) != 16 || opts.NetworkKey[15] != 0x10 {
		t.Fatalf("NetworkKey = %v", opts.NetworkKey)
	}
	if opts.ReloadAfterUpdate != driver.ReloadImmediate {
		t.Fatalf("ReloadAfterUpdate = %v, want ReloadImmediate", opts.ReloadAfterUpdate)
	}

	// Fields the file didn't set should fall back to driver.DefaultOptions().
	want := driver.DefaultOptions()
	if opts.PollInterval != want.PollInterval {
		t.Fatalf("PollInterval = %v, want default %v", opts.PollInterval, want.PollInterval)
	}
}

func TestLoadRejectsBadNetworkKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zwavehost.yaml")
	if err := os.WriteFile(path, []byte("network_key: \"not-hex\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a malformed network_key")
	}
}
