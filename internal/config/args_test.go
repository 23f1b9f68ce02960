package config

import "testing"

func freshConfig() *Config { return DefaultConfig() }

func TestParseArgsPositionalPortOnly(t *testing.T) {
	cfg := freshConfig()
	if err := ParseArgs(cfg, []string{"3128"}); err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if cfg.Server.Port != 3128 {
		t.Fatalf("expected port 3128, got %d", cfg.Server.Port)
	}
}

func TestParseArgsPositionalPortAndCache(t *testing.T) {
	cfg := freshConfig()
	if err := ParseArgs(cfg, []string{"3128", "200"}); err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if cfg.Server.Port != 3128 || cfg.Cache.MaxSizeMB != 200 {
		t.Fatalf("expected port=3128 cache=200, got port=%d cache=%d", cfg.Server.Port, cfg.Cache.MaxSizeMB)
	}
}

func TestParseArgsFlags(t *testing.T) {
	cfg := freshConfig()
	if err := ParseArgs(cfg, []string{"--port", "9000", "-c", "50"}); err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Cache.MaxSizeMB != 50 {
		t.Fatalf("expected port=9000 cache=50, got port=%d cache=%d", cfg.Server.Port, cfg.Cache.MaxSizeMB)
	}
}

func TestParseArgsHelp(t *testing.T) {
	cfg := freshConfig()
	if err := ParseArgs(cfg, []string{"-h"}); err != ErrHelpRequested {
		t.Fatalf("expected ErrHelpRequested, got %v", err)
	}
}

func TestParseArgsInvalidPort(t *testing.T) {
	cfg := freshConfig()
	if err := ParseArgs(cfg, []string{"-p", "99999"}); err == nil {
		t.Fatal("expected an error for an out-of-range port")
	}
}

func TestParseArgsInvalidCacheSize(t *testing.T) {
	cfg := freshConfig()
	if err := ParseArgs(cfg, []string{"-c", "-5"}); err == nil {
		t.Fatal("expected an error for a non-positive cache size")
	}
}

func TestParseArgsUnknownOption(t *testing.T) {
	cfg := freshConfig()
	if err := ParseArgs(cfg, []string{"--bogus"}); err == nil {
		t.Fatal("expected an error for an unknown option")
	}
}
