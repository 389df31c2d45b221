package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.MaxToolIterations != 10 {
		t.Errorf("MaxToolIterations = %d, want 10", cfg.Gateway.MaxToolIterations)
	}
	if cfg.Gateway.ActiveChannelTimeoutSec != 1800 {
		t.Errorf("ActiveChannelTimeoutSec = %d, want 1800", cfg.Gateway.ActiveChannelTimeoutSec)
	}
	if cfg.Gateway.HistoryCharBudget != 200000 {
		t.Errorf("HistoryCharBudget = %d, want 200000", cfg.Gateway.HistoryCharBudget)
	}
	if cfg.Tools.Security.DefaultMode != "allow" {
		t.Errorf("DefaultMode = %q, want allow", cfg.Tools.Security.DefaultMode)
	}
}

func TestLoadParsesJSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		// tuned down for tests
		gateway: {
			max_tool_iterations: 3,
			stop_phrases: ["go away"],
		},
		tools: {
			security: {
				block_list: ["shell__*"],
				default_mode: "deny",
			},
		},
	}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.MaxToolIterations != 3 {
		t.Errorf("MaxToolIterations = %d, want 3", cfg.Gateway.MaxToolIterations)
	}
	if len(cfg.Gateway.StopPhrases) != 1 || cfg.Gateway.StopPhrases[0] != "go away" {
		t.Errorf("StopPhrases = %v", cfg.Gateway.StopPhrases)
	}
	if len(cfg.Tools.Security.BlockList) != 1 || cfg.Tools.Security.BlockList[0] != "shell__*" {
		t.Errorf("BlockList = %v", cfg.Tools.Security.BlockList)
	}
	if cfg.Tools.Security.DefaultMode != "deny" {
		t.Errorf("DefaultMode = %q", cfg.Tools.Security.DefaultMode)
	}
}

func TestReplaceFromPreservesPointerIdentity(t *testing.T) {
	cfg := Default()
	fresh := Default()
	fresh.Gateway.MaxToolIterations = 99

	cfg.ReplaceFrom(fresh)
	if cfg.Gateway.MaxToolIterations != 99 {
		t.Fatalf("MaxToolIterations = %d after ReplaceFrom", cfg.Gateway.MaxToolIterations)
	}
}
