package app

import "testing"

func TestNewConfig_RunRequiresGridPath(t *testing.T) {
	t.Parallel()
	if _, err := NewConfig(Config{Operation: "run"}); err == nil {
		t.Fatal("NewConfig() should require a grid path for run")
	}
}

func TestNewConfig_ContinueRequiresBenchID(t *testing.T) {
	t.Parallel()
	if _, err := NewConfig(Config{Operation: "continue"}); err == nil {
		t.Fatal("NewConfig() should require --id for continue")
	}
}

func TestNewConfig_UnknownOperationFails(t *testing.T) {
	t.Parallel()
	if _, err := NewConfig(Config{Operation: "bogus"}); err == nil {
		t.Fatal("NewConfig() should reject an unknown operation")
	}
}

func TestNewConfig_DefaultsOutPath(t *testing.T) {
	t.Parallel()
	cfg, err := NewConfig(Config{Operation: "run", GridPath: "grid.hcl"})
	if err != nil {
		t.Fatalf("NewConfig() returned error: %v", err)
	}
	if cfg.OutPath != "bench_runs" {
		t.Errorf("OutPath = %q, want default %q", cfg.OutPath, "bench_runs")
	}
}

func TestNewConfig_HelpAndUpdateHaveNoRequiredFields(t *testing.T) {
	t.Parallel()
	if _, err := NewConfig(Config{Operation: "help"}); err != nil {
		t.Errorf("NewConfig(help) returned error: %v", err)
	}
	if _, err := NewConfig(Config{Operation: "update"}); err != nil {
		t.Errorf("NewConfig(update) returned error: %v", err)
	}
}

func TestNewConfig_StatusRequiresBenchID(t *testing.T) {
	t.Parallel()
	if _, err := NewConfig(Config{Operation: "status"}); err == nil {
		t.Fatal("NewConfig() should require --id for status")
	}
	if _, err := NewConfig(Config{Operation: "status", BenchID: 1}); err != nil {
		t.Errorf("NewConfig() with an id returned error: %v", err)
	}
}
