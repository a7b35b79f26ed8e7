package driver

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"sentra-fuzz/internal/config"
)

func testConfig(t *testing.T, workspace string) config.Config {
	t.Helper()
	cfg := config.Default(workspace)
	cfg.CommandTemplate = "/bin/true __INPUT__"
	cfg.ProcessTimeout = 50 * time.Millisecond
	cfg.PopulationMin = 2
	cfg.PopulationMax = 8
	return cfg
}

func TestNewCreatesWorkspaceLayoutAndSeedsFromSeedFiles(t *testing.T) {
	workspace := t.TempDir()
	if err := os.MkdirAll(filepath.Join(workspace, "seeds"), 0o755); err != nil {
		t.Fatalf("MkdirAll seeds: %v", err)
	}
	if err := os.WriteFile(filepath.Join(workspace, "seeds", "seed1"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile seed: %v", err)
	}

	d, err := New(testConfig(t, workspace), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	for _, dir := range []string{"dumps", "crashes", "results"} {
		if info, err := os.Stat(filepath.Join(workspace, dir)); err != nil || !info.IsDir() {
			t.Fatalf("expected workspace subdirectory %s to exist", dir)
		}
	}
	if len(d.population.Individuals) != 1 {
		t.Fatalf("expected one individual seeded from the one seed file, got %d", len(d.population.Individuals))
	}
	if string(d.arena.Bytes(d.population.Individuals[0].Slot)) != "hello" {
		t.Fatalf("seeded individual content mismatch")
	}
}

func TestNewFallsBackToADefaultSeedWithNoSeedFiles(t *testing.T) {
	d, err := New(testConfig(t, t.TempDir()), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	if len(d.population.Individuals) == 0 {
		t.Fatalf("expected a fallback seed individual")
	}
}

func TestRunGenerationAdvancesEvolverAndSurvivesTimeouts(t *testing.T) {
	d, err := New(testConfig(t, t.TempDir()), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.runGeneration(ctx); err != nil {
		t.Fatalf("runGeneration: %v", err)
	}
	if d.evolver.Generation != 1 {
		t.Fatalf("Generation = %d, want 1", d.evolver.Generation)
	}
	if len(d.population.Individuals) == 0 {
		t.Fatalf("expected a non-empty population after one generation")
	}
}

func TestRunGenerationMockModeIntegratesSyntheticTraces(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.CommandTemplate = ""
	cfg.Mock = true

	d, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	if !d.store.Blind() {
		t.Fatalf("expected a blind model store in mock mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.runGeneration(ctx); err != nil {
		t.Fatalf("runGeneration: %v", err)
	}
	if d.evolver.Generation != 1 {
		t.Fatalf("Generation = %d, want 1", d.evolver.Generation)
	}
	if d.scoreboard.ReachedFunctionCount() == 0 {
		t.Fatalf("expected mocked traces to reach at least one function")
	}
}

func TestRunGenerationWritesCheckpointOnSchedule(t *testing.T) {
	d, err := New(testConfig(t, t.TempDir()), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	d.evolver.Generation = checkpointEvery - 1

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.runGeneration(ctx); err != nil {
		t.Fatalf("runGeneration: %v", err)
	}

	path := filepath.Join(d.layout.Results, "checkpoint-"+strconv.Itoa(checkpointEvery)+".json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected checkpoint file at %s: %v", path, err)
	}
}
