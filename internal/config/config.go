// Package config parses the fuzzer's command line and holds the
// workspace ("idir") layout from spec section 6. Parsing is hand-rolled
// over os.Args the way cmd/sentra/main.go scans args and resolves
// command aliases -- no CLI framework appears anywhere in the
// retrieval pack.
package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds one fuzzing run's tunables.
type Config struct {
	Workspace       string        // "idir" root
	CommandTemplate string        // contains exactly one of __INPUT__ / __FILE__
	ModelDSN        string        // defaults to sqlite file under Workspace
	MaxNumProcesses int
	ProcessTimeout  time.Duration
	PopulationMin   int
	PopulationMax   int
	MaxStagnation   int
	SlowStrategies  bool // enables alignment crossover / closeness mating
	RNGSeed         int64
	UIAddr          string // "" disables the websocket status server
	Mock            bool   // run against internal/mocker's synthetic traces, no target/model needed (§8a)
}

// Default returns the fuzzer's baseline configuration.
func Default(workspace string) Config {
	return Config{
		Workspace:       workspace,
		ModelDSN:        "sqlite://" + filepath.Join(workspace, "model.bin"),
		MaxNumProcesses: 4,
		ProcessTimeout:  2 * time.Second,
		PopulationMin:   64,
		PopulationMax:   512,
		MaxStagnation:   200,
		RNGSeed:         1,
	}
}

// Layout is the on-disk workspace layout of spec section 6.
type Layout struct {
	Root      string
	Dumps     string
	Crashes   string
	Results   string
	ModelFile string
}

func (c Config) Layout() Layout {
	return Layout{
		Root:      c.Workspace,
		Dumps:     filepath.Join(c.Workspace, "dumps"),
		Crashes:   filepath.Join(c.Workspace, "crashes"),
		Results:   filepath.Join(c.Workspace, "results"),
		ModelFile: filepath.Join(c.Workspace, "model.bin"),
	}
}

// ParseArgs hand-scans a flag-ish argument list ("--key value" or
// "--key=value"), the same manual style cmd/sentra/main.go uses for
// its own subcommands rather than reaching for a flag package.
var boolFlags = map[string]bool{"--slow-strategies": true, "--mock": true}

func ParseArgs(args []string, cfg *Config) error {
	for i := 0; i < len(args); i++ {
		key, value, hasValue := splitFlag(args[i])
		if !hasValue && !boolFlags[key] && i+1 < len(args) {
			value = args[i+1]
			i++
		}
		switch key {
		case "--workspace", "-w":
			cfg.Workspace = value
		case "--command":
			cfg.CommandTemplate = value
		case "--model-dsn":
			cfg.ModelDSN = value
		case "--max-processes":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("--max-processes: %w", err)
			}
			cfg.MaxNumProcesses = n
		case "--timeout-ms":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("--timeout-ms: %w", err)
			}
			cfg.ProcessTimeout = time.Duration(n) * time.Millisecond
		case "--pop-min":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("--pop-min: %w", err)
			}
			cfg.PopulationMin = n
		case "--pop-max":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("--pop-max: %w", err)
			}
			cfg.PopulationMax = n
		case "--max-stagnation":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("--max-stagnation: %w", err)
			}
			cfg.MaxStagnation = n
		case "--slow-strategies":
			cfg.SlowStrategies = true
		case "--mock":
			cfg.Mock = true
		case "--seed":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("--seed: %w", err)
			}
			cfg.RNGSeed = n
		case "--ui-addr":
			cfg.UIAddr = value
		default:
			return fmt.Errorf("unknown flag %q", key)
		}
	}
	if cfg.CommandTemplate == "" && !cfg.Mock {
		return fmt.Errorf("--command is required")
	}
	return nil
}

func splitFlag(arg string) (key, value string, hasValue bool) {
	for i, r := range arg {
		if r == '=' {
			return arg[:i], arg[i+1:], true
		}
	}
	return arg, "", false
}
