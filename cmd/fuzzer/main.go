// cmd/fuzzer/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentra-fuzz/internal/config"
	"sentra-fuzz/internal/driver"
	"sentra-fuzz/internal/model"
	"sentra-fuzz/internal/orchestrator"
	"sentra-fuzz/internal/scoreboard"
	"sentra-fuzz/internal/trace"
)

const version = "0.1.0"

// commandAliases mirrors cmd/sentra/main.go's short-form aliases.
var commandAliases = map[string]string{
	"r": "run",
	"p": "replay",
	"m": "model",
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		showUsage()
		return
	}

	cmd := args[0]
	if alias, ok := commandAliases[cmd]; ok {
		cmd = alias
	}

	if cmd == "--help" || cmd == "-h" || cmd == "help" {
		showUsage()
		return
	}
	if cmd == "--version" || cmd == "-v" || cmd == "version" {
		fmt.Printf("fuzzer %s\n", version)
		return
	}

	switch cmd {
	case "run":
		if err := runCommand(args[1:]); err != nil {
			log.Fatalf("run: %v", err)
		}
	case "replay":
		if err := replayCommand(args[1:]); err != nil {
			log.Fatalf("replay: %v", err)
		}
	case "model":
		if err := modelCommand(args[1:]); err != nil {
			log.Fatalf("model: %v", err)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		showUsage()
		os.Exit(1)
	}
}

// runCommand starts the full generational loop, driven until SIGINT
// or SIGTERM, the way cmd/sentra/main.go's "watch" command runs until
// interrupted.
func runCommand(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: fuzzer run --workspace <dir> --command <template> [flags]")
	}
	cfg := config.Default("")
	if err := config.ParseArgs(args, &cfg); err != nil {
		return err
	}
	if cfg.Workspace == "" {
		return fmt.Errorf("--workspace is required")
	}

	d, err := driver.New(cfg, nil)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("fuzzer starting in %s (command=%q, max-processes=%d)", cfg.Workspace, cfg.CommandTemplate, cfg.MaxNumProcesses)
	return d.Run(ctx)
}

// replayCommand dispatches a single payload file through one target
// process and prints the resulting edge/goal scores, for investigating
// a saved testcase without running the full evolutionary loop.
func replayCommand(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: fuzzer replay --workspace <dir> --command <template> --input <file>")
	}
	cfg := config.Default("")
	var inputPath string
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "--input" && i+1 < len(args) {
			inputPath = args[i+1]
			i++
			continue
		}
		rest = append(rest, args[i])
	}
	if err := config.ParseArgs(rest, &cfg); err != nil {
		return err
	}
	if inputPath == "" {
		inputPath = args[len(args)-1]
	}

	payload, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	store, err := model.Open(cfg.ModelDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	region, err := trace.Open(cfg.Workspace, 4<<20)
	if err != nil {
		return err
	}
	defer region.Close()

	orch := orchestrator.New(cfg.CommandTemplate, cfg.Workspace, 1, cfg.ProcessTimeout)
	drainer := trace.NewDrainer(region)
	sb := scoreboard.New(store)

	const testcaseID = 1
	if _, err := orch.Dispatch(context.Background(), testcaseID, payload); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	drainer.WaitComplete(testcaseID, 5*time.Millisecond, cfg.ProcessTimeout+time.Second)
	drainer.Poll()

	for _, r := range drainer.Records(testcaseID) {
		if err := sb.Integrate(testcaseID, r); err != nil {
			log.Printf("integrate: %v", err)
		}
	}

	edge, goal := sb.Scores(testcaseID)
	fmt.Printf("edge:  absolute=%d diff=%d norm=%d\n", edge.Absolute, edge.Diff, edge.Norm())
	fmt.Printf("goal:  absolute=%d diff=%d norm=%d\n", goal.Absolute, goal.Diff, goal.Norm())
	return nil
}

// modelCommand inspects the model store without running the fuzzer,
// the way cmd/sentra/main.go's "check" inspects a source file without
// running it.
func modelCommand(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: fuzzer model info --model-dsn <dsn>")
	}
	sub := args[0]
	var dsn string
	for i := 1; i < len(args); i++ {
		if args[i] == "--model-dsn" && i+1 < len(args) {
			dsn = args[i+1]
			i++
		}
	}
	if dsn == "" {
		return fmt.Errorf("--model-dsn is required")
	}

	switch sub {
	case "info":
		store, err := model.Open(dsn)
		if err != nil {
			return err
		}
		defer store.Close()
		fmt.Printf("model store %s: next element id %d\n", dsn, store.NextID())
		return nil
	default:
		return fmt.Errorf("unknown model subcommand: %s", sub)
	}
}

func showUsage() {
	fmt.Println(`fuzzer - coverage-guided mutational fuzzer

Usage:
  fuzzer run --workspace <dir> --command <template> [flags]
  fuzzer replay --workspace <dir> --command <template> --input <file>
  fuzzer model info --model-dsn <dsn>
  fuzzer version

Flags for run/replay:
  --workspace, -w <dir>       workspace root ("idir")
  --command <template>        command template, exactly one of __INPUT__/__FILE__
  --model-dsn <dsn>           model store DSN (default sqlite file under workspace)
  --max-processes <n>         max live target processes
  --timeout-ms <n>            per-process timeout
  --pop-min <n>                minimum population size
  --pop-max <n>                maximum population size
  --max-stagnation <n>        generations before global perturbation
  --slow-strategies           enable alignment crossover / closeness mating
  --seed <n>                  RNG seed
  --ui-addr <addr>            websocket status server address ("" disables it)
  --mock                      run against generated traces, no target/model needed (implies no --command)`)
}
