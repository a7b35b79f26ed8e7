// Package driver is the fuzzer's composition root (spec section 2's
// data flow, section 7's error propagation): it wires the model store,
// trace transport, process orchestrator, crash pipeline, population,
// and evolver into one generational loop, owns graceful shutdown, and
// checkpoints the best-set periodically.
package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"sentra-fuzz/internal/arena"
	"sentra-fuzz/internal/config"
	"sentra-fuzz/internal/crashpipeline"
	"sentra-fuzz/internal/evolver"
	"sentra-fuzz/internal/ferrors"
	"sentra-fuzz/internal/flog"
	"sentra-fuzz/internal/mocker"
	"sentra-fuzz/internal/model"
	"sentra-fuzz/internal/orchestrator"
	"sentra-fuzz/internal/population"
	"sentra-fuzz/internal/scoreboard"
	"sentra-fuzz/internal/trace"
	"sentra-fuzz/internal/uiserver"
)

// traceRegionBaseSize is the initial shared trace region size; the
// region grows on demand (internal/trace.Region.growLocked).
const traceRegionBaseSize = 4 << 20

// drainPollInterval is how often a generation's dispatched testcases
// are polled for trace completion.
const drainPollInterval = 5 * time.Millisecond

// drainGrace is added to the configured process timeout before a
// still-incomplete trace is abandoned for the generation (the
// orchestrator's own watcher has already sent the controlled-timeout
// signal by then; this is just how long the driver waits for the
// resulting `timed_out` record to land).
const drainGrace = 250 * time.Millisecond

// checkpointEvery is how many generations pass between
// results/checkpoint-<generation>.json writes.
const checkpointEvery = 50

// Driver owns every long-lived component for one fuzzing run.
type Driver struct {
	cfg    config.Config
	layout config.Layout
	log    *flog.Logger

	store   *model.Store
	region  *trace.Region
	drainer *trace.Drainer

	arena      *arena.Arena
	scoreboard *scoreboard.Scoreboard
	population *population.Population
	evolver    *evolver.Evolver

	orchestrator *orchestrator.Orchestrator
	crashes      *crashpipeline.Pipeline
	ui           *uiserver.Server

	// mock is non-nil for a --mock run (§8a): runGeneration then
	// generates synthetic traces instead of dispatching/draining real
	// target processes, and store is a blind model.Store.
	mock *mocker.Generator

	nextTestcaseID uint64 // atomic
}

// New wires every component from cfg. decoder may be nil, in which
// case crash dumps are archived-never (logged and skipped) until a
// real minidump decoder is plugged in.
func New(cfg config.Config, decoder crashpipeline.Decoder) (*Driver, error) {
	layout := cfg.Layout()
	for _, dir := range []string{layout.Root, layout.Dumps, layout.Crashes, layout.Results} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, ferrors.New(ferrors.Init, "driver", dir, "create workspace directory", err)
		}
	}

	var store *model.Store
	if cfg.Mock {
		store = model.OpenBlind()
	} else {
		var err error
		store, err = model.Open(cfg.ModelDSN)
		if err != nil {
			return nil, ferrors.New(ferrors.Init, "driver", cfg.ModelDSN, "open model store", err)
		}
	}

	region, err := trace.Open(cfg.Workspace, traceRegionBaseSize)
	if err != nil {
		store.Close()
		return nil, ferrors.New(ferrors.Init, "driver", cfg.Workspace, "open trace region", err)
	}

	seeds, err := loadSeeds(filepath.Join(cfg.Workspace, "seeds"))
	if err != nil {
		store.Close()
		region.Close()
		return nil, ferrors.New(ferrors.Init, "driver", cfg.Workspace, "load seeds", err)
	}

	a := arena.New()
	individuals := make([]population.Individual, 0, len(seeds))
	for _, s := range seeds {
		individuals = append(individuals, population.Individual{Slot: a.Create(s)})
	}
	pop := population.New(individuals)

	sb := scoreboard.New(store)
	rng := rand.New(rand.NewSource(cfg.RNGSeed))
	ev := evolver.New(a, sb, pop, rng, cfg.PopulationMin, cfg.PopulationMax, cfg.MaxStagnation, cfg.SlowStrategies)

	orch := orchestrator.New(cfg.CommandTemplate, cfg.Workspace, cfg.MaxNumProcesses, cfg.ProcessTimeout)

	if decoder == nil {
		decoder = unavailableDecoder{}
	}
	crashes := crashpipeline.New(cfg.Workspace, decoder)

	var ui *uiserver.Server
	if cfg.UIAddr != "" {
		ui = uiserver.New(cfg.UIAddr)
	}

	var mock *mocker.Generator
	if cfg.Mock {
		mock = mocker.New(rng)
	}

	return &Driver{
		cfg:          cfg,
		layout:       layout,
		log:          flog.New("driver"),
		store:        store,
		region:       region,
		drainer:      trace.NewDrainer(region),
		arena:        a,
		scoreboard:   sb,
		population:   pop,
		evolver:      ev,
		orchestrator: orch,
		crashes:      crashes,
		ui:           ui,
		mock:         mock,
	}, nil
}

// Close releases the store and trace region. Call after Run returns.
func (d *Driver) Close() error {
	d.orchestrator.Shutdown()
	if err := d.region.Close(); err != nil {
		d.log.Printf("close trace region: %v", err)
	}
	return d.store.Close()
}

// Run drives generations until ctx is cancelled, running the
// orchestrator watcher, crash pipeline, and (if configured) UI
// broadcaster as sibling tasks (spec section 5's "parallel workers...
// a single watcher task... a single crash-pipeline task").
func (d *Driver) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.orchestrator.Watch(gctx)
		return nil
	})
	g.Go(func() error {
		d.crashes.Watch(gctx)
		return nil
	})
	if d.ui != nil {
		d.ui.Start(gctx)
	}
	g.Go(func() error {
		return d.generationLoop(gctx)
	})

	return g.Wait()
}

// generationLoop runs Step-sized units of work until cancelled. Any
// non-fatal error is logged and the run continues (spec section 7:
// "worker tasks never unwind the driver").
func (d *Driver) generationLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := d.runGeneration(ctx); err != nil {
			if ferrors.IsFatal(err) {
				return err
			}
			d.log.Printf("generation %d: %v", d.evolver.Generation, err)
		}
	}
}

// runGeneration dispatches one process per current individual,
// collects traces, integrates them into the scoreboard, advances the
// evolver by one Step, and broadcasts/checkpoints as configured. In a
// --mock run (§8a) it generates and integrates synthetic traces
// directly instead, bypassing the orchestrator and trace drainer
// entirely.
func (d *Driver) runGeneration(ctx context.Context) error {
	if d.mock != nil {
		d.runMockGeneration()
		d.evolver.Step()
		return d.afterStep()
	}

	pids := make([]int, 0, len(d.population.Individuals))

	for i := range d.population.Individuals {
		ind := &d.population.Individuals[i]
		ind.TestcaseID = atomic.AddUint64(&d.nextTestcaseID, 1)

		payload := d.arena.Bytes(ind.Slot)
		pid, err := d.orchestrator.Dispatch(ctx, ind.TestcaseID, payload)
		if err != nil {
			d.log.Printf("dispatch testcase %d: %v", ind.TestcaseID, err)
			continue
		}
		pids = append(pids, pid)
	}

	deadline := d.cfg.ProcessTimeout + drainGrace
	for _, ind := range d.population.Individuals {
		d.drainer.WaitComplete(ind.TestcaseID, drainPollInterval, deadline)
	}
	d.drainer.Poll()

	for _, ind := range d.population.Individuals {
		for _, r := range d.drainer.Records(ind.TestcaseID) {
			if err := d.scoreboard.Integrate(ind.TestcaseID, r); err != nil {
				d.log.Printf("integrate testcase %d: %v", ind.TestcaseID, err)
			}
		}
		d.drainer.Remove(ind.TestcaseID)
	}

	for _, pid := range pids {
		d.orchestrator.Remove(pid)
	}

	d.evolver.Step()
	return d.afterStep()
}

// runMockGeneration assigns each individual a testcase id and
// integrates one internal/mocker-generated trace for it, with no
// target process involved.
func (d *Driver) runMockGeneration() {
	for i := range d.population.Individuals {
		ind := &d.population.Individuals[i]
		ind.TestcaseID = atomic.AddUint64(&d.nextTestcaseID, 1)
		for _, r := range d.mock.GenerateRandomTrace(ind.TestcaseID) {
			if err := d.scoreboard.Integrate(ind.TestcaseID, r); err != nil {
				d.log.Printf("integrate mock testcase %d: %v", ind.TestcaseID, err)
			}
		}
	}
}

// afterStep runs the broadcast/checkpoint tail shared by both the real
// and mock generation paths.
func (d *Driver) afterStep() error {
	if d.ui != nil {
		if err := d.ui.Broadcast(d.statusSnapshot()); err != nil {
			d.log.Printf("broadcast status: %v", err)
		}
	}

	if d.evolver.Generation%checkpointEvery == 0 {
		if err := d.checkpoint(); err != nil {
			d.log.Printf("checkpoint: %v", err)
		}
	}

	return nil
}

// statusSnapshot builds the frame broadcast to UI observers.
func (d *Driver) statusSnapshot() uiserver.Status {
	best := d.population.Best.GetBest(1)
	var bestEdge, bestGoal int64
	if len(best) > 0 {
		edge, goal := d.scoreboard.Scores(best[0].TestcaseID)
		bestEdge, bestGoal = edge.Norm(), goal.Norm()
	}
	return uiserver.Status{
		Generation:     d.evolver.Generation,
		Stagnation:     d.evolver.Stagnation,
		PopulationSize: len(d.population.Individuals),
		BestSetSize:    d.population.Best.Len(),
		BestEdgeNorm:   bestEdge,
		BestGoalNorm:   bestGoal,
		Processes:      d.orchestrator.Snapshot(),
		CrashKinds:     uiserver.CrashKindsFrom(d.crashes.KindCounts()),
	}
}

// checkpointEntry is one best-set member's archived form.
type checkpointEntry struct {
	Content    string `json:"content_hex"`
	EdgeNorm   int64  `json:"edge_norm"`
	GoalNorm   int64  `json:"goal_norm"`
	Length     int    `json:"length"`
	TestcaseID uint64 `json:"testcase_id"`
}

// checkpointFile is the on-disk shape of results/checkpoint-<gen>.json
// (spec section 14's "ambient convenience" use of the reserved
// results/ directory, not a scored artifact).
type checkpointFile struct {
	Generation int               `json:"generation"`
	Stagnation int               `json:"stagnation"`
	BestSet    []checkpointEntry `json:"best_set"`
}

// checkpoint serializes the current best-set to
// results/checkpoint-<generation>.json.
func (d *Driver) checkpoint() error {
	best := d.population.Best.GetBestEntries(d.population.Best.Len())
	entries := make([]checkpointEntry, 0, len(best))
	for _, e := range best {
		entries = append(entries, checkpointEntry{
			Content:    fmt.Sprintf("%x", d.arena.Bytes(e.Ind.Slot)),
			EdgeNorm:   e.Measure.Edge.Norm(),
			GoalNorm:   e.Measure.Goal.Norm(),
			Length:     e.Measure.Length,
			TestcaseID: e.Ind.TestcaseID,
		})
	}

	body, err := json.MarshalIndent(checkpointFile{
		Generation: d.evolver.Generation,
		Stagnation: d.evolver.Stagnation,
		BestSet:    entries,
	}, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(d.layout.Results, fmt.Sprintf("checkpoint-%d.json", d.evolver.Generation))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return err
	}

	return d.writeCoverageDOT()
}

// writeCoverageDOT exports the current coverage graph alongside the
// checkpoint (spec §8's ToDOT).
func (d *Driver) writeCoverageDOT() error {
	path := filepath.Join(d.layout.Results, fmt.Sprintf("coverage-%d.dot", d.evolver.Generation))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return d.scoreboard.ToDOT(f)
}
