package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taskswarm/orchestrator/internal/actor"
	"github.com/taskswarm/orchestrator/internal/blackboard"
	"github.com/taskswarm/orchestrator/internal/bus"
	"github.com/taskswarm/orchestrator/internal/config"
	"github.com/taskswarm/orchestrator/internal/dispatcher"
	"github.com/taskswarm/orchestrator/internal/knowledge"
	"github.com/taskswarm/orchestrator/internal/log"
	"github.com/taskswarm/orchestrator/internal/memory"
	"github.com/taskswarm/orchestrator/internal/runtime"
	"github.com/taskswarm/orchestrator/internal/sidecar"
	"github.com/taskswarm/orchestrator/internal/skillprofile"
	"github.com/taskswarm/orchestrator/internal/skillregistry"
	"github.com/taskswarm/orchestrator/internal/taskgraph"
	"github.com/taskswarm/orchestrator/internal/telemetry"
	"github.com/taskswarm/orchestrator/internal/viewport"
	"github.com/taskswarm/orchestrator/internal/viewport/tui"
	"github.com/taskswarm/orchestrator/internal/worker"
	"github.com/taskswarm/orchestrator/internal/workersupervisor"
)

var (
	headless bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration daemon until interrupted",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&headless, "headless", true, "run without the bubbletea reference viewport (log-only)")
}

// systemDirectory adapts actor.System's unconditional RefFor into the
// (Ref, bool) shape dispatcher.WorkerDirectory and
// taskgraph.WorkerDirectory expect, since liveness is only knowable
// via Ref.Valid() after the lookup.
type systemDirectory struct{ sys *actor.System }

func (d systemDirectory) RefFor(id string) (actor.Ref, bool) {
	ref := d.sys.RefFor(id)
	return ref, ref.Valid()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logCleanup, err := log.Init(cfg.LogPath, cfg.LogBufferSize)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logCleanup()

	telemetryShutdown, err := telemetry.Init(cmd.Context(), telemetry.Config{Exporter: telemetry.ExporterStdout})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer telemetryShutdown(context.Background())

	if err := os.MkdirAll(cfg.MemoryBaseDir, 0o755); err != nil {
		return fmt.Errorf("creating memory base dir: %w", err)
	}
	sidecarClient, err := sidecar.Open(cfg.SidecarPath)
	if err != nil {
		return fmt.Errorf("opening sidecar store: %w", err)
	}

	sys := actor.NewSystem()
	eventBus := bus.New()
	registry := skillregistry.New()
	board := blackboard.New(eventBus)
	_ = board // exposed for future signal-publish wiring; constructed and tested standalone

	viewportBridge := viewport.New()
	if !headless {
		sink := tui.NewSink()
		viewportBridge.RegisterSink(sink)
		go func() {
			if err := sink.Run(); err != nil {
				log.ErrorErr(log.CatViewport, "viewport program exited with error", err)
			}
		}()
	}
	viewportRef := sys.Spawn(cmd.Context(), "viewport", 256, actor.RestartPolicy{}, func(self actor.Ref) actor.Behavior {
		return viewportBridge.Behavior()
	})

	directory := systemDirectory{sys: sys}

	dispatcherCfg := dispatcher.Config{
		Registry:  registry,
		Directory: directory,
		Bus:       eventBus,
		BidWindow: cfg.BidWindow,
	}
	disp := dispatcher.New(dispatcherCfg)
	dispatcherRef := sys.Spawn(cmd.Context(), "dispatcher", 256, actor.DefaultRestartPolicy, func(self actor.Ref) actor.Behavior {
		return disp.Behavior(self)
	})

	graphCfg := taskgraph.Config{
		Dispatcher:                  dispatcherRef,
		Directory:                   directory,
		Bus:                         eventBus,
		Viewport:                    viewportRef,
		MaxDepth:                    cfg.MaxDecompositionDepth,
		MaxSubtasksPerDecomposition: cfg.MaxSubtasksPerDecomposition,
		MaxNodesPerGraph:            cfg.MaxNodesPerGraph,
	}
	graph := taskgraph.New(graphCfg)
	sys.Spawn(cmd.Context(), "taskgraph", 256, actor.DefaultRestartPolicy, func(self actor.Ref) actor.Behavior {
		return graph.Behavior(self)
	})

	supervisor := workersupervisor.New(sys, viewportRef)

	profiles, err := skillprofile.LoadDir(cfg.SkillProfileDir)
	if err != nil {
		log.Warn(log.CatSkill, "no skill profiles loaded at startup, continuing with none", "dir", cfg.SkillProfileDir, "error", err.Error())
		profiles = map[string]skillprofile.Profile{}
	}
	for id, p := range profiles {
		spawnWorkerFromProfile(cmd.Context(), supervisor, cfg, sidecarClient, eventBus, registry, viewportRef, id, p)
	}

	watcher, err := skillprofile.NewWatcher(cfg.SkillProfileDir, func(reloaded map[string]skillprofile.Profile) {
		for id, p := range reloaded {
			if _, ok := registry.Capabilities(id); ok {
				continue
			}
			spawnWorkerFromProfile(cmd.Context(), supervisor, cfg, sidecarClient, eventBus, registry, viewportRef, id, p)
		}
	})
	if err != nil {
		log.Warn(log.CatWatcher, "skill profile hot-reload disabled", "error", err.Error())
	} else {
		defer watcher.Close()
	}

	log.Info(log.CatActor, "orchestratord started", "workers", len(profiles))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info(log.CatActor, "orchestratord shutting down")
	for _, id := range supervisor.Active() {
		supervisor.StopWorker(id, false)
	}
	sys.Wait()
	return nil
}

func spawnWorkerFromProfile(
	ctx context.Context,
	supervisor *workersupervisor.Supervisor,
	cfg *config.Config,
	sidecarClient sidecar.Client,
	eventBus *bus.Bus,
	registry *skillregistry.Registry,
	viewportRef actor.Ref,
	workerID string,
	profile skillprofile.Profile,
) {
	workerCfg := worker.Config{
		ID:               workerID,
		Capabilities:     profile.Capabilities,
		Concurrency:      cfg.DefaultConcurrencyLimit,
		KnowledgeTimeout: cfg.KnowledgeRetrievalTimeout,
		RuntimeConfig: runtime.Config{
			Kind:       runtime.KindSubprocess,
			Executable: cfg.DefaultRuntimeID,
			Env:        cfg.RuntimeEnv,
			WorkDir:    cfg.RuntimeWorkDir,
		},
		Registry:  registry,
		Bus:       eventBus,
		Knowledge: knowledge.New(workerID, sidecarClient),
		Memory:    memory.New(workerID, sidecarClient, cfg.MemoryCommitDebounce),
		Viewport:  viewportRef,
	}
	supervisor.SpawnWorker(ctx, workerCfg)
}
