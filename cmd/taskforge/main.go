package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/taskforge/internal/collab"
	"github.com/msageha/taskforge/internal/gitx"
	"github.com/msageha/taskforge/internal/logx"
	"github.com/msageha/taskforge/internal/model"
	"github.com/msageha/taskforge/internal/orchestrator"
	"github.com/msageha/taskforge/internal/scheduler"
	"github.com/msageha/taskforge/internal/stage"
	"github.com/msageha/taskforge/internal/store"
	"github.com/msageha/taskforge/templates"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runRun(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "stats":
		runStats(os.Args[2:])
	case "verify":
		runVerify(os.Args[2:])
	case "init":
		runInit(os.Args[2:])
	case "version":
		fmt.Printf("taskforge %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`taskforge — turn tutorial videos and companion repositories into verifiable coding tasks

Usage:
  taskforge run    [--stage <name>] [--all] [--videos a,b] [--repos a,b] [--tasks a,b]
                   [--retry-failed] [--resume] [--dry-run] [--workers N] [--config path]
  taskforge watch  [--config path]
  taskforge stats  [--config path]
  taskforge verify [--config path]
  taskforge init   [dir]
  taskforge version
`)
}

// runFlags is the hand-parsed flag set shared by run and watch.
type runFlags struct {
	configPath  string
	stages      []string
	videos      []string
	repos       []string
	tasks       []string
	retryFailed bool
	resume      bool
	dryRun      bool
	workers     int
}

func parseRunFlags(args []string) (runFlags, error) {
	f := runFlags{configPath: "config.yaml"}

	next := func(i int, flag string) (string, error) {
		if i+1 >= len(args) {
			return "", fmt.Errorf("%s requires a value", flag)
		}
		return args[i+1], nil
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			v, err := next(i, "--config")
			if err != nil {
				return f, err
			}
			f.configPath = v
			i++
		case "--stage":
			v, err := next(i, "--stage")
			if err != nil {
				return f, err
			}
			f.stages = append(f.stages, splitList(v)...)
			i++
		case "--all":
			f.stages = nil
		case "--videos":
			v, err := next(i, "--videos")
			if err != nil {
				return f, err
			}
			f.videos = splitList(v)
			i++
		case "--repos":
			v, err := next(i, "--repos")
			if err != nil {
				return f, err
			}
			f.repos = splitList(v)
			i++
		case "--tasks":
			v, err := next(i, "--tasks")
			if err != nil {
				return f, err
			}
			f.tasks = splitList(v)
			i++
		case "--retry-failed":
			f.retryFailed = true
		case "--resume":
			f.resume = true
		case "--dry-run":
			f.dryRun = true
		case "--workers":
			v, err := next(i, "--workers")
			if err != nil {
				return f, err
			}
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return f, fmt.Errorf("--workers needs a positive integer, got %q", v)
			}
			f.workers = n
			i++
		default:
			return f, fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runRun(args []string) {
	flags, err := parseRunFlags(args)
	if err != nil {
		fatal("run: %v", err)
	}

	orch, _, err := buildOrchestrator(flags, !flags.dryRun)
	if err != nil {
		fatal("run: %v", err)
	}

	opts := orchestrator.Options{
		Stages:      flags.stages,
		RetryFailed: flags.retryFailed,
		Resume:      flags.resume,
		DryRun:      flags.dryRun,
		IDs:         map[model.Variant][]string{},
	}
	if len(flags.videos) > 0 {
		opts.IDs[model.VariantVideo] = flags.videos
	}
	if len(flags.repos) > 0 {
		opts.IDs[model.VariantRepository] = flags.repos
	}
	if len(flags.tasks) > 0 {
		opts.IDs[model.VariantTask] = flags.tasks
	}

	report, err := orch.Run(signalContext(), opts)
	if err != nil {
		fatal("run: %v", err)
	}
	fmt.Print(report.String())
	if report.HasFailures() {
		os.Exit(1)
	}
}

func runWatch(args []string) {
	flags, err := parseRunFlags(args)
	if err != nil {
		fatal("watch: %v", err)
	}

	orch, cfg, err := buildOrchestrator(flags, true)
	if err != nil {
		fatal("watch: %v", err)
	}

	if err := orch.Watch(signalContext(), cfg.Pipeline.SourcesFile); err != nil {
		fatal("watch: %v", err)
	}
}

func runStats(args []string) {
	flags, err := parseRunFlags(args)
	if err != nil {
		fatal("stats: %v", err)
	}
	orch, _, err := buildOrchestrator(flags, false)
	if err != nil {
		fatal("stats: %v", err)
	}
	stats, err := orch.Stats()
	if err != nil {
		fatal("stats: %v", err)
	}
	fmt.Print(stats.String())
}

func runVerify(args []string) {
	flags, err := parseRunFlags(args)
	if err != nil {
		fatal("verify: %v", err)
	}
	orch, _, err := buildOrchestrator(flags, false)
	if err != nil {
		fatal("verify: %v", err)
	}
	problems, err := orch.Verify()
	if err != nil {
		fatal("verify: %v", err)
	}
	if len(problems) == 0 {
		fmt.Println("ok: data directory structure is consistent")
		return
	}
	for _, p := range problems {
		fmt.Println(p)
	}
	os.Exit(1)
}

// runInit writes the default config and a sources skeleton into dir so a
// new project starts from a working layout.
func runInit(args []string) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		fatal("init: %v", err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		fatal("init: %s already exists", configPath)
	}
	defaultConfig, err := templates.FS.ReadFile("config.yaml")
	if err != nil {
		fatal("init: %v", err)
	}
	if err := os.WriteFile(configPath, defaultConfig, 0644); err != nil {
		fatal("init: %v", err)
	}

	sourcesPath := filepath.Join(dir, "sources.yaml")
	if _, err := os.Stat(sourcesPath); os.IsNotExist(err) {
		skeleton := "videos: []\nrepos: []\n"
		if err := os.WriteFile(sourcesPath, []byte(skeleton), 0644); err != nil {
			fatal("init: %v", err)
		}
	}

	absDir, _ := filepath.Abs(dir)
	fmt.Printf("Initialized taskforge project in %s\n", absDir)
}

// loadConfig reads the config file, falling back to the embedded default
// when the file is absent.
func loadConfig(path string) (model.Config, error) {
	var cfg model.Config

	content, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		content, err = templates.FS.ReadFile("config.yaml")
		if err != nil {
			return cfg, fmt.Errorf("read embedded config: %w", err)
		}
	}
	if err := yamlv3.Unmarshal(content, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// buildOrchestrator wires the full dependency graph. needLLM gates the
// OpenAI client so stats, verify, and dry runs work without an API key.
func buildOrchestrator(flags runFlags, needLLM bool) (*orchestrator.Orchestrator, model.Config, error) {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return nil, cfg, err
	}
	if flags.workers > 0 {
		cfg.Pipeline.Workers = flags.workers
	}

	logger := logx.New(os.Stderr, logx.ParseLevel(cfg.Logging.Level), "taskforge")

	sources, err := orchestrator.LoadSources(cfg.Pipeline.SourcesFile)
	if err != nil {
		return nil, cfg, err
	}
	// One view for the orchestrator and the executors, so watch-mode
	// reloads reach both.
	sourceView := model.NewSourceView(sources)

	env := &stage.Env{
		Config:      cfg,
		Sources:     sourceView,
		Transcripts: collab.NewHTTPTranscriptFetcher(30 * time.Second),
		Runner:      collab.NewGodotRunner(cfg.Validator),
		Extractor:   gitx.NewExtractor(cfg.FilePatterns(), logger.WithComponent("extractor")),
		Logger:      logger.WithComponent("stage"),
	}
	if needLLM {
		llm, err := collab.NewOpenAIClient(cfg.LLM, logger.WithComponent("llm"))
		if err != nil {
			return nil, cfg, err
		}
		env.LLM = llm
	}

	reg, err := stage.DefaultRegistry(env)
	if err != nil {
		return nil, cfg, err
	}

	st := store.New(cfg.Pipeline.DataDir, reg.StagesByVariant())
	env.Store = st

	pool := scheduler.New(st, cfg.WorkerCount(), logger.WithComponent("scheduler"))
	return orchestrator.New(cfg, sourceView, st, reg, pool, logger.WithComponent("orchestrator")), cfg, nil
}

// signalContext cancels on SIGINT/SIGTERM; a second signal force-exits.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "interrupt: finishing in-flight items (again to force exit)")
		cancel()
		<-sigCh
		os.Exit(1)
	}()
	return ctx
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
