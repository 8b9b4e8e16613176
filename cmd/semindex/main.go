// Command semindex is the CLI entrypoint: index/search/watch/status/stats/
// clear/rebuild/bench over one or more folders, plus an interactive tui
// search screen. Grounded on sift's cmd/sift/main.go (cobra command tree,
// signal-based cancellation, progress printer, home-relative config file).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/semindex/semindex/internal/changedetector"
	"github.com/semindex/semindex/internal/config"
	"github.com/semindex/semindex/internal/embed"
	"github.com/semindex/semindex/internal/filestate"
	"github.com/semindex/semindex/internal/logger"
	"github.com/semindex/semindex/internal/model"
	"github.com/semindex/semindex/internal/pipeline"
	"github.com/semindex/semindex/internal/query"
	"github.com/semindex/semindex/internal/scheduler"
	"github.com/semindex/semindex/internal/semantic"
	"github.com/semindex/semindex/internal/store"
	semindextui "github.com/semindex/semindex/internal/tui"
	"github.com/semindex/semindex/internal/watcher"
)

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".semindex"
	}
	return filepath.Join(home, ".config", "semindex")
}

// applyProjectTOML overrides cfg's embedding settings from an optional
// .semindex.toml in the current directory, the way sift's cmd/sift/main.go
// loads .sift.toml: read-if-present, ignore a missing file, apply only the
// fields actually set.
func applyProjectTOML(cfg *config.Config) error {
	b, err := os.ReadFile(".semindex.toml")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var proj struct {
		ModelDir   string `toml:"model-dir"`
		OrtLib     string `toml:"ort-lib"`
		Threads    int    `toml:"threads"`
		BatchSize  int    `toml:"batch-size"`
		DefaultLLM string `toml:"default-model"`
	}
	if err := toml.Unmarshal(b, &proj); err != nil {
		return err
	}
	ec := cfg.GetEmbedding()
	if proj.ModelDir != "" {
		ec.ModelDir = proj.ModelDir
	}
	if proj.OrtLib != "" {
		ec.OrtLibPath = proj.OrtLib
	}
	if proj.Threads > 0 {
		ec.NumThreads = proj.Threads
	}
	if proj.BatchSize > 0 {
		ec.BatchSize = proj.BatchSize
	}
	if proj.DefaultLLM != "" {
		ec.DefaultModelID = proj.DefaultLLM
	}
	cfg.SetEmbedding(ec)
	return nil
}

func main() {
	var configPath string
	var registryPath string

	root := &cobra.Command{
		Use:   "semindex",
		Short: "Local, folder-scoped semantic search indexer",
		Long:  "semindex — parses, chunks, embeds and indexes local folders for offline semantic search.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", filepath.Join(defaultConfigDir(), "config.json"), "daemon configuration file")
	root.PersistentFlags().StringVar(&registryPath, "folders", filepath.Join(defaultConfigDir(), "folders.yaml"), "folder registry file")

	loadApp := func() (*app, error) {
		cfg := config.New()
		if err := cfg.LoadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if err := applyProjectTOML(cfg); err != nil {
			return nil, fmt.Errorf("load .semindex.toml: %w", err)
		}
		cfg.ApplyEnvOverrides()
		logCfg := logger.Config{
			Level:         logger.INFO,
			LogDir:        filepath.Join(defaultConfigDir(), "logs"),
			FileName:      "semindex.log",
			ConsoleOutput: true,
			ConsoleColor:  true,
		}
		if err := logger.Initialize(logCfg, nil); err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
		return newApp(cfg), nil
	}

	resolveFolders := func(a *app, args []string) ([]model.FolderConfig, error) {
		reg, err := config.LoadFolderRegistry(registryPath)
		if err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return reg.Folders, nil
		}
		var out []model.FolderConfig
		for _, arg := range args {
			abs, err := filepath.Abs(arg)
			if err != nil {
				return nil, err
			}
			found := false
			for _, f := range reg.Folders {
				if f.ResolvedAbsolutePath == abs {
					out = append(out, f)
					found = true
					break
				}
			}
			if !found {
				out = append(out, model.FolderConfig{
					Name:                 filepath.Base(abs),
					ResolvedAbsolutePath: abs,
					ModelID:              a.cfg.GetEmbedding().DefaultModelID,
				})
			}
		}
		return out, nil
	}

	// ---- semindex register <dir> -------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "register <dir>",
		Short: "Add a folder to the registry so index/watch pick it up when run without arguments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			reg, err := config.LoadFolderRegistry(registryPath)
			if err != nil {
				return err
			}
			if err := reg.Add(model.FolderConfig{Name: filepath.Base(abs), ResolvedAbsolutePath: abs}); err != nil {
				return err
			}
			return reg.Save(registryPath)
		},
	})

	// ---- semindex index [dir...] -------------------------------------------
	var continueOnError bool
	indexCmd := &cobra.Command{
		Use:   "index [dir...]",
		Short: "Index the named folders, or every registered folder if none are given",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			folders, err := resolveFolders(a, args)
			if err != nil {
				return err
			}
			if len(folders) == 0 {
				fmt.Fprintln(os.Stderr, "no folders to index — pass a path or run `semindex register <dir>` first")
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sc := a.scheduler(ctx)
			defer sc.Close()

			opts := model.IndexingOptions{ContinueOnError: continueOnError}
			result := sc.IndexAll(ctx, folders, opts)
			for _, fr := range result.Folders {
				status := "ok"
				if fr.Error != "" {
					status = "error: " + fr.Error
				}
				fmt.Printf("%-30s  files=%-4d indexed=%-4d failed=%-4d chunks=%-5d  %s\n",
					fr.FolderPath, fr.FilesTotal, fr.FilesIndexed, fr.FilesFailed, fr.ChunksTotal, status)
			}
			if len(result.SystemErrors) > 0 {
				fmt.Fprintln(os.Stderr, "system errors:")
				for _, e := range result.SystemErrors {
					fmt.Fprintln(os.Stderr, " -", e)
				}
			}
			return nil
		},
	}
	indexCmd.Flags().BoolVar(&continueOnError, "continue-on-error", true, "keep indexing remaining files after one fails")
	root.AddCommand(indexCmd)

	// ---- semindex watch [dir...] -------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "watch [dir...]",
		Short: "Index the named folders then watch them for changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			folders, err := resolveFolders(a, args)
			if err != nil {
				return err
			}
			if len(folders) == 0 {
				fmt.Fprintln(os.Stderr, "no folders to watch")
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sc := a.scheduler(ctx)
			defer sc.Close()
			sc.IndexAll(ctx, folders, model.IndexingOptions{ContinueOnError: true})

			wc := a.cfg.GetWatcher()
			var watchers []*watcher.Watcher
			for _, folder := range folders {
				services, err := a.servicesFactory(ctx, sc.IsThrottled)(folder)
				if err != nil {
					fmt.Fprintf(os.Stderr, "watch %s: %v\n", folder.ResolvedAbsolutePath, err)
					continue
				}
				w, err := watcher.New(folder.ResolvedAbsolutePath, services.Pipeline, services.FSM, services.Remover, watcher.Options{
					DebounceDelay: time.Duration(wc.DebounceMS) * time.Millisecond,
					WorkerCount:   wc.WorkerCount,
					ExcludeGlobs:  folder.ExcludeGlobs,
				})
				if err != nil {
					fmt.Fprintf(os.Stderr, "watch %s: %v\n", folder.ResolvedAbsolutePath, err)
					continue
				}
				if err := w.Start(ctx); err != nil {
					fmt.Fprintf(os.Stderr, "watch %s: %v\n", folder.ResolvedAbsolutePath, err)
					continue
				}
				watchers = append(watchers, w)
				fmt.Fprintf(os.Stderr, "watching %s\n", folder.ResolvedAbsolutePath)
			}
			defer func() {
				for _, w := range watchers {
					w.Stop()
				}
			}()

			<-ctx.Done()
			fmt.Fprintln(os.Stderr, "stopping.")
			return nil
		},
	})

	// ---- semindex search <query> -------------------------------------------
	var searchTopK int
	var searchFolder string
	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a semantic search across registered folders",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			folders, err := resolveFolders(a, nil)
			if err != nil {
				return err
			}
			router, err := a.router(context.Background(), folders)
			if err != nil {
				return err
			}

			var targets []string
			if searchFolder != "" {
				targets = []string{searchFolder}
			}
			env := router.Search(context.Background(), strings.Join(args, " "), query.Options{TopK: searchTopK}, targets...)
			if env.Status.Code == query.CodeError {
				return fmt.Errorf("search: %s", env.Status.Message)
			}
			resp := env.Data.(model.SearchResponse)
			if len(resp.Results) == 0 {
				fmt.Println("no results")
				return nil
			}
			for i, r := range resp.Results {
				fmt.Printf("%2d  %.3f  %s\n    %s\n\n", i+1, r.Score, r.DocumentID, truncate(r.Content, 160))
			}
			return nil
		},
	}
	searchCmd.Flags().IntVar(&searchTopK, "top-k", 10, "maximum number of results")
	searchCmd.Flags().StringVar(&searchFolder, "folder", "", "restrict the search to one registered folder by name")
	root.AddCommand(searchCmd)

	// ---- semindex tui -------------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "tui",
		Short: "Launch the interactive search interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			folders, err := resolveFolders(a, nil)
			if err != nil {
				return err
			}
			router, err := a.router(context.Background(), folders)
			if err != nil {
				return err
			}

			m := semindextui.New(router)
			p := tea.NewProgram(m, tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	})

	// ---- semindex status [dir...] ------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "status [dir...]",
		Short: "Show indexing status of folders as tracked by this process's scheduler (a fresh scheduler reports each folder as not yet indexed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			folders, err := resolveFolders(a, args)
			if err != nil {
				return err
			}
			sc := a.scheduler(context.Background())
			defer sc.Close()
			for _, f := range folders {
				st, ok := sc.Status(f.ResolvedAbsolutePath)
				if !ok {
					fmt.Printf("%-30s  not yet indexed\n", f.ResolvedAbsolutePath)
					continue
				}
				fmt.Printf("%-30s  indexing=%v  processed=%d/%d  errors=%d\n",
					f.ResolvedAbsolutePath, st.IsIndexing, st.Progress.ProcessedFiles, st.Progress.TotalFiles, len(st.Errors))
			}
			return nil
		},
	})

	// ---- semindex stats <dir> ----------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "stats <dir>",
		Short: "Show the document count for one folder's store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			st, err := store.Open(abs)
			if err != nil {
				return err
			}
			defer st.Close()
			count, err := st.DocumentCount()
			if err != nil {
				return err
			}
			fmt.Printf("documents: %d\n", count)
			return nil
		},
	})

	// ---- semindex clear <dir> -----------------------------------------------
	var forceClear bool
	clearCmd := &cobra.Command{
		Use:   "clear <dir>",
		Short: "Remove every indexed document from one folder's store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if !forceClear {
				fmt.Printf("Clear the index for %s? This cannot be undone. [y/N] ", abs)
				var ans string
				fmt.Scanln(&ans)
				if !strings.EqualFold(ans, "y") {
					fmt.Println("Aborted.")
					return nil
				}
			}
			st, err := store.Open(abs)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Clear(); err != nil {
				return err
			}
			fmt.Println("Index cleared.")
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&forceClear, "force", false, "skip confirmation prompt")
	root.AddCommand(clearCmd)

	// ---- semindex rebuild [dir...] ------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "rebuild [dir...]",
		Short: "Wipe and re-index the named folders from scratch",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			folders, err := resolveFolders(a, args)
			if err != nil {
				return err
			}
			for _, f := range folders {
				st, err := a.openStore(f)
				if err != nil {
					return err
				}
				if err := st.Clear(); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			sc := a.scheduler(ctx)
			defer sc.Close()
			result := sc.IndexAll(ctx, folders, model.IndexingOptions{ContinueOnError: true, ForceReindex: true})
			fmt.Printf("rebuilt %d folders, %d files, %d chunks\n", len(result.Folders), result.TotalFiles, result.TotalChunks)
			return nil
		},
	})

	// ---- semindex bench -----------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "bench",
		Short: "Benchmark embedding throughput for the default model on this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			svc, err := a.embeds.Get(ctx, a.cfg.GetEmbedding().DefaultModelID)
			if err != nil {
				return err
			}

			samples := []struct {
				label string
				text  string
			}{
				{"short (9 words)  ", "the quick brown fox jumps over the lazy dog"},
				{"medium (50 words)", strings.Repeat("the quick brown fox jumps ", 10)},
				{"long (200 words) ", strings.Repeat("the quick brown fox ", 50)},
			}

			fmt.Printf("%-20s  %10s\n", "text size", "latency")
			fmt.Println(strings.Repeat("-", 35))
			for _, s := range samples {
				start := time.Now()
				if _, err := svc.GenerateEmbeddings(ctx, []string{s.text}); err != nil {
					return fmt.Errorf("bench %s: %w", s.label, err)
				}
				fmt.Printf("%-20s  %10s\n", s.label, time.Since(start).Round(time.Millisecond))
			}
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// app bundles the daemon-wide collaborators the CLI commands share: config,
// the embedding registry, and the per-folder stores opened so far.
type app struct {
	cfg    *config.Config
	embeds *embed.Registry

	stores map[string]*store.Store
}

func newApp(cfg *config.Config) *app {
	a := &app{cfg: cfg, stores: make(map[string]*store.Store)}
	a.embeds = embed.NewRegistry(a.embedFactory)
	return a
}

func (a *app) embedFactory(modelID string) (embed.Service, error) {
	provider, name, err := embed.ParseModelID(modelID)
	if err != nil {
		return nil, err
	}
	ec := a.cfg.GetEmbedding()
	switch provider {
	case "cpu/onnx":
		return embed.NewLocalTensorService(embed.LocalTensorConfig{
			ModelID:       modelID,
			ModelDir:      ec.ModelDir,
			OrtLibPath:    ec.OrtLibPath,
			NumThreads:    ec.NumThreads,
			ContextWindow: embed.LookupContextWindow(name),
			BatchSize:     ec.BatchSize,
		}), nil
	case "gpu/python":
		return embed.NewRemoteWorkerService(embed.RemoteWorkerConfig{
			ModelID:        modelID,
			BaseURL:        ec.RemoteBaseURL,
			ModelName:      name,
			Timeout:        time.Duration(ec.BatchTimeoutSec) * time.Second,
			MaxConcurrency: ec.WorkerPoolSize,
			ContextWindow:  embed.LookupContextWindow(name),
		}), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", provider)
	}
}

func (a *app) openStore(folder model.FolderConfig) (*store.Store, error) {
	if st, ok := a.stores[folder.ResolvedAbsolutePath]; ok {
		return st, nil
	}
	st, err := store.Open(folder.ResolvedAbsolutePath)
	if err != nil {
		return nil, err
	}
	a.stores[folder.ResolvedAbsolutePath] = st
	return st, nil
}

// servicesFactory builds one folder's collaborators. throttleCheck, when
// non-nil, is wired into the pipeline so it can shrink its embed batch size
// while the scheduler's resource manager is throttled (spec.md §4.1).
func (a *app) servicesFactory(ctx context.Context, throttleCheck func() bool) scheduler.ServicesFactory {
	return func(folder model.FolderConfig) (*scheduler.FolderServices, error) {
		st, err := a.openStore(folder)
		if err != nil {
			return nil, err
		}
		modelID := folder.ModelID
		if modelID == "" {
			modelID = a.cfg.GetEmbedding().DefaultModelID
		}
		embedder, err := a.embeds.Get(ctx, modelID)
		if err != nil {
			return nil, err
		}
		fsm := filestate.New(st)
		cc := a.cfg.GetChunking()
		pc := a.cfg.GetPipeline()
		return &scheduler.FolderServices{
			FSM:          fsm,
			Detector:     changedetector.New(st),
			Remover:      st,
			Checkpointer: st,
			Pipeline: pipeline.New(embedder, st, fsm, pipeline.Options{
				OverlapFraction: cc.OverlapFraction,
				MinChunkChars:   cc.MinChunkChars,
				EmbedBatchSize:  a.cfg.GetEmbedding().BatchSize,
				ThrottleCheck:   throttleCheck,
				Semantic: semantic.Options{
					NgramMax:        cc.NgramMax,
					MMRLambdaChunk:  cc.MMRLambdaChunk,
					MMRLambdaDoc:    cc.MMRLambdaDoc,
					MaxKeywords:     cc.MaxKeywords,
					MinKeywordScore: cc.MinKeywordScore,
					ProbeRetries:    pc.KeyphraseRetries,
					ProbeInterval:   time.Duration(pc.KeyphraseMaxMS) * time.Millisecond,
				},
			}),
		}, nil
	}
}

func (a *app) scheduler(ctx context.Context) *scheduler.Scheduler {
	sc := a.cfg.GetScheduler()
	// sched is assigned after scheduler.New returns, but the factory closure
	// only calls throttleCheck lazily (once a folder job actually runs), by
	// which point sched is already set.
	var sched *scheduler.Scheduler
	throttleCheck := func() bool {
		if sched == nil {
			return false
		}
		return sched.IsThrottled()
	}
	sched = scheduler.New(a.servicesFactory(ctx, throttleCheck), scheduler.Options{
		MaxConcurrentFolders: sc.MaxConcurrentFolders,
		QueueSize:            sc.QueueSize,
		MemoryLimitMB:        sc.MemoryLimitMB,
	})
	return sched
}

func (a *app) router(ctx context.Context, folders []model.FolderConfig) (*query.Router, error) {
	router := query.NewRouter()
	for _, f := range folders {
		st, err := a.openStore(f)
		if err != nil {
			return nil, err
		}
		modelID := f.ModelID
		if modelID == "" {
			modelID = a.cfg.GetEmbedding().DefaultModelID
		}
		embedder, err := a.embeds.Get(ctx, modelID)
		if err != nil {
			return nil, err
		}
		router.Register(query.New(f.Name, st, embedder))
	}
	return router, nil
}

func (a *app) Close() {
	a.embeds.Close()
	for _, st := range a.stores {
		st.Close()
	}
}
