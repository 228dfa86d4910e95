// Package main is the kbsearch CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kbsearch/internal/cli"
	"github.com/hyperjump/kbsearch/internal/collection"
	"github.com/hyperjump/kbsearch/internal/config"
	"github.com/hyperjump/kbsearch/internal/embedding"
	"github.com/hyperjump/kbsearch/internal/extract"
	"github.com/hyperjump/kbsearch/internal/indexer"
	"github.com/hyperjump/kbsearch/internal/keyword"
	"github.com/hyperjump/kbsearch/internal/models"
	"github.com/hyperjump/kbsearch/internal/search"
	"github.com/hyperjump/kbsearch/internal/server"
	"github.com/hyperjump/kbsearch/internal/storage"
	"github.com/hyperjump/kbsearch/internal/watcher"
	"github.com/hyperjump/kbsearch/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/kbsearch/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default and a config.yaml
// exists in the current directory, that file is used instead. Returns the config
// and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "index":
		runIndex()
	case "stats":
		runStats()
	case "reindex":
		runReindex()
	case "delete":
		runDelete()
	case "watch":
		runWatch()
	case "version", "--version", "-v":
		fmt.Printf("kbsearch version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// setup loads config and builds a logger plus every component.
func setup(configPath string, debugFlag bool) (*config.Config, string, *zap.Logger, *Components) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewFileLogger(debugMode, cfg.LogFile)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, resolved, logger, components
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()
	logger.Info("config loaded", zap.String("config_path", resolvedConfigPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := components.Coordinator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Ingestion loop stopped", zap.Error(err))
		}
	}()

	coord := components.Coordinator
	watchSvc := watcher.NewWatcher(
		cfg.Watch.Roots,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		func(ev models.DocumentEvent) {
			if err := coord.Enqueue(ctx, ev); err != nil {
				logger.Debug("event dropped", zap.String("source", ev.SourceURI), zap.Error(err))
			}
		},
		watcher.WithLogger(logger),
	)
	if err := watchSvc.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	go watchSvc.SyncExistingFiles()

	srv := server.NewServer(
		components.Engine,
		components.Coordinator,
		&cfg.Server,
		logger,
		server.WithWatch(watchSvc, resolvedConfigPath, cfg),
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: kbsearch search --bot <bot> --kb <kb> [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Results fuse a BM25 ranking and a vector ranking with reciprocal rank fusion.
  • --alpha weighs the vector ranking, --beta the lexical ranking; 0 disables a method.
  • --threshold drops fused scores below the value.
  • --decompose splits compound questions into sub-queries.

Examples:
  kbsearch search --bot support --kb faq refund policy
  kbsearch search --bot support --kb faq --beta 0 "how do refunds work"   # vector-only
  kbsearch search --bot support --kb faq --decompose refunds and shipping
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves flags that appear after the query to the front so that
// flag.Parse sees them; the flag package stops at the first positional argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// optionalFloat is a float flag that records whether it was set.
type optionalFloat struct {
	value *float64
}

func (o *optionalFloat) String() string {
	if o.value == nil {
		return ""
	}
	return strconv.FormatFloat(*o.value, 'g', -1, 64)
}

func (o *optionalFloat) Set(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	o.value = &v
	return nil
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = search storage directly)")
	bot := fs.String("bot", "", "bot id")
	kb := fs.String("kb", "", "knowledge base name")
	topK := fs.Int("top-k", 0, "number of results (0 = configured default)")
	candidates := fs.Int("candidates", 0, "candidates per method (0 = configured default)")
	decompose := fs.Bool("decompose", false, "split compound queries into sub-queries")
	rerank := fs.Bool("rerank", false, "blend scores with query term overlap")
	outputFormat := fs.String("output", "text", "output format: text or json")
	var alpha, beta, threshold optionalFloat
	fs.Var(&alpha, "alpha", "vector ranking weight")
	fs.Var(&beta, "beta", "lexical ranking weight")
	fs.Var(&threshold, "threshold", "minimum fused score")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	query := buildSearchQuery(fs.Args())
	if query == "" || *bot == "" || *kb == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	req := &models.SearchRequest{
		BotID:  *bot,
		KBName: *kb,
		Query:  query,
		TopK:   *topK,
		Options: models.SearchOptions{
			Alpha:               alpha.value,
			Beta:                beta.value,
			CandidatesPerMethod: *candidates,
			SimilarityThreshold: threshold.value,
			Rerank:              *rerank,
		},
	}
	if *decompose {
		req.Options.Decompose = decompose
	}
	format := cli.ParseOutputFormat(*outputFormat)

	var response *models.SearchResponse
	if *serverURL != "" {
		response = &models.SearchResponse{}
		if err := apiCall(http.MethodPost, *serverURL+"/api/v1/search", req, http.StatusOK, response); err != nil {
			fatalf("Search failed: %v", err)
		}
	} else {
		_, _, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		var err error
		response, err = components.Engine.Search(context.Background(), req)
		if err != nil {
			fatalf("Search failed: %v", err)
		}
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	bot := fs.String("bot", "", "bot id")
	kb := fs.String("kb", "", "knowledge base name")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	if fs.NArg() < 1 || *bot == "" || *kb == "" {
		fmt.Println("Usage: kbsearch index --bot <bot> --kb <kb> [flags] <file-or-directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	cfg, _, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	info, err := os.Stat(path)
	if err != nil {
		fatalf("Failed to stat path: %v", err)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var report *models.IndexingReport
	if info.IsDir() {
		report, err = components.Coordinator.IndexDirectory(ctx, *bot, *kb, path, cfg.Watch.Extensions)
		if err != nil {
			fatalf("Indexing directory failed: %v", err)
		}
	} else {
		abs, _ := filepath.Abs(path)
		report = components.Coordinator.IngestBatch(ctx, []models.DocumentEvent{{
			Kind:      models.EventChanged,
			BotID:     *bot,
			KBName:    *kb,
			SourceURI: abs,
		}})
	}
	if err := cli.WriteReport(os.Stdout, report, cli.ParseOutputFormat(*outputFormat)); err != nil {
		fatalf("Output failed: %v", err)
	}
	if report.DocumentsFailed > 0 {
		os.Exit(2)
	}
}

func collectionPath(serverURL, bot, kb string) string {
	return fmt.Sprintf("%s/api/v1/collections/%s/%s", serverURL, url.PathEscape(bot), url.PathEscape(kb))
}

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read storage directly)")
	bot := fs.String("bot", "", "bot id (empty with --kb empty = every collection)")
	kb := fs.String("kb", "", "knowledge base name")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := cli.ParseOutputFormat(*outputFormat)
	single := *bot != "" || *kb != ""

	var (
		stats models.CollectionStats
		all   models.KBStatistics
	)
	switch {
	case *serverURL != "" && single:
		if err := apiCall(http.MethodGet, collectionPath(*serverURL, *bot, *kb), nil, http.StatusOK, &stats); err != nil {
			fatalf("Stats failed: %v", err)
		}
	case *serverURL != "":
		if err := apiCall(http.MethodGet, *serverURL+"/api/v1/collections", nil, http.StatusOK, &all); err != nil {
			fatalf("Stats failed: %v", err)
		}
	default:
		_, _, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		if single {
			stats = components.Coordinator.GetCollectionStats(*bot, *kb)
		} else {
			all = components.Coordinator.Statistics()
		}
	}

	var err error
	if single {
		err = cli.WriteCollectionStats(os.Stdout, stats, format)
	} else {
		err = cli.WriteStatistics(os.Stdout, all, format)
	}
	if err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runReindex() {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = reindex storage directly)")
	bot := fs.String("bot", "", "bot id")
	kb := fs.String("kb", "", "knowledge base name")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	if *bot == "" || *kb == "" {
		fmt.Println("Usage: kbsearch reindex --bot <bot> --kb <kb> [flags]")
		os.Exit(1)
	}

	report := &models.IndexingReport{}
	if *serverURL != "" {
		if err := apiCall(http.MethodPost, collectionPath(*serverURL, *bot, *kb)+"/reindex", nil, http.StatusOK, report); err != nil {
			fatalf("Reindex failed: %v", err)
		}
	} else {
		_, _, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		var err error
		report, err = components.Coordinator.Reindex(context.Background(), *bot, *kb)
		if err != nil {
			fatalf("Reindex failed: %v", err)
		}
	}
	if err := cli.WriteReport(os.Stdout, report, cli.ParseOutputFormat(*outputFormat)); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = delete from storage directly)")
	bot := fs.String("bot", "", "bot id")
	kb := fs.String("kb", "", "knowledge base name")
	source := fs.String("source", "", "remove one document by source URI instead of the whole collection")
	_ = fs.Parse(os.Args[2:])
	if *bot == "" || *kb == "" {
		fmt.Println("Usage: kbsearch delete --bot <bot> --kb <kb> [--source <uri>]")
		os.Exit(1)
	}

	if *serverURL != "" {
		target := collectionPath(*serverURL, *bot, *kb)
		if *source != "" {
			target += "/documents?source_uri=" + url.QueryEscape(*source)
		}
		if err := apiCall(http.MethodDelete, target, nil, http.StatusOK, nil); err != nil {
			fatalf("Delete failed: %v", err)
		}
	} else {
		_, _, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		ctx := context.Background()
		if *source != "" {
			report, err := components.Coordinator.IngestCollection(ctx, *bot, *kb, []models.DocumentEvent{{
				Kind:      models.EventRemoved,
				SourceURI: *source,
			}})
			if err != nil {
				fatalf("Delete failed: %v", err)
			}
			if report.ChunksRemoved == 0 {
				fmt.Printf("No document with source %s in %s\n", *source, models.CollectionName(*bot, *kb))
				return
			}
		} else if err := components.Coordinator.DeleteCollection(ctx, *bot, *kb); err != nil {
			fatalf("Delete failed: %v", err)
		}
	}
	if *source != "" {
		fmt.Printf("Document removed: %s\n", *source)
		return
	}
	fmt.Printf("Collection deleted: %s\n", models.CollectionName(*bot, *kb))
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: kbsearch watch <add|remove|list> [flags] [path]")
		fmt.Println("  kbsearch watch add --bot <bot> --kb <kb> <path>   Watch a folder for a knowledge base")
		fmt.Println("  kbsearch watch remove <path>                      Stop watching a folder")
		fmt.Println("  kbsearch watch list                               List watched folders")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	bot := fs.String("bot", "", "bot id (add)")
	kb := fs.String("kb", "", "knowledge base name (add)")
	noSync := fs.Bool("no-sync", false, "do not ingest files already in the folder (add)")
	_ = fs.Parse(searchArgsReorder(os.Args[3:]))
	rootsURL := *serverURL + "/api/v1/watch/roots"

	switch sub {
	case "add":
		if fs.NArg() < 1 || *bot == "" || *kb == "" {
			fmt.Println("Usage: kbsearch watch add --bot <bot> --kb <kb> <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		body := map[string]interface{}{"path": path, "bot": *bot, "kb": *kb, "sync": !*noSync}
		if err := apiCall(http.MethodPost, rootsURL, body, http.StatusCreated, nil); err != nil {
			fatalf("Add failed: %v", err)
		}
		fmt.Printf("Added: %s -> %s\n", path, models.CollectionName(*bot, *kb))
	case "remove":
		if fs.NArg() < 1 {
			fmt.Println("Usage: kbsearch watch remove <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		if err := apiCall(http.MethodDelete, rootsURL+"?path="+url.QueryEscape(path), nil, http.StatusOK, nil); err != nil {
			fatalf("Remove failed: %v", err)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		var out struct {
			Roots []config.WatchRoot `json:"roots"`
		}
		if err := apiCall(http.MethodGet, rootsURL, nil, http.StatusOK, &out); err != nil {
			fatalf("List failed: %v", err)
		}
		for _, r := range out.Roots {
			fmt.Printf("%s\t%s\n", r.Path, models.CollectionName(r.Bot, r.KB))
		}
	default:
		fatalf("Unknown watch subcommand: %s", sub)
	}
}

// apiCall sends body as JSON and decodes the response into out when the server
// answers with wantStatus. body and out may be nil.
func apiCall(method, target string, body interface{}, wantStatus int, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, target, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Components holds initialized services.
type Components struct {
	Storage     *storage.SQLiteStorage
	Embedder    *embedding.Generator
	Registry    *collection.Registry
	Coordinator *indexer.Coordinator
	Engine      *search.Engine
}

// Close releases storage and embedding resources.
func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	components := &Components{Storage: store}

	analyzer, err := keyword.NewAnalyzer(cfg.BM25.StopWordsOrDefault())
	if err != nil {
		components.Close()
		return nil, fmt.Errorf("failed to initialize analyzer: %w", err)
	}
	components.Registry = collection.NewRegistry(func() *keyword.BM25Index {
		return keyword.NewBM25Index(analyzer, cfg.BM25.K1, cfg.BM25.B)
	}, collection.WithLogger(logger))

	components.Embedder, err = embedding.NewGeneratorFromConfig(cfg, logger)
	if err != nil {
		components.Close()
		return nil, fmt.Errorf("failed to initialize embeddings: %w", err)
	}
	backends := make([]string, 0, len(components.Embedder.Backends()))
	for _, b := range components.Embedder.Backends() {
		backends = append(backends, b.ID())
	}
	logger.Info("embedding chain initialized", zap.Strings("backends", backends))

	components.Coordinator = indexer.NewCoordinator(
		components.Registry,
		store,
		components.Embedder,
		extract.NewExtractor(),
		cfg.ChunkSize,
		cfg.ChunkOverlap,
		indexer.WithLogger(logger),
	)
	if err := components.Coordinator.Restore(ctx); err != nil {
		components.Close()
		return nil, fmt.Errorf("failed to restore collections: %w", err)
	}

	engineOpts := []search.Option{search.WithLogger(logger)}
	if cfg.Hybrid.DecomposerModel != "" && cfg.Embedding.Remote.APIKey != "" {
		engineOpts = append(engineOpts, search.WithDecomposer(search.NewLLMDecomposer(
			cfg.Embedding.Remote.APIKey,
			cfg.Embedding.Remote.BaseURL,
			cfg.Hybrid.DecomposerModel,
			logger,
		)))
	}
	components.Engine = search.NewEngine(components.Registry, components.Embedder, cfg.Hybrid, engineOpts...)
	return components, nil
}

func printUsage() {
	fmt.Println(`kbsearch - Knowledge base indexing and hybrid search

Usage:
  kbsearch server [flags]                         Start the HTTP server, folder watcher and ingestion loop
  kbsearch search --bot B --kb K [flags] <query>  Search a knowledge base
  kbsearch index --bot B --kb K <file-or-dir>     Index a file or a directory tree
  kbsearch stats [--bot B --kb K]                 Show collection statistics
  kbsearch reindex --bot B --kb K                 Re-embed a collection with the current backends
  kbsearch delete --bot B --kb K [--source URI]   Delete a collection or one document
  kbsearch watch <add|remove|list>                Manage watched folders on a running server
  kbsearch version                                Show version
  kbsearch help                                   Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/kbsearch/config.yaml, or ./config.yaml)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to work on storage directly.
  --output string    Output format: text or json (default: text)

Search Flags:
  --top-k int          Number of results (default from config)
  --alpha float        Vector ranking weight
  --beta float         Lexical ranking weight
  --threshold float    Minimum fused score
  --candidates int     Candidates retrieved per method
  --decompose          Split compound queries into sub-queries
  --rerank             Blend scores with query term overlap

Examples:
  kbsearch server
  kbsearch index --bot support --kb faq ./docs
  kbsearch search --bot support --kb faq "how long do refunds take"
  kbsearch search --bot support --kb faq --output json refunds
  kbsearch stats --bot support --kb faq
  kbsearch reindex --bot support --kb faq
  kbsearch watch add --bot support --kb faq /srv/docs/faq`)
}
