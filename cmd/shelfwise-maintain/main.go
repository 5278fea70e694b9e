// Command shelfwise-maintain runs the recommendation engine maintenance jobs:
// vector rebuilds, similarity precompute, and cache pruning.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shelfwise/shelfwise/internal/config"
	"github.com/shelfwise/shelfwise/internal/engine"
	"github.com/shelfwise/shelfwise/internal/storage"
	"github.com/shelfwise/shelfwise/internal/storage/postgres"
	"github.com/shelfwise/shelfwise/internal/storage/sqlite"
	"github.com/shelfwise/shelfwise/pkg/types"
)

var (
	configPath  = flag.String("config", "", "Path to YAML config file (optional, uses env vars by default)")
	catalogPath = flag.String("catalog", "", "Path to catalog export JSON file")
	rebuildCmd  = flag.Bool("rebuild", false, "Rebuild all item vectors and exit")
	precompute  = flag.Bool("precompute", false, "Precompute the similar-items index and exit")
	topN        = flag.Int("top-n", 0, "Neighbor list size for precompute (overrides config)")
	pruneCmd    = flag.Bool("prune", false, "Prune expired cache entries and exit")
	serveCmd    = flag.Bool("serve", false, "Run all jobs on their configured intervals")
)

func main() {
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadConfigFile(*configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	catalog, err := openCatalog(*catalogPath)
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}

	eng, err := engine.NewEngine(catalog, store, engine.Config{
		RequestTimeout:           cfg.Engine.RequestTimeout,
		CacheTTL:                 cfg.Engine.CacheTTL,
		PrecomputeTopN:           cfg.Engine.PrecomputeTopN,
		PrecomputeItemsPerSecond: cfg.Engine.PrecomputeItemsPerSecond,
		BreakerMaxFailures:       uint32(cfg.Engine.BreakerMaxFailures),
		BreakerTimeout:           cfg.Engine.BreakerTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	ctx := context.Background()

	switch {
	case *rebuildCmd:
		handleRebuild(ctx, eng)
	case *precompute:
		handlePrecompute(ctx, eng, *topN)
	case *pruneCmd:
		handlePrune(ctx, eng)
	case *serveCmd:
		runJobs(ctx, eng, cfg.Jobs, *topN)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func handleRebuild(ctx context.Context, eng *engine.Engine) {
	log.Println("Rebuilding item vectors...")
	start := time.Now()

	processed, failed, err := eng.RebuildAllVectors(ctx)
	if err != nil {
		log.Fatalf("Rebuild failed: %v", err)
	}

	log.Printf("Rebuild completed: %d vectorized, %d failed in %v",
		processed, failed, time.Since(start).Round(time.Millisecond))
}

func handlePrecompute(ctx context.Context, eng *engine.Engine, topN int) {
	log.Println("Precomputing similar-items index...")
	start := time.Now()

	processed, failed, err := eng.PrecomputeSimilarItems(ctx, topN)
	if err != nil {
		log.Fatalf("Precompute failed: %v", err)
	}

	log.Printf("Precompute completed: %d items indexed, %d failed in %v",
		processed, failed, time.Since(start).Round(time.Millisecond))
}

func handlePrune(ctx context.Context, eng *engine.Engine) {
	pruned, err := eng.PruneExpiredCache(ctx)
	if err != nil {
		log.Fatalf("Cache prune failed: %v", err)
	}
	log.Printf("Pruned %d expired cache entries", pruned)
}

// runJobs runs rebuild, precompute, and prune on their configured intervals
// until interrupted.
func runJobs(ctx context.Context, eng *engine.Engine, jobs config.JobsConfig, topN int) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rebuildTicker := time.NewTicker(jobs.RebuildInterval)
	precomputeTicker := time.NewTicker(jobs.PrecomputeInterval)
	pruneTicker := time.NewTicker(jobs.CachePruneInterval)
	defer rebuildTicker.Stop()
	defer precomputeTicker.Stop()
	defer pruneTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Println("Shelfwise maintenance service started")
	log.Println("Press Ctrl+C to stop")

	// Run the full pipeline once at startup so a fresh deployment serves
	// recommendations immediately.
	runRebuild(ctx, eng)
	runPrecompute(ctx, eng, topN)

	for {
		select {
		case <-rebuildTicker.C:
			runRebuild(ctx, eng)
		case <-precomputeTicker.C:
			runPrecompute(ctx, eng, topN)
		case <-pruneTicker.C:
			if pruned, err := eng.PruneExpiredCache(ctx); err != nil {
				log.Printf("Cache prune failed: %v", err)
			} else if pruned > 0 {
				log.Printf("Pruned %d expired cache entries", pruned)
			}
		case <-sigCh:
			log.Println("Shutting down maintenance service...")
			return
		}
	}
}

func runRebuild(ctx context.Context, eng *engine.Engine) {
	processed, failed, err := eng.RebuildAllVectors(ctx)
	if err != nil {
		if errors.Is(err, engine.ErrRebuildInProgress) {
			log.Println("Skipping rebuild: another job is running")
			return
		}
		log.Printf("Rebuild failed: %v", err)
		return
	}
	log.Printf("Rebuild: %d vectorized, %d failed", processed, failed)
}

func runPrecompute(ctx context.Context, eng *engine.Engine, topN int) {
	processed, failed, err := eng.PrecomputeSimilarItems(ctx, topN)
	if err != nil {
		if errors.Is(err, engine.ErrRebuildInProgress) {
			log.Println("Skipping precompute: another job is running")
			return
		}
		log.Printf("Precompute failed: %v", err)
		return
	}
	log.Printf("Precompute: %d items indexed, %d failed", processed, failed)
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Engine {
	case "sqlite":
		return sqlite.NewStore(filepath.Join(cfg.Storage.DataPath, "shelfwise.db"))
	case "postgres":
		return postgres.NewStore(cfg.Storage.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
	}
}

// openCatalog loads a catalog export file into an in-memory reader. The
// maintenance CLI consumes catalog snapshots rather than talking to the
// library service directly.
func openCatalog(path string) (storage.CatalogReader, error) {
	if path == "" {
		return nil, errors.New("a -catalog file is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var items []types.MediaItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file %s: %w", path, err)
	}
	return newFileCatalog(items), nil
}

// fileCatalog serves a catalog snapshot loaded from disk.
type fileCatalog struct {
	byType map[types.MediaType][]types.MediaItem
	byKey  map[string]types.MediaItem
}

func newFileCatalog(items []types.MediaItem) *fileCatalog {
	c := &fileCatalog{
		byType: make(map[types.MediaType][]types.MediaItem),
		byKey:  make(map[string]types.MediaItem, len(items)),
	}
	for _, item := range items {
		c.byType[item.Ref.Type] = append(c.byType[item.Ref.Type], item)
		c.byKey[item.Ref.Key()] = item
	}
	return c
}

func (c *fileCatalog) ListItems(ctx context.Context, mediaType types.MediaType) ([]types.MediaItem, error) {
	return c.byType[mediaType], nil
}

func (c *fileCatalog) GetItem(ctx context.Context, ref types.MediaRef) (*types.MediaItem, error) {
	item, ok := c.byKey[ref.Key()]
	if !ok {
		return nil, fmt.Errorf("%w: catalog item %s", storage.ErrNotFound, ref.Key())
	}
	return &item, nil
}
