// Command cubeflow runs the raster time-series pipeline: it reads tile
// snapshots from a directory, mosaics and masks them, composites by period,
// gap-fills onto a regular axis, and writes the analytic cube plus a run
// record.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/verdant-data/cubeflow/internal/config"
	"github.com/verdant-data/cubeflow/internal/pipeline"
	"github.com/verdant-data/cubeflow/internal/raster"
	"github.com/verdant-data/cubeflow/internal/report"
	"github.com/verdant-data/cubeflow/internal/security"
	"github.com/verdant-data/cubeflow/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	configPath := flag.String("config", "", "Pipeline config JSON (optional; defaults apply)")
	tilesDir := flag.String("tiles", "", "Directory of tile snapshot blobs")
	gridPath := flag.String("grid", "", "Target grid definition JSON")
	outPath := flag.String("out", "analytic.cube", "Output cube snapshot path")
	dbPath := flag.String("db", "cubeflow.db", "Report database path (empty disables reporting)")
	migrateCmd := flag.String("migrate", "", "Run a migration command (up, down, version) and exit")
	migrationsDir := flag.String("migrations", "migrations", "Migrations directory for -migrate")
	flag.Parse()

	if *showVersion {
		fmt.Printf("cubeflow %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if *migrateCmd != "" {
		if err := runMigrate(*dbPath, *migrationsDir, *migrateCmd); err != nil {
			fmt.Fprintf(os.Stderr, "migrate %s: %v\n", *migrateCmd, err)
			os.Exit(1)
		}
		return
	}

	cfg := config.EmptyPipelineConfig()
	if *configPath != "" {
		loaded, err := config.LoadPipelineConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if *gridPath == "" || *tilesDir == "" {
		fmt.Fprintln(os.Stderr, "both -grid and -tiles are required")
		os.Exit(1)
	}
	grid, err := loadGrid(*gridPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load grid: %v\n", err)
		os.Exit(1)
	}
	tiles, err := loadTiles(*tilesDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load tiles: %v\n", err)
		os.Exit(1)
	}

	rn, err := pipeline.NewRunner(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init pipeline: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	product, summary, err := rn.Run(ctx, grid, tiles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		os.Exit(1)
	}

	flags := make([]uint8, len(product.Flags))
	for i, f := range product.Flags {
		flags[i] = uint8(f)
	}
	if err := raster.WriteCubeSnapshot(*outPath, product.Analytic, flags); err != nil {
		fmt.Fprintf(os.Stderr, "write cube: %v\n", err)
		os.Exit(1)
	}

	if *dbPath != "" {
		if err := persistSummary(*dbPath, summary, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "persist run record: %v\n", err)
			os.Exit(1)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		fmt.Fprintf(os.Stderr, "encode summary: %v\n", err)
		os.Exit(1)
	}
}

// gridFile is the on-disk grid definition.
type gridFile struct {
	CRS      string  `json:"crs"`
	OriginX  float64 `json:"origin_x"`
	OriginY  float64 `json:"origin_y"`
	CellSize float64 `json:"cell_size"`
	Rows     int     `json:"rows"`
	Cols     int     `json:"cols"`
}

func loadGrid(path string) (raster.Grid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return raster.Grid{}, err
	}
	var gf gridFile
	if err := json.Unmarshal(data, &gf); err != nil {
		return raster.Grid{}, fmt.Errorf("parse grid JSON: %w", err)
	}
	g := raster.Grid{
		CRS:      gf.CRS,
		OriginX:  gf.OriginX,
		OriginY:  gf.OriginY,
		CellSize: gf.CellSize,
		Rows:     gf.Rows,
		Cols:     gf.Cols,
	}
	return g, g.Validate()
}

func loadTiles(dir string) ([]*raster.Tile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var tiles []*raster.Tile
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
			return nil, err
		}
		t, err := raster.ReadTileSnapshot(path)
		if err != nil {
			return nil, fmt.Errorf("tile %s: %w", name, err)
		}
		tiles = append(tiles, t)
	}
	if len(tiles) == 0 {
		return nil, fmt.Errorf("no tile snapshots in %s", dir)
	}
	return tiles, nil
}

func persistSummary(dbPath string, summary *pipeline.RunSummary, cfg *config.PipelineConfig) error {
	db, err := report.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	store := report.NewRunStore(db)
	rec := report.NewRunRecord(summary, cfgJSON)
	if err := store.Insert(rec); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "run %s recorded\n", rec.RunID)
	return nil
}

func runMigrate(dbPath, migrationsDir, cmd string) error {
	db, err := report.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	switch cmd {
	case "up":
		return db.MigrateUp(migrationsDir)
	case "down":
		return db.MigrateDown(migrationsDir)
	case "version":
		version, dirty, err := db.MigrateVersion(migrationsDir)
		if err != nil {
			return err
		}
		fmt.Printf("version %d dirty %v\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown migrate command %q (want up, down, or version)", cmd)
	}
}
