package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/shiena/ansicolor"
	log "github.com/sirupsen/logrus"

	"camtiles/internal/bvh"
	"camtiles/internal/camera"
	"camtiles/internal/config"
	"camtiles/internal/httpapi"
	"camtiles/internal/ingest"
	"camtiles/internal/pmtiles"
	"camtiles/internal/viewport"
)

var (
	hf bool
	cf string
)

func init() {
	flag.BoolVar(&hf, "h", false, "this help")
	flag.StringVar(&cf, "c", "conf.toml", "set config `file`")
	flag.Usage = usage

	log.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	log.SetOutput(ansicolor.NewAnsiColorWriter(os.Stdout))
	log.SetLevel(log.InfoLevel)
}

func usage() {
	fmt.Fprintf(os.Stderr, `camtiles version: camtiles/v0.1.0
Usage: camtiles [-h] [-c filename]
`)
	flag.PrintDefaults()
}

func main() {
	flag.Parse()
	if hf {
		flag.Usage()
		return
	}

	cfg, err := config.Load(cf)
	if err != nil {
		log.WithError(err).Fatal("loading config")
	}

	if cfg.Tiles.SourcePath == "" {
		log.Error("no PMTiles source resolved: set PMTILES_SOURCE_PATH, tiles.source_path, or place an archive at one of the default candidates")
		os.Exit(1)
	}

	reader, err := pmtiles.Open(cfg.Tiles.SourcePath)
	if err != nil {
		log.WithError(err).Fatalf("opening archive %s", cfg.Tiles.SourcePath)
	}
	defer reader.Close()
	log.WithField("path", cfg.Tiles.SourcePath).Info("opened tile archive")

	tree, err := buildIndex(cfg)
	if err != nil {
		log.WithError(err).Fatal("building spatial index")
	}

	store := &camera.Store{}
	pipeline := &viewport.Pipeline{
		Tree:            tree,
		Tiles:           reader,
		Camera:          store,
		DefaultMaxTiles: cfg.Tiles.MaxTiles,
	}

	server := httpapi.NewServer(pipeline, store, cfg.Server.CORSOrigins)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.WithField("addr", addr).Info("listening")
	if err := http.ListenAndServe(addr, server.Mux()); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

// buildIndex ingests the configured feature sources, if any, into a
// BVH the viewport pipeline can query for visible-feature counts.
// The tile archive itself is always pre-built —
// this is a separate, independent feature corpus describing the same
// world the archive's tiles render, not the tiles' own geometry.
func buildIndex(cfg *config.Config) (*bvh.Tree, error) {
	if len(cfg.Ingest.Sources) == 0 {
		return bvh.Empty(), nil
	}

	sources := make([]ingest.Source, 0, len(cfg.Ingest.Sources))
	for _, path := range cfg.Ingest.Sources {
		sources = append(sources, ingest.Source{Kind: ingest.GeoJSON, Path: path})
	}

	c, err := ingest.Run(context.Background(), sources, cfg.Ingest.Workers)
	if err != nil {
		return nil, err
	}
	return bvh.Build(c, cfg.Ingest.Workers)
}
