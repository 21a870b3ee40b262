// Package config loads camtiles' runtime configuration the way the
// teacher tool does: a TOML file read through spf13/viper, with
// environment variables free to override any key and sane defaults
// for everything a deployment might omit.
package config

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/viper"
)

// Config is the resolved set of settings the rest of the process runs
// with.
type Config struct {
	Server   ServerConfig
	Tiles    TilesConfig
	Ingest   IngestConfig
}

// ServerConfig controls the HTTP/WebSocket listener (component K).
type ServerConfig struct {
	Port        int
	Backlog     int
	CORSOrigins []string
}

// TilesConfig locates the archive the server answers viewport
// requests from.
type TilesConfig struct {
	SourcePath string
	MaxTiles   int
}

// IngestConfig controls how source data is turned into the feature
// corpus and BVH at startup (component A).
type IngestConfig struct {
	Workers int
	Sources []string
}

// pmtilesSourceEnv names the environment variable checked first for
// the archive path, ahead of the config file and default candidates.
const pmtilesSourceEnv = "PMTILES_SOURCE_PATH"

// defaultSourceCandidates are tried in order when neither the env var
// nor the config file name an archive.
var defaultSourceCandidates = []string{
	"assets/wi-parcels.pmtiles",
	"../assets/wi-parcels.pmtiles",
}

// Load reads cfgFile (TOML) if present, applies defaults for
// anything missing, and resolves the archive source path.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetConfigFile(cfgFile)
	v.AutomaticEnv()

	if _, err := os.Stat(cfgFile); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", cfgFile, err)
		}
	}

	v.SetDefault("server.port", 9090)
	v.SetDefault("server.backlog", 16)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("tiles.max_tiles", 256)
	v.SetDefault("ingest.workers", runtime.NumCPU())

	cfg := &Config{
		Server: ServerConfig{
			Port:        v.GetInt("server.port"),
			Backlog:     v.GetInt("server.backlog"),
			CORSOrigins: v.GetStringSlice("server.cors_origins"),
		},
		Tiles: TilesConfig{
			SourcePath: resolveSourcePath(v),
			MaxTiles:   v.GetInt("tiles.max_tiles"),
		},
		Ingest: IngestConfig{
			Workers: v.GetInt("ingest.workers"),
			Sources: v.GetStringSlice("ingest.sources"),
		},
	}

	return cfg, nil
}

// resolveSourcePath applies, in priority order: the environment
// variable, the config file's tiles.source_path key, then the first
// existing default candidate.
func resolveSourcePath(v *viper.Viper) string {
	if p := os.Getenv(pmtilesSourceEnv); p != "" {
		return p
	}
	if p := v.GetString("tiles.source_path"); p != "" {
		return p
	}
	for _, candidate := range defaultSourceCandidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
