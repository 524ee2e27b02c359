// Package wlconfig loads engine configuration from JSONC files and CLI
// overrides, following the same global/project/explicit/override
// precedence chain used elsewhere in this codebase.
package wlconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/ubi-wl/internal/wl"
)

// FileConfig is the on-disk (JSONC) shape of engine configuration: the
// wl.Config fields plus the ambient device-geometry and runtime settings
// that aren't part of the wear-leveling policy itself.
type FileConfig struct {
	Threshold              *uint64 `json:"threshold,omitempty"`
	ProtQueueLen           *int    `json:"prot_queue_len,omitempty"`
	ReservedPEBs           *int    `json:"reserved_pebs,omitempty"`
	MaxEC                  *uint64 `json:"max_ec,omitempty"`
	MaxErroneous           *int    `json:"max_erroneous,omitempty"`
	WorkMaxFailures        *int    `json:"work_max_failures,omitempty"`
	LebsPerCPEB            *int    `json:"lebs_per_cpeb,omitempty"`
	ConsolidationThreshold *int    `json:"consolidation_threshold,omitempty"`
	AnchorLo               *int32  `json:"anchor_lo,omitempty"`
	AnchorHi               *int32  `json:"anchor_hi,omitempty"`

	PEBCount    *int     `json:"peb_count,omitempty"`
	PEBSize     *int     `json:"peb_size,omitempty"`
	BitflipRate *float64 `json:"bitflip_rate,omitempty"`
	SnapshotDir *string  `json:"snapshot_dir,omitempty"`
}

// Config is the fully resolved configuration: wl's engine policy plus
// device geometry.
type Config struct {
	WL wl.Config

	PEBCount    int
	PEBSize     int
	BitflipRate float64
	SnapshotDir string
}

// ConfigFileName is the default project config file name.
const ConfigFileName = ".ubiwl.json"

var (
	errConfigFileNotFound = errors.New("wlconfig: config file not found")
	errConfigFileRead     = errors.New("wlconfig: failed to read config file")
	errConfigInvalid      = errors.New("wlconfig: invalid config")
)

// Default returns the built-in defaults: wl.DefaultConfig plus a modest
// simulated-device geometry suitable for ubishell/ubictl demos.
func Default() Config {
	return Config{
		WL:          wl.DefaultConfig(),
		PEBCount:    4096,
		PEBSize:     128 * 1024,
		BitflipRate: 0,
		SnapshotDir: "",
	}
}

// getGlobalConfigPath mirrors the $XDG_CONFIG_HOME/ubiwl/config.json
// convention, falling back to ~/.config/ubiwl/config.json.
func getGlobalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok {
			return filepath.Join(after, "ubiwl", "config.json")
		}
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ubiwl", "config.json")
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "ubiwl", "config.json")
	}

	return ""
}

// Load resolves configuration with precedence (highest wins): defaults,
// global user config, project config (.ubiwl.json or an explicit path),
// then cliOverrides.
func Load(workDir, configPath string, cliOverrides FileConfig, env []string) (Config, error) {
	cfg := Default()

	global, globalPath, err := loadOptional(getGlobalConfigPath(env))
	if err != nil {
		return Config{}, err
	}

	if globalPath != "" {
		cfg = merge(cfg, global)
	}

	var project FileConfig

	if configPath != "" {
		full := configPath
		if !filepath.IsAbs(full) {
			full = filepath.Join(workDir, full)
		}

		if _, statErr := os.Stat(full); statErr != nil {
			return Config{}, fmt.Errorf("%w: %s", errConfigFileNotFound, configPath)
		}

		project, _, err = loadOptional(full)
	} else {
		project, _, err = loadOptional(filepath.Join(workDir, ConfigFileName))
	}

	if err != nil {
		return Config{}, err
	}

	cfg = merge(cfg, project)
	cfg = merge(cfg, cliOverrides)

	if err := cfg.WL.Validate(); err != nil {
		return Config{}, fmt.Errorf("%w: %w", errConfigInvalid, err)
	}

	if cfg.PEBCount <= 0 || cfg.PEBSize <= 0 {
		return Config{}, fmt.Errorf("%w: peb_count and peb_size must be > 0", errConfigInvalid)
	}

	return cfg, nil
}

func loadOptional(path string) (FileConfig, string, error) {
	if path == "" {
		return FileConfig{}, "", nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled configuration, not attacker input
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, "", nil
		}

		return FileConfig{}, "", fmt.Errorf("%w: %s", errConfigFileRead, path)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return FileConfig{}, "", fmt.Errorf("%w %s: invalid jsonc: %w", errConfigInvalid, path, err)
	}

	var fc FileConfig
	if err := json.Unmarshal(standardized, &fc); err != nil {
		return FileConfig{}, "", fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	return fc, path, nil
}

func merge(base Config, overlay FileConfig) Config {
	if overlay.Threshold != nil {
		base.WL.Threshold = *overlay.Threshold
	}

	if overlay.ProtQueueLen != nil {
		base.WL.ProtQueueLen = *overlay.ProtQueueLen
	}

	if overlay.ReservedPEBs != nil {
		base.WL.ReservedPEBs = *overlay.ReservedPEBs
	}

	if overlay.MaxEC != nil {
		base.WL.MaxEC = *overlay.MaxEC
	}

	if overlay.MaxErroneous != nil {
		base.WL.MaxErroneous = *overlay.MaxErroneous
	}

	if overlay.WorkMaxFailures != nil {
		base.WL.WorkMaxFailures = *overlay.WorkMaxFailures
	}

	if overlay.LebsPerCPEB != nil {
		base.WL.LebsPerCPEB = *overlay.LebsPerCPEB
	}

	if overlay.ConsolidationThreshold != nil {
		base.WL.ConsolidationThreshold = *overlay.ConsolidationThreshold
	}

	if overlay.AnchorLo != nil {
		base.WL.AnchorLo = *overlay.AnchorLo
	}

	if overlay.AnchorHi != nil {
		base.WL.AnchorHi = *overlay.AnchorHi
	}

	if overlay.PEBCount != nil {
		base.PEBCount = *overlay.PEBCount
	}

	if overlay.PEBSize != nil {
		base.PEBSize = *overlay.PEBSize
	}

	if overlay.BitflipRate != nil {
		base.BitflipRate = *overlay.BitflipRate
	}

	if overlay.SnapshotDir != nil {
		base.SnapshotDir = *overlay.SnapshotDir
	}

	return base
}

// Format renders cfg as indented JSON, for `ubictl print-config`.
func Format(cfg Config) (string, error) {
	view := FileConfig{
		Threshold:              &cfg.WL.Threshold,
		ProtQueueLen:           &cfg.WL.ProtQueueLen,
		ReservedPEBs:           &cfg.WL.ReservedPEBs,
		MaxEC:                  &cfg.WL.MaxEC,
		MaxErroneous:           &cfg.WL.MaxErroneous,
		WorkMaxFailures:        &cfg.WL.WorkMaxFailures,
		LebsPerCPEB:            &cfg.WL.LebsPerCPEB,
		ConsolidationThreshold: &cfg.WL.ConsolidationThreshold,
		AnchorLo:               &cfg.WL.AnchorLo,
		AnchorHi:               &cfg.WL.AnchorHi,
		PEBCount:               &cfg.PEBCount,
		PEBSize:                &cfg.PEBSize,
		BitflipRate:            &cfg.BitflipRate,
		SnapshotDir:            &cfg.SnapshotDir,
	}

	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return "", fmt.Errorf("wlconfig: format: %w", err)
	}

	return string(data), nil
}
