// Package config loads store settings from an INI file.
//
//	[store]
//	location     = /var/lib/graph
//	name         = nodes
//	segment_size = 1MiB
//	byte_order   = little
//	read_only    = false
//	growth       = default
//	retry_delay  = 5ms
//
//	[resource]
//	mapped_limit      = 8GiB
//	flush_workers     = 4
//	io_limit_per_sec  = 64MiB
//
//	[log]
//	level  = info
//	format = text
package config

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/ini.v1"

	"github.com/hupe1980/segmap"
	"github.com/hupe1980/segmap/resource"
)

// Cfg is the parsed configuration.
type Cfg struct {
	Raw *ini.File

	// store
	Location    string
	Name        string
	SegmentSize int
	ByteOrder   binary.ByteOrder
	ReadOnly    bool
	Growth      segmap.GrowthMode
	RetryDelay  time.Duration

	// resource
	Resource resource.Config

	// log
	LogLevel  slog.Level
	LogFormat string
}

// NewCfg returns the defaults.
func NewCfg() *Cfg {
	return &Cfg{
		Raw:         ini.Empty(),
		Location:    ".",
		Name:        "data",
		SegmentSize: segmap.DefaultSegmentSize,
		ByteOrder:   binary.LittleEndian,
		Growth:      segmap.GrowthDefault,
		RetryDelay:  segmap.DefaultRetryDelay,
		Resource:    resource.Config{MaxFlushWorkers: 1},
		LogLevel:    slog.LevelInfo,
		LogFormat:   "none",
	}
}

// Load reads path on top of the defaults.
func Load(path string) (*Cfg, error) {
	return parse(path)
}

// Parse reads INI content on top of the defaults.
func Parse(data []byte) (*Cfg, error) {
	return parse(data)
}

func parse(source any) (*Cfg, error) {
	f, err := ini.Load(source)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := NewCfg()
	cfg.Raw = f
	if err := cfg.parseStore(f.Section("store")); err != nil {
		return nil, err
	}
	if err := cfg.parseResource(f.Section("resource")); err != nil {
		return nil, err
	}
	if err := cfg.parseLog(f.Section("log")); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Cfg) parseStore(section *ini.Section) error {
	cfg.Location = section.Key("location").MustString(cfg.Location)
	cfg.Name = section.Key("name").MustString(cfg.Name)
	cfg.ReadOnly = section.Key("read_only").MustBool(false)
	cfg.RetryDelay = section.Key("retry_delay").MustDuration(cfg.RetryDelay)

	size, err := parseSize(section, "segment_size", int64(cfg.SegmentSize))
	if err != nil {
		return err
	}
	cfg.SegmentSize = int(size)

	switch order := strings.ToLower(section.Key("byte_order").MustString("little")); order {
	case "little":
		cfg.ByteOrder = binary.LittleEndian
	case "big":
		cfg.ByteOrder = binary.BigEndian
	default:
		return fmt.Errorf("config: [store] byte_order: unknown %q", order)
	}

	growth, err := segmap.ParseGrowthMode(strings.ToLower(section.Key("growth").String()))
	if err != nil {
		return fmt.Errorf("config: [store] growth: %w", err)
	}
	cfg.Growth = growth
	return nil
}

func (cfg *Cfg) parseResource(section *ini.Section) error {
	limit, err := parseSize(section, "mapped_limit", 0)
	if err != nil {
		return err
	}
	ioLimit, err := parseSize(section, "io_limit_per_sec", 0)
	if err != nil {
		return err
	}
	cfg.Resource = resource.Config{
		MappedLimitBytes:   limit,
		MaxFlushWorkers:    section.Key("flush_workers").MustInt64(1),
		IOLimitBytesPerSec: ioLimit,
	}
	return nil
}

func (cfg *Cfg) parseLog(section *ini.Section) error {
	level := section.Key("level").MustString("info")
	if err := cfg.LogLevel.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("config: [log] level: %w", err)
	}
	cfg.LogFormat = strings.ToLower(section.Key("format").In("none", []string{"none", "text", "json"}))
	return nil
}

// parseSize accepts plain byte counts and humanized sizes such as "64KiB".
func parseSize(section *ini.Section, key string, def int64) (int64, error) {
	raw := strings.TrimSpace(section.Key(key).String())
	if raw == "" {
		return def, nil
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("config: [%s] %s: %w", section.Name(), key, err)
	}
	return int64(n), nil
}

// Logger builds the logger selected by [log].
func (cfg *Cfg) Logger() *segmap.Logger {
	switch cfg.LogFormat {
	case "json":
		return segmap.NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	case "text":
		return segmap.NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	default:
		return segmap.NoopLogger()
	}
}

// Options converts the configuration into store options. rc is shared by
// every store built from the same options; pass nil to create one from
// [resource].
func (cfg *Cfg) Options(rc *resource.Controller) []segmap.Option {
	if rc == nil {
		rc = resource.NewController(cfg.Resource)
	}
	opts := []segmap.Option{
		segmap.WithSegmentSize(cfg.SegmentSize),
		segmap.WithByteOrder(cfg.ByteOrder),
		segmap.WithGrowth(cfg.Growth),
		segmap.WithRetryDelay(cfg.RetryDelay),
		segmap.WithResourceController(rc),
		segmap.WithLogger(cfg.Logger()),
	}
	if cfg.ReadOnly {
		opts = append(opts, segmap.WithReadOnly())
	}
	return opts
}

// NewStore returns the configured store. Nothing is touched on disk.
func (cfg *Cfg) NewStore(rc *resource.Controller) *segmap.Store {
	return segmap.New(cfg.Location, cfg.Name, cfg.Options(rc)...)
}
