// Package config loads a system description for go-daq components from YAML,
// TOML or JSON with comments, and turns its sections into component options.
//
// Example (YAML):
//
//	log_level: debug
//	writer:
//	  path: /data/run.dat
//	  compression: zstd
//	  max_size: 1073741824
//	emulates:
//	  - name: regs
//	    min_access: 4
//	hubs:
//	  - name: root
//	    offset: 0x10000
//	    min_access: 4
//	    max_access: 4096
//	    slave: regs
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-daq/fileio"
	"github.com/arloliu/go-daq/hardware"
	"github.com/arloliu/go-daq/logger"
	"github.com/arloliu/go-daq/memory"
)

var (
	// ErrUnknownFormat is returned for a file extension without a decoder.
	ErrUnknownFormat = errors.New("config: unknown format")
	// ErrInvalid is returned when a description fails validation.
	ErrInvalid = errors.New("config: invalid configuration")
)

// Format is a configuration file syntax.
type Format int

const (
	// FormatYAML is YAML 1.2.
	FormatYAML Format = iota
	// FormatTOML is TOML 1.0.
	FormatTOML
	// FormatJSONC is JSON with comments and trailing commas.
	FormatJSONC
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json", ".jsonc":
		return FormatJSONC, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
	}
}

// Config is a system description.
type Config struct {
	LogLevel  string          `yaml:"log_level" toml:"log_level" json:"log_level"`
	LogFormat string          `yaml:"log_format" toml:"log_format" json:"log_format"`
	Writer    *WriterConfig   `yaml:"writer" toml:"writer" json:"writer"`
	Reader    *ReaderConfig   `yaml:"reader" toml:"reader" json:"reader"`
	Devices   []DeviceConfig  `yaml:"devices" toml:"devices" json:"devices"`
	MemMaps   []MemMapConfig  `yaml:"memmaps" toml:"memmaps" json:"memmaps"`
	Emulates  []EmulateConfig `yaml:"emulates" toml:"emulates" json:"emulates"`
	Hubs      []HubConfig     `yaml:"hubs" toml:"hubs" json:"hubs"`
}

// WriterConfig configures a fileio.Writer. A zero BufferSize keeps the
// writer default.
type WriterConfig struct {
	Path        string `yaml:"path" toml:"path" json:"path"`
	Compression string `yaml:"compression" toml:"compression" json:"compression"`
	Digest      bool   `yaml:"digest" toml:"digest" json:"digest"`
	BufferSize  uint32 `yaml:"buffer_size" toml:"buffer_size" json:"buffer_size"`
	MaxSize     uint64 `yaml:"max_size" toml:"max_size" json:"max_size"`
	Raw         bool   `yaml:"raw" toml:"raw" json:"raw"`
	DropErrors  bool   `yaml:"drop_errors" toml:"drop_errors" json:"drop_errors"`
}

// ReaderConfig configures a fileio.Reader.
type ReaderConfig struct {
	Path string `yaml:"path" toml:"path" json:"path"`
}

// DeviceConfig configures a hardware.Device.
type DeviceConfig struct {
	Name         string `yaml:"name" toml:"name" json:"name"`
	Path         string `yaml:"path" toml:"path" json:"path"`
	FrameSize    uint32 `yaml:"frame_size" toml:"frame_size" json:"frame_size"`
	PollInterval string `yaml:"poll_interval" toml:"poll_interval" json:"poll_interval"`
}

// MemMapConfig configures a hardware.MemMap window.
type MemMapConfig struct {
	Name   string `yaml:"name" toml:"name" json:"name"`
	Path   string `yaml:"path" toml:"path" json:"path"`
	Size   uint64 `yaml:"size" toml:"size" json:"size"`
	Offset int64  `yaml:"offset" toml:"offset" json:"offset"`
	Create bool   `yaml:"create" toml:"create" json:"create"`
}

// EmulateConfig configures a memory.Emulate slave.
type EmulateConfig struct {
	Name      string `yaml:"name" toml:"name" json:"name"`
	MinAccess uint32 `yaml:"min_access" toml:"min_access" json:"min_access"`
	MaxAccess uint32 `yaml:"max_access" toml:"max_access" json:"max_access"`
}

// HubConfig configures a memory.Hub. Slave names the downstream hub, memory
// map or emulated slave.
type HubConfig struct {
	Name        string `yaml:"name" toml:"name" json:"name"`
	Offset      uint64 `yaml:"offset" toml:"offset" json:"offset"`
	MinAccess   uint32 `yaml:"min_access" toml:"min_access" json:"min_access"`
	MaxAccess   uint32 `yaml:"max_access" toml:"max_access" json:"max_access"`
	SplitLimit  uint32 `yaml:"split_limit" toml:"split_limit" json:"split_limit"`
	SplitStride uint64 `yaml:"split_stride" toml:"split_stride" json:"split_stride"`
	NoSplit     bool   `yaml:"no_split" toml:"no_split" json:"no_split"`
	Slave       string `yaml:"slave" toml:"slave" json:"slave"`
}

// Load reads and validates the description at path. The format follows the
// file extension.
func Load(path string) (*Config, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes and validates a description. Unknown keys are rejected.
func Parse(data []byte, format Format) (*Config, error) {
	var cfg Config

	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case FormatTOML:
		meta, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parse toml: unknown key %q", undecoded[0].String())
		}
	case FormatJSONC:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownFormat, format)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks names, references and values of every section.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		if _, ok := logger.ParseLevel(c.LogLevel); !ok {
			return fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
		}
	}
	if _, ok := logger.ParseFormat(c.LogFormat); !ok {
		return fmt.Errorf("%w: log_format %q", ErrInvalid, c.LogFormat)
	}

	if c.Writer != nil {
		if c.Writer.Path == "" {
			return fmt.Errorf("%w: writer path is empty", ErrInvalid)
		}
		if _, err := fileio.ParseCompression(c.Writer.Compression); err != nil {
			return fmt.Errorf("%w: writer: %w", ErrInvalid, err)
		}
	}
	if c.Reader != nil && c.Reader.Path == "" {
		return fmt.Errorf("%w: reader path is empty", ErrInvalid)
	}

	for _, d := range c.Devices {
		if d.Path == "" {
			return fmt.Errorf("%w: device %q has no path", ErrInvalid, d.Name)
		}
		if d.PollInterval != "" {
			interval, err := time.ParseDuration(d.PollInterval)
			if err != nil {
				return fmt.Errorf("%w: device %q poll_interval: %w", ErrInvalid, d.Name, err)
			}
			if interval < hardware.MinPollInterval {
				return fmt.Errorf("%w: device %q poll_interval %s below %s", ErrInvalid, d.Name, interval, hardware.MinPollInterval)
			}
		}
	}

	names := map[string]string{}
	addName := func(kind, name string) error {
		if name == "" {
			return fmt.Errorf("%w: %s without a name", ErrInvalid, kind)
		}
		if prev, ok := names[name]; ok {
			return fmt.Errorf("%w: %s %q already names a %s", ErrInvalid, kind, name, prev)
		}
		names[name] = kind
		return nil
	}

	for _, m := range c.MemMaps {
		if err := addName("memmap", m.Name); err != nil {
			return err
		}
		if m.Path == "" || m.Size == 0 {
			return fmt.Errorf("%w: memmap %q needs a path and a size", ErrInvalid, m.Name)
		}
	}
	for _, e := range c.Emulates {
		if err := addName("emulate", e.Name); err != nil {
			return err
		}
	}
	for _, h := range c.Hubs {
		if err := addName("hub", h.Name); err != nil {
			return err
		}
	}

	hubs := make(map[string]HubConfig, len(c.Hubs))
	for _, h := range c.Hubs {
		hubs[h.Name] = h
	}
	for _, h := range c.Hubs {
		if _, ok := names[h.Slave]; !ok {
			return fmt.Errorf("%w: hub %q slave %q not defined", ErrInvalid, h.Name, h.Slave)
		}

		// a chain longer than the hub count loops
		cur := h
		for steps := 0; ; steps++ {
			next, ok := hubs[cur.Slave]
			if !ok {
				break
			}
			if steps >= len(c.Hubs) {
				return fmt.Errorf("%w: hub %q is part of a loop", ErrInvalid, h.Name)
			}
			cur = next
		}
	}

	return nil
}

// Logger returns a stdout logger with the configured level and format.
func (c *Config) Logger() logger.Logger {
	level, _ := logger.ParseLevel(c.LogLevel)
	if c.LogFormat == "" {
		return logger.NewSlog(level, false)
	}
	format, _ := logger.ParseFormat(c.LogFormat)

	return logger.NewSlogFormat(os.Stdout, format, level, false)
}

// Options returns the writer options.
func (w *WriterConfig) Options(l logger.Logger) ([]fileio.Option, error) {
	comp, err := fileio.ParseCompression(w.Compression)
	if err != nil {
		return nil, err
	}

	opts := []fileio.Option{
		fileio.WithLogger(l),
		fileio.WithCompression(comp),
		fileio.WithMaxSize(w.MaxSize),
	}
	if w.BufferSize > 0 {
		opts = append(opts, fileio.WithBufferSize(w.BufferSize))
	}
	if w.Digest {
		opts = append(opts, fileio.WithDigest())
	}
	if w.Raw {
		opts = append(opts, fileio.WithRaw())
	}
	if w.DropErrors {
		opts = append(opts, fileio.WithDropErrors())
	}

	return opts, nil
}

// Options returns the reader options. Path is opened by the caller once the
// reader slaves are attached.
func (r *ReaderConfig) Options(l logger.Logger) []fileio.Option {
	return []fileio.Option{fileio.WithLogger(l)}
}

// Options returns the device options.
func (d *DeviceConfig) Options(l logger.Logger) ([]hardware.Option, error) {
	opts := []hardware.Option{hardware.WithLogger(l)}
	if d.FrameSize > 0 {
		opts = append(opts, hardware.WithFrameSize(d.FrameSize))
	}
	if d.PollInterval != "" {
		interval, err := time.ParseDuration(d.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("poll_interval: %w", err)
		}
		opts = append(opts, hardware.WithPollInterval(interval))
	}

	return opts, nil
}

// Options returns the memory map options.
func (m *MemMapConfig) Options(l logger.Logger) []hardware.Option {
	opts := []hardware.Option{hardware.WithLogger(l), hardware.WithMapOffset(m.Offset)}
	if m.Create {
		opts = append(opts, hardware.WithCreate())
	}

	return opts
}

// Options returns the hub options.
func (h *HubConfig) Options(l logger.Logger) []memory.Option {
	opts := []memory.Option{memory.WithLogger(l)}

	switch {
	case h.NoSplit:
		opts = append(opts, memory.WithoutSplit())
	case h.SplitLimit > 0 || h.SplitStride > 0:
		limit, stride := h.SplitLimit, h.SplitStride
		if limit == 0 {
			limit = memory.DefaultSplitLimit
		}
		if stride == 0 {
			stride = memory.DefaultSplitStride
		}
		opts = append(opts, memory.WithSplit(limit, stride))
	}

	return opts
}
