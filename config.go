package fieldq

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/fieldq/internal/compress"
	"github.com/hupe1980/fieldq/scanner"
)

// IvaratorConfig holds the tunables shared by every ivarator builder.
type IvaratorConfig struct {
	// CacheDir is the base URI of the ivarator cache directories
	// (path, file://, mem://, s3:// or minio://).
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
	// PersistThreshold is the row count above which a term spills.
	PersistThreshold int64 `yaml:"persist_threshold" json:"persist_threshold"`
	// ScanTimeout bounds cache population.
	ScanTimeout time.Duration `yaml:"scan_timeout" json:"scan_timeout"`
	// BufferSize is the number of rows buffered per run.
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
	// MaxRangeSplit caps the parallel scan units per term.
	MaxRangeSplit int `yaml:"max_range_split" json:"max_range_split"`
	// MaxOpenFiles caps the spill files open at once per term.
	MaxOpenFiles int `yaml:"max_open_files" json:"max_open_files"`
	// Compression is the run codec: none, lz4 or zstd.
	Compression string `yaml:"compression" json:"compression"`
	// IOLimitBytesPerSec caps spill write throughput. 0 disables the limit.
	IOLimitBytesPerSec int64 `yaml:"io_limit_bytes_per_sec" json:"io_limit_bytes_per_sec"`
	// FSTCacheSize is the number of decoded FSTs kept per manager.
	FSTCacheSize int `yaml:"fst_cache_size" json:"fst_cache_size"`
}

// DefaultIvaratorConfig returns the default ivarator configuration.
func DefaultIvaratorConfig() IvaratorConfig {
	opts := scanner.DefaultOptions()
	return IvaratorConfig{
		PersistThreshold: opts.PersistThreshold,
		ScanTimeout:      opts.ScanTimeout,
		BufferSize:       opts.BufferSize,
		MaxRangeSplit:    opts.MaxRangeSplit,
		MaxOpenFiles:     opts.MaxOpenFiles,
		Compression:      opts.Codec.String(),
		FSTCacheSize:     16,
	}
}

// LoadIvaratorConfig reads a YAML file on top of DefaultIvaratorConfig.
func LoadIvaratorConfig(path string) (IvaratorConfig, error) {
	cfg := DefaultIvaratorConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read ivarator config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse ivarator config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c IvaratorConfig) Validate() error {
	const name = "ivarator config"
	if _, err := compress.Parse(c.Compression); err != nil {
		return setupError(name, "compression", err)
	}
	switch {
	case c.PersistThreshold < 0:
		return setupError(name, fmt.Sprintf("persist_threshold %d is negative", c.PersistThreshold), nil)
	case c.BufferSize <= 0:
		return setupError(name, fmt.Sprintf("buffer_size %d must be positive", c.BufferSize), nil)
	case c.MaxRangeSplit <= 0:
		return setupError(name, fmt.Sprintf("max_range_split %d must be positive", c.MaxRangeSplit), nil)
	case c.MaxOpenFiles < scanner.MinOpenFiles:
		return setupError(name, fmt.Sprintf("max_open_files %d is below %d", c.MaxOpenFiles, scanner.MinOpenFiles), nil)
	}
	return nil
}

func (c IvaratorConfig) codec() compress.Type {
	t, err := compress.Parse(c.Compression)
	if err != nil {
		return compress.LZ4
	}
	return t
}
