// Package fatfs is an embedded-friendly FAT16/FAT32 filesystem driver that
// sits on top of an arbitrary 512-byte block device and exposes POSIX-like
// volume, directory, and file operations through a bounded handle table
// instead of a pointer graph. See the block, mbr, fat, sdcard and ferrors
// subpackages for the block-device contract, MBR decoding, the FAT on-disk
// engine, the SD/SPI block device, and the error taxonomy respectively.
package fatfs

import (
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/embeddedgo/fatfs/sdcard"
)

// Default table capacities, chosen to match typical embedded resource
// budgets: a handful of volumes, a few directories held open while walking
// a tree, and a handful of concurrently open files.
const (
	DefaultMaxVolumes = 4
	DefaultMaxDirs    = 8
	DefaultMaxFiles   = 8
)

// Config carries every tunable this driver exposes. The zero value already
// yields fully-usable defaults (see resolve), so loading a YAML file is
// strictly optional ambient convenience, never a requirement to boot the
// driver. EnableDataCRC is the one field resolve does not default: it is
// false in a zero Config, and only LoadConfig turns it on when the file does
// not set it.
type Config struct {
	MaxVolumes int `yaml:"max_volumes"`
	MaxDirs    int `yaml:"max_dirs"`
	MaxFiles   int `yaml:"max_files"`

	// SD/SPI driver retry budgets; propagated into sdcard.Options when the
	// manager owns its own card driver.
	ReadRetries    uint32 `yaml:"read_retries"`
	WriteRetries   uint32 `yaml:"write_retries"`
	CommandRetries uint32 `yaml:"command_retries"`

	// EnableDataCRC mirrors sdcard.Options.UseCRC; it is ambient
	// configuration surfaced here so a single file can configure both the
	// manager and the card it drives.
	EnableDataCRC bool `yaml:"enable_data_crc"`

	// DefaultCodepage is informational only: this driver only implements
	// ISO-8859-1 short-name decoding, never consulted for behaviour, but
	// recorded so a caller's config file round-trips without data loss.
	DefaultCodepage string `yaml:"default_codepage"`

	// Logger receives lifecycle (open/close/flush) traces at LevelDebug. A
	// nil Logger disables logging entirely; no package calls slog.Default
	// implicitly.
	Logger *slog.Logger `yaml:"-"`
}

// resolve fills in zero fields with their defaults, leaving an explicitly
// configured value untouched.
func (c Config) resolve() Config {
	if c.MaxVolumes == 0 {
		c.MaxVolumes = DefaultMaxVolumes
	}
	if c.MaxDirs == 0 {
		c.MaxDirs = DefaultMaxDirs
	}
	if c.MaxFiles == 0 {
		c.MaxFiles = DefaultMaxFiles
	}
	if c.ReadRetries == 0 {
		c.ReadRetries = sdcard.DefaultReadRetries
	}
	if c.WriteRetries == 0 {
		c.WriteRetries = sdcard.DefaultWriteRetries
	}
	if c.CommandRetries == 0 {
		c.CommandRetries = sdcard.DefaultCommandRetries
	}
	if c.DefaultCodepage == "" {
		c.DefaultCodepage = "ISO-8859-1"
	}
	return c
}

// SDOptions translates the retry-budget and CRC fields into sdcard.Options,
// for callers that construct their own sdcard.Card against this Config.
func (c Config) SDOptions() sdcard.Options {
	c = c.resolve()
	return sdcard.Options{
		UseCRC:         c.EnableDataCRC,
		AcquireRetries: sdcard.DefaultOptions().AcquireRetries,
		ReadRetries:    c.ReadRetries,
		WriteRetries:   c.WriteRetries,
		CommandRetries: c.CommandRetries,
	}
}

// LoadConfig reads a YAML file at path and overlays it onto the defaults.
// A field absent from the file keeps its default value.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	cfg.EnableDataCRC = true // survives only if the file is silent on it
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg.resolve(), nil
}
