// Package config loads the YAML configuration shared by the whiteboard
// binaries.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/astromechza/automerge-whiteboard/pkg/logging"
)

type Config struct {
	Log    Log    `yaml:"log"`
	Server Server `yaml:"server"`
	Client Client `yaml:"client"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (l Log) Logging() logging.Config {
	return logging.Config{Level: l.Level, Format: l.Format}
}

type Server struct {
	Addr            string        `yaml:"addr"`
	Database        string        `yaml:"database"`
	BackupInterval  time.Duration `yaml:"backup_interval"`
	ReplicaInterval time.Duration `yaml:"replica_interval"`
	// Peers are base urls of other servers whose boards are replicated.
	Peers []string `yaml:"peers"`
	// Boards lists the boards replicated with every peer.
	Boards    []string `yaml:"boards"`
	Advertise bool     `yaml:"advertise"`
	// DumpDir receives document saves and history svgs on shutdown when set.
	DumpDir string `yaml:"dump_dir"`
}

type Client struct {
	// Server is the base url. When empty the client browses for one over mDNS.
	Server           string        `yaml:"server"`
	Board            string        `yaml:"board"`
	Width            int           `yaml:"width"`
	Height           int           `yaml:"height"`
	LineWidth        float64       `yaml:"line_width"`
	Color            string        `yaml:"color"`
	UpdateInterval   time.Duration `yaml:"update_interval"`
	OptimisticClear  bool          `yaml:"optimistic_clear"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
	Strokes          int           `yaml:"strokes"`
	StrokeDelay      time.Duration `yaml:"stroke_delay"`
	ClearAfter       bool          `yaml:"clear_after"`
	PNG              string        `yaml:"png"`
	PDF              string        `yaml:"pdf"`
}

func Default() Config {
	return Config{
		Log: Log{Level: "info", Format: logging.FormatJSON},
		Server: Server{
			Addr:            "localhost:8080",
			Database:        "whiteboard.sqlite3",
			BackupInterval:  5 * time.Second,
			ReplicaInterval: time.Second,
			Boards:          []string{"default"},
		},
		Client: Client{
			Board:            "default",
			Width:            800,
			Height:           600,
			LineWidth:        8,
			Color:            "red",
			UpdateInterval:   600 * time.Millisecond,
			DiscoveryTimeout: 3 * time.Second,
			StrokeDelay:      100 * time.Millisecond,
		},
	}
}

// Load reads path over the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Parse(raw []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.BackupInterval <= 0 {
		errs = append(errs, errors.New("server.backup_interval must be positive"))
	}
	if c.Server.ReplicaInterval <= 0 {
		errs = append(errs, errors.New("server.replica_interval must be positive"))
	}
	if c.Client.Board == "" {
		errs = append(errs, errors.New("client.board is required"))
	}
	if c.Client.Width <= 0 || c.Client.Height <= 0 {
		errs = append(errs, errors.New("client.width and client.height must be positive"))
	}
	if c.Client.LineWidth <= 0 {
		errs = append(errs, errors.New("client.line_width must be positive"))
	}
	if c.Client.UpdateInterval <= 0 {
		errs = append(errs, errors.New("client.update_interval must be positive"))
	}
	if c.Client.Strokes < 0 {
		errs = append(errs, errors.New("client.strokes must not be negative"))
	}
	return errors.Join(errs...)
}
