package config

import (
	"bytes"
	_ "embed"
	"io"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"hdlkit/internal/ir"
)

//go:embed schema.cue
var schema []byte

// Config controls how hdlc prepares and checks a design.
type Config struct {
	// Conflicts selects the driver conflict mode: silent, warn or error.
	Conflicts string `yaml:"conflicts" json:"conflicts"`
	// EnsureSync creates a default sync domain when the design has none.
	EnsureSync *bool `yaml:"ensure_sync" json:"ensure_sync"`
	// DiagFormat is the diagnostic output format: text or json.
	DiagFormat string `yaml:"diag_format" json:"diag_format"`
	// Ports names the design signals requested as top-level ports. Empty
	// means every port the design declares.
	Ports []string `yaml:"ports" json:"ports,omitempty"`
	// Check runs the contract checker after preparation.
	Check *bool `yaml:"check" json:"check"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: read")
	}
	cfg, err := LoadBytes(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config: %s", path)
	}
	return cfg, nil
}

// LoadBytes parses YAML data, fills in defaults and validates the result
// against the embedded schema.
func LoadBytes(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "parse")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Conflicts == "" {
		c.Conflicts = ir.ConflictWarn.String()
	}
	if c.EnsureSync == nil {
		c.EnsureSync = boolPtr(true)
	}
	if c.DiagFormat == "" {
		c.DiagFormat = "text"
	}
	if c.Check == nil {
		c.Check = boolPtr(true)
	}
}

func boolPtr(v bool) *bool {
	return &v
}

// Validate unifies the configuration with the #Config schema definition.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	s := ctx.CompileBytes(schema)
	if err := s.Err(); err != nil {
		return errors.Wrap(err, "compile schema")
	}
	def := s.LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return errors.Wrap(err, "lookup #Config")
	}
	v := def.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return errors.Errorf("invalid configuration: %s", strings.TrimSpace(cueerrors.Details(err, nil)))
	}
	return nil
}

// ConflictMode returns the parsed conflict mode.
func (c *Config) ConflictMode() (ir.ConflictMode, error) {
	return ir.ParseConflictMode(c.Conflicts)
}

// SyncEnabled reports whether a default sync domain is requested.
func (c *Config) SyncEnabled() bool { return c.EnsureSync == nil || *c.EnsureSync }

// CheckEnabled reports whether the contract checker should run.
func (c *Config) CheckEnabled() bool { return c.Check == nil || *c.Check }
