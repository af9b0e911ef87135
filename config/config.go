// Package config loads slotdb.yaml: logging, the store driver, the HTTP
// server and the entity index declarations.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/acksell/slotdb/filterexpr"
	"github.com/acksell/slotdb/index"
	"github.com/acksell/slotdb/internal/logging"
)

// FileName is the configuration file searched for by Find.
const FileName = "slotdb.yaml"

// Config is the content of slotdb.yaml.
type Config struct {
	Log      logging.Config `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	HTTP     HTTPConfig     `yaml:"http"`
	Policy   string         `yaml:"policy"`
	Entities []EntityConfig `yaml:"entities"`
}

// StoreConfig selects and configures the driver.
type StoreConfig struct {
	// Driver is memory, badger or dynamodb. Defaults to memory.
	Driver string `yaml:"driver"`

	// badger
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"inMemory"`
	Compress bool   `yaml:"compress"`

	// dynamodb
	Table          string `yaml:"table"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	ScanSegments   int    `yaml:"scanSegments"`
	ConsistentRead bool   `yaml:"consistentRead"`
}

// HTTPConfig holds configuration for the serve command.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// EntityConfig declares one entity's indexes.
type EntityConfig struct {
	Entity  string        `yaml:"entity"`
	AutoID  string        `yaml:"autoId"`
	Indexes []IndexConfig `yaml:"indexes"`
}

// IndexConfig declares one index.
type IndexConfig struct {
	Name      string           `yaml:"name"`
	Field     string           `yaml:"field"`
	PK        []string         `yaml:"pk"`
	SK        []string         `yaml:"sk"`
	Relations []RelationConfig `yaml:"relations"`
}

// RelationConfig declares a relation on an index.
type RelationConfig struct {
	Name   string `yaml:"name"`
	Entity string `yaml:"entity"`
}

// Default returns the configuration used when no file is found.
func Default() Config {
	return Config{
		Log:   logging.Config{Level: "info", Format: "text"},
		Store: StoreConfig{Driver: "memory"},
		HTTP:  HTTPConfig{Port: 8080},
	}
}

// Parse decodes a configuration, filling unset fields with defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	switch cfg.Store.Driver {
	case "memory", "badger", "dynamodb":
	default:
		return Config{}, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if cfg.Store.Driver == "dynamodb" && cfg.Store.Table == "" {
		return Config{}, errors.New("store.table is required for the dynamodb driver")
	}
	if _, err := filterexpr.ParsePolicy(cfg.Policy); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads the configuration at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Find searches for slotdb.yaml starting from dir and walking up to the
// filesystem root. It returns "" if there is none.
func Find(dir string) string {
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			return ""
		}
		dir = parent
	}
}

// FilterPolicy returns the configured policy for unresolvable filters.
func (c Config) FilterPolicy() filterexpr.Policy {
	p, _ := filterexpr.ParsePolicy(c.Policy)
	return p
}

// Catalogs builds the declared entities, keyed by entity name.
func (c Config) Catalogs() (map[string]*index.Catalog, error) {
	out := make(map[string]*index.Catalog, len(c.Entities))
	for _, e := range c.Entities {
		if _, dup := out[e.Entity]; dup {
			return nil, fmt.Errorf("%w: entity %q declared twice", index.ErrInvalidConfig, e.Entity)
		}
		cat, err := index.New(e.toIndex())
		if err != nil {
			return nil, err
		}
		out[e.Entity] = cat
	}
	return out, nil
}

func (e EntityConfig) toIndex() index.EntityConfig {
	cfg := index.EntityConfig{
		Entity: e.Entity,
		AutoID: index.FieldRef(e.AutoID),
	}
	for _, ic := range e.Indexes {
		def := index.Definition{
			Name:  ic.Name,
			Field: index.Slot(ic.Field),
			PK:    index.Fields(ic.PK...),
		}
		if len(ic.SK) > 0 {
			def.SK = index.Fields(ic.SK...)
		}
		for _, r := range ic.Relations {
			def.Relations = append(def.Relations, index.RelationRef{Name: r.Name, Entity: r.Entity})
		}
		cfg.Indexes = append(cfg.Indexes, def)
	}
	return cfg
}
