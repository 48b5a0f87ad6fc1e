// Package catalog loads the zone and service tables and serves them from a
// registry with atomic pointer swap.
package catalog

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml
var embedded embed.FS

// Catalog file names, relative to the catalog directory.
const (
	FileZones2D  = "zones_2d.yaml"
	FileZones3D  = "zones_3d.yaml"
	FileServices = "services.yaml"
)

// SourceEmbedded names the tables compiled into the binary.
const SourceEmbedded = "embedded"

// ZoneEntry2D is one schematic hotspot as written in zones_2d.yaml.
type ZoneEntry2D struct {
	ID       string  `yaml:"id" validate:"required"`
	Name     string  `yaml:"name" validate:"required"`
	ZoneType string  `yaml:"zone_type" validate:"required,zonetype"`
	X        float64 `yaml:"x" validate:"gte=0,lte=100"`
	Y        float64 `yaml:"y" validate:"gte=0,lte=100"`
}

// ZoneEntry3D is one model hotspot as written in zones_3d.yaml.
type ZoneEntry3D struct {
	ID       string  `yaml:"id" validate:"required"`
	Name     string  `yaml:"name" validate:"required"`
	ZoneType string  `yaml:"zone_type" validate:"required,zonetype"`
	X        float64 `yaml:"x" validate:"gte=-1,lte=1"`
	Y        float64 `yaml:"y" validate:"gte=-1,lte=1"`
	Z        float64 `yaml:"z" validate:"gte=-1,lte=1"`
}

// ServiceEntry is one priced service as written in services.yaml.
type ServiceEntry struct {
	Name  string `yaml:"name" validate:"required"`
	Price int    `yaml:"price" validate:"gte=0"`
}

// Tables is the raw content of the three catalog files.
type Tables struct {
	Zones2D  map[string]map[string][]ZoneEntry2D
	Zones3D  map[string][]ZoneEntry3D
	Services map[string][]ServiceEntry
	Checksum string
	Source   string
}

// Loader parses catalog files and computes a SHA-256 checksum over them.
type Loader struct{}

// NewLoader creates a new catalog Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads the catalog from dir, or from the embedded tables when dir is
// empty.
func (l *Loader) Load(dir string) (*Tables, error) {
	if dir == "" {
		return l.LoadEmbedded()
	}
	return l.LoadFS(os.DirFS(dir), dir)
}

// LoadEmbedded reads the tables compiled into the binary.
func (l *Loader) LoadEmbedded() (*Tables, error) {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		return nil, fmt.Errorf("catalog: embedded data: %w", err)
	}
	return l.LoadFS(sub, SourceEmbedded)
}

// LoadFS reads the three catalog files from fsys. Unknown keys in any entry
// are rejected.
func (l *Loader) LoadFS(fsys fs.FS, source string) (*Tables, error) {
	t := &Tables{Source: source}
	h := sha256.New()

	files := []struct {
		name string
		dst  any
	}{
		{FileZones2D, &t.Zones2D},
		{FileZones3D, &t.Zones3D},
		{FileServices, &t.Services},
	}
	for _, f := range files {
		data, err := fs.ReadFile(fsys, f.name)
		if err != nil {
			return nil, fmt.Errorf("catalog: reading %s: %w", f.name, err)
		}
		if err := decodeStrict(data, f.dst); err != nil {
			return nil, fmt.Errorf("catalog: parsing %s: %w", f.name, err)
		}
		h.Write(data)
	}

	t.Checksum = fmt.Sprintf("%x", h.Sum(nil))
	return t, nil
}

func decodeStrict(data []byte, dst any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
