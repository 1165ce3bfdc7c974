package config

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/CGaul/cloud-federation/pkg/topology"
	"github.com/CGaul/cloud-federation/pkg/types"
	"gopkg.in/yaml.v3"
)

// Format is the serialization of a topology file
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

//go:embed presets/*.yaml
var presetFS embed.FS

// FormatFromPath picks the serialization from the file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported topology file extension %q (want .yaml, .yml or .json)", filepath.Ext(path))
	}
}

// LoadTopology reads and decodes a topology file
func LoadTopology(path string) (*types.Topology, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}

	t, err := Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	if t.Name == "" {
		t.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return t, nil
}

// Decode parses a topology document. Unknown fields are rejected.
func Decode(data []byte, format Format) (*types.Topology, error) {
	t := &types.Topology{}

	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal yaml topology: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal json topology: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown topology format %q", format)
	}

	if err := ValidateBaseNetwork(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Encode serializes a topology, mainly to export a preset as a starting point
func Encode(t *types.Topology, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(t)
	case FormatJSON:
		return json.MarshalIndent(t, "", "  ")
	default:
		return nil, fmt.Errorf("unknown topology format %q", format)
	}
}

// ValidateBaseNetwork checks the base network, if the topology has one
func ValidateBaseNetwork(t *types.Topology) error {
	if t.BaseNetwork == "" {
		return nil
	}
	if err := topology.ValidateNetwork(t.BaseNetwork); err != nil {
		return fmt.Errorf("base_network was not specified correctly: %w", err)
	}
	return nil
}

// PresetNames lists the built-in topologies
func PresetNames() []string {
	entries, err := presetFS.ReadDir("presets")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// Preset returns a fresh copy of a built-in topology
func Preset(name string) (*types.Topology, error) {
	data, err := presetFS.ReadFile("presets/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown preset %q (available: %s)", name, strings.Join(PresetNames(), ", "))
	}
	t, err := Decode(data, FormatYAML)
	if err != nil {
		return nil, fmt.Errorf("preset %s: %w", name, err)
	}
	return t, nil
}
