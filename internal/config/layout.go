package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/layout"
	"gopkg.in/yaml.v3"
)

// RawLayout names the empty layout that writes chunks unwrapped.
const RawLayout = "raw"

var profileExts = []string{".toml", ".yaml", ".yml"}

// LoadLayout reads a layout profile. The format follows the extension.
func LoadLayout(path string) (layout.Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return layout.Layout{}, fmt.Errorf("layout load failed (%s): %w", path, err)
	}
	var l layout.Layout
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.Decode(string(data), &l)
		if err != nil {
			return layout.Layout{}, fmt.Errorf("layout parse failed (%s): %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return layout.Layout{}, fmt.Errorf("layout %s has unknown key %s", path, undecoded[0])
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&l); err != nil {
			return layout.Layout{}, fmt.Errorf("layout parse failed (%s): %w", path, err)
		}
	default:
		return layout.Layout{}, fmt.Errorf("layout %s: unsupported extension", path)
	}
	if l.Name == "" {
		l.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := l.Validate(); err != nil {
		return layout.Layout{}, fmt.Errorf("layout %s: %w", path, err)
	}
	return l, nil
}

// ResolveLayout accepts "", "raw", a file path, or a profile name looked
// up as <dir>/<name>.{toml,yaml,yml} in dirs.
func ResolveLayout(ref string, dirs ...string) (layout.Layout, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || ref == RawLayout {
		return layout.Layout{}, nil
	}
	if filepath.Ext(ref) != "" || strings.ContainsRune(ref, filepath.Separator) {
		return LoadLayout(ref)
	}
	for _, dir := range dirs {
		for _, ext := range profileExts {
			path := filepath.Join(dir, ref+ext)
			if _, err := os.Stat(path); err == nil {
				return LoadLayout(path)
			} else if !errors.Is(err, os.ErrNotExist) {
				return layout.Layout{}, fmt.Errorf("layout lookup %s: %w", path, err)
			}
		}
	}
	return layout.Layout{}, fmt.Errorf("layout profile %q not found in %s", ref, strings.Join(dirs, ", "))
}
