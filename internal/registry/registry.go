// Package registry loads the document naming the monitored object and the
// sources to fetch for it.
package registry

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/trizel-monitor/internal/monitor"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid registry")

// Source ids become file names, so they are restricted to a safe alphabet.
var sourceIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Registry is the parsed configuration document. JSON documents are valid
// YAML and load the same way.
type Registry struct {
	Object  string           `yaml:"object"`
	Sources []monitor.Source `yaml:"sources"`
	// Platforms is an opaque description of institutional evidence targets.
	Platforms any `yaml:"platforms"`
}

// Load reads and validates the registry at path.
func Load(path string) (*Registry, error) {
	// #nosec G304 -- the registry path is operator supplied.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	reg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// Parse decodes and validates a registry document.
func Parse(data []byte) (*Registry, error) {
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	reg.Object = strings.TrimSpace(reg.Object)
	if reg.Object == "" {
		reg.Object = monitor.DefaultObject
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Validate checks source ids and per-source settings.
func (r *Registry) Validate() error {
	seen := make(map[string]struct{}, len(r.Sources))
	for i, src := range r.Sources {
		if !sourceIDPattern.MatchString(src.ID) {
			return fmt.Errorf("%w: sources[%d] has invalid id %q", ErrInvalid, i, src.ID)
		}
		if _, dup := seen[src.ID]; dup {
			return fmt.Errorf("%w: duplicate source id %q", ErrInvalid, src.ID)
		}
		seen[src.ID] = struct{}{}
		if src.TimeoutSeconds < 0 {
			return fmt.Errorf("%w: source %q has negative timeout", ErrInvalid, src.ID)
		}
		for _, d := range src.Designations {
			if strings.TrimSpace(d) == "" {
				return fmt.Errorf("%w: source %q has a blank designation", ErrInvalid, src.ID)
			}
		}
		if strings.ContainsAny(src.Ext, `/\`) {
			return fmt.Errorf("%w: source %q has invalid ext %q", ErrInvalid, src.ID, src.Ext)
		}
	}
	return nil
}

// PlatformsJSON converts Platforms into a value encoding/json accepts.
// YAML mappings with non-string keys are rekeyed with their printed form.
func (r *Registry) PlatformsJSON() any {
	return normalize(r.Platforms)
}

func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
