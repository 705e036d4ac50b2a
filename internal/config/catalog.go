package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/boddenberg/surface-exec/internal/domain"
)

// SurfaceOverride adjusts one surface. Zero fields leave the built-in value.
type SurfaceOverride struct {
	Enabled            *bool  `yaml:"enabled"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	Model              string `yaml:"model"`
	BaseURL            string `yaml:"base_url"`
}

// Catalog is the optional SURFACES_FILE document:
//
//	surfaces:
//	  chatgpt-web:
//	    enabled: false
//	  openai-api:
//	    rate_limit_per_minute: 120
//	    model: gpt-4o
type Catalog struct {
	Surfaces map[string]SurfaceOverride `yaml:"surfaces"`
}

// LoadCatalog reads path. An empty path yields an empty catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return &Catalog{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open surfaces file: %w", err)
	}
	defer f.Close()
	return ParseCatalog(f)
}

// ParseCatalog decodes a catalog, rejecting unknown keys so typos surface
// at startup.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse surfaces file: %w", err)
	}
	for id, o := range c.Surfaces {
		if o.RateLimitPerMinute < 0 {
			return nil, &domain.ErrValidation{Field: "surfaces." + id + ".rate_limit_per_minute", Message: "must not be negative"}
		}
	}
	return &c, nil
}

// Override returns the entry for id.
func (c *Catalog) Override(id string) SurfaceOverride {
	if c == nil {
		return SurfaceOverride{}
	}
	return c.Surfaces[id]
}

// Apply folds the override for meta.ID into meta.
func (c *Catalog) Apply(meta domain.SurfaceMetadata) domain.SurfaceMetadata {
	o := c.Override(meta.ID)
	if o.Enabled != nil {
		meta.Enabled = *o.Enabled
	}
	if o.RateLimitPerMinute > 0 {
		meta.RateLimitPerMinute = o.RateLimitPerMinute
	}
	return meta
}

// Enabled reports whether id should be registered, given its default.
func (c *Catalog) Enabled(id string, fallback bool) bool {
	if o := c.Override(id); o.Enabled != nil {
		return *o.Enabled
	}
	return fallback
}
