// Package mimecatalog maps filenames to MIME types and MIME types to display
// attributes. The default table is embedded from catalog.yaml.
package mimecatalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Fallback values.
const (
	DefaultType     = "application/octet-stream"
	UnknownCategory = "unknown"
	UnknownCSSClass = "unknown"
)

//go:embed catalog.yaml
var defaultTable []byte

// TypeInfo holds the display attributes of a MIME type.
type TypeInfo struct {
	Category  string `yaml:"category"`
	CSSClass  string `yaml:"css"`
	Extension string `yaml:"extension"`
}

type table struct {
	Extensions map[string]string   `yaml:"extensions"`
	Types      map[string]TypeInfo `yaml:"types"`
}

// Catalog is an immutable lookup table. It is safe for concurrent use.
type Catalog struct {
	extensions map[string]string
	types      map[string]TypeInfo
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the catalog built from the embedded table.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Load(bytes.NewReader(defaultTable))
		if err != nil {
			panic(fmt.Sprintf("mimecatalog: embedded table: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Load parses a catalog table in the catalog.yaml format.
func Load(r io.Reader) (*Catalog, error) {
	var t table
	if err := yaml.NewDecoder(r).Decode(&t); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{
		extensions: make(map[string]string, len(t.Extensions)),
		types:      make(map[string]TypeInfo, len(t.Types)),
	}
	for ext, mimeType := range t.Extensions {
		ext = strings.Trim(strings.ToLower(ext), ".")
		if ext == "" || mimeType == "" {
			return nil, fmt.Errorf("invalid extension entry %q: %q", ext, mimeType)
		}
		c.extensions[ext] = strings.ToLower(mimeType)
	}
	for mimeType, info := range t.Types {
		c.types[strings.ToLower(mimeType)] = info
	}
	return c, nil
}

// TypeForFilename returns the MIME type for name using the longest matching
// extension, so "a.tar.gz" matches "tar.gz" before "gz".
func (c *Catalog) TypeForFilename(name string) string {
	base := strings.ToLower(path.Base(strings.ReplaceAll(name, "\\", "/")))
	for i := 0; i < len(base); i++ {
		if base[i] != '.' {
			continue
		}
		if mimeType, ok := c.extensions[base[i+1:]]; ok {
			return mimeType
		}
	}
	return DefaultType
}

// Category returns the display category of mimeType.
func (c *Catalog) Category(mimeType string) string {
	if info, ok := c.lookup(mimeType); ok && info.Category != "" {
		return info.Category
	}
	return UnknownCategory
}

// CSSClass returns the class tag used to render mimeType.
func (c *Catalog) CSSClass(mimeType string) string {
	if info, ok := c.lookup(mimeType); ok && info.CSSClass != "" {
		return info.CSSClass
	}
	return UnknownCSSClass
}

// Extension returns the canonical extension of mimeType without a leading
// dot, or "" when unknown.
func (c *Catalog) Extension(mimeType string) string {
	if info, ok := c.lookup(mimeType); ok {
		return info.Extension
	}
	return ""
}

// lookup ignores case and media type parameters such as charset.
func (c *Catalog) lookup(mimeType string) (TypeInfo, bool) {
	if mediaType, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mediaType
	}
	info, ok := c.types[strings.ToLower(strings.TrimSpace(mimeType))]
	return info, ok
}
