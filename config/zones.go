package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// ErrUnknownZone is returned by Select for a name matching no zone.
var ErrUnknownZone = errors.New("unknown zone")

// Zone is one barrio the spider crawls.
type Zone struct {
	Distrito string `yaml:"distrito" json:"distrito"`
	Barrio   string `yaml:"barrio" json:"barrio"`
	Path     string `yaml:"path" json:"path"`
}

// Slug identifies the zone as distrito/barrio in normalized form.
func (z Zone) Slug() string {
	return NormalizeZone(z.Distrito) + "/" + NormalizeZone(z.Barrio)
}

type zoneFile struct {
	Zones []Zone `yaml:"zones"`
}

// ZoneCatalog holds the barrio catalog loaded from YAML.
type ZoneCatalog struct {
	mu    sync.RWMutex
	path  string
	zones []Zone
}

// LoadZones reads the catalog at path.
func LoadZones(path string) (*ZoneCatalog, error) {
	c := &ZoneCatalog{path: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewZoneCatalog builds a catalog from zones already in memory.
func NewZoneCatalog(zones []Zone) *ZoneCatalog {
	return &ZoneCatalog{zones: append([]Zone(nil), zones...)}
}

// Reload re-reads the catalog file.
func (c *ZoneCatalog) Reload() error {
	absPath, err := filepath.Abs(c.path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("failed to read zones file: %w", err)
	}

	var file zoneFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse zones file: %w", err)
	}
	for i, z := range file.Zones {
		if strings.TrimSpace(z.Distrito) == "" || strings.TrimSpace(z.Barrio) == "" {
			return fmt.Errorf("zone %d: distrito and barrio are required", i)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.zones = file.Zones
	return nil
}

// Zones returns a copy of every zone.
func (c *ZoneCatalog) Zones() []Zone {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Zone{}, c.zones...)
}

// Distritos returns the distinct distrito names, sorted.
func (c *ZoneCatalog) Distritos() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{})
	names := []string{}
	for _, z := range c.zones {
		if _, ok := seen[z.Distrito]; ok {
			continue
		}
		seen[z.Distrito] = struct{}{}
		names = append(names, z.Distrito)
	}
	sort.Strings(names)
	return names
}

// ZonesByDistrito returns the barrios of one distrito. Matching ignores case
// and accents.
func (c *ZoneCatalog) ZonesByDistrito(distrito string) []Zone {
	c.mu.RLock()
	defer c.mu.RUnlock()

	want := NormalizeZone(distrito)
	zones := []Zone{}
	for _, z := range c.zones {
		if NormalizeZone(z.Distrito) == want {
			zones = append(zones, z)
		}
	}
	return zones
}

// Select resolves names (distritos or distrito/barrio slugs) to zones. An
// empty selection means the whole catalog.
func (c *ZoneCatalog) Select(names []string) ([]Zone, error) {
	if len(names) == 0 {
		return c.Zones(), nil
	}

	var selected []Zone
	seen := make(map[string]struct{})
	for _, name := range names {
		var matched []Zone
		if strings.Contains(name, "/") {
			parts := strings.SplitN(name, "/", 2)
			slug := NormalizeZone(parts[0]) + "/" + NormalizeZone(parts[1])
			for _, z := range c.Zones() {
				if z.Slug() == slug {
					matched = append(matched, z)
				}
			}
		} else {
			matched = c.ZonesByDistrito(name)
		}
		if len(matched) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownZone, name)
		}
		for _, z := range matched {
			if _, ok := seen[z.Slug()]; ok {
				continue
			}
			seen[z.Slug()] = struct{}{}
			selected = append(selected, z)
		}
	}
	return selected, nil
}

// NormalizeZone lowercases a zone name, strips accents and joins words with dashes.
func NormalizeZone(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, name)
	if err != nil {
		stripped = name
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(stripped) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		default:
			dash = true
		}
	}
	return b.String()
}
