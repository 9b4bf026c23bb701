package locale

import (
	"embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const DefaultTag = "en"

const (
	EnumTransferOption = "transfer_option"
	EnumActivity       = "activity"
	EnumDietary        = "dietary"
)

//go:embed catalogs/*.yaml
var catalogFS embed.FS

// Catalog is one language's string table plus its enum label tables.
type Catalog struct {
	Tag     string                       `yaml:"-"`
	Strings map[string]string            `yaml:"strings"`
	Enums   map[string]map[string]string `yaml:"enums"`
	// fallback resolves keys this catalog does not define.
	fallback *Catalog
}

var (
	cacheMu sync.Mutex
	cache   = map[string]*Catalog{}
)

// Load returns the catalog for tag. Region subtags are ignored ("fr-CA" loads
// "fr") and unknown tags resolve to the default catalog.
func Load(tag string) (*Catalog, error) {
	base := baseTag(tag)

	cacheMu.Lock()
	defer cacheMu.Unlock()

	if c, ok := cache[base]; ok {
		return c, nil
	}

	def, err := loadLocked(DefaultTag, nil)
	if err != nil {
		return nil, err
	}
	if base == DefaultTag {
		return def, nil
	}
	if !Supported(base) {
		return def, nil
	}
	return loadLocked(base, def)
}

// MustLoad is Load for callers that only pass tags from Tags().
func MustLoad(tag string) *Catalog {
	c, err := Load(tag)
	if err != nil {
		panic(err)
	}
	return c
}

func loadLocked(tag string, fallback *Catalog) (*Catalog, error) {
	if c, ok := cache[tag]; ok {
		return c, nil
	}
	raw, err := catalogFS.ReadFile("catalogs/" + tag + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", tag, err)
	}
	c := &Catalog{}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", tag, err)
	}
	c.Tag = tag
	c.fallback = fallback
	cache[tag] = c
	return c, nil
}

// Tags lists the embedded catalogs.
func Tags() []string {
	entries, err := catalogFS.ReadDir("catalogs")
	if err != nil {
		return []string{DefaultTag}
	}
	tags := make([]string, 0, len(entries))
	for _, e := range entries {
		tags = append(tags, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(tags)
	return tags
}

func Supported(tag string) bool {
	base := baseTag(tag)
	for _, t := range Tags() {
		if t == base {
			return true
		}
	}
	return false
}

func baseTag(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	if tag == "" {
		return DefaultTag
	}
	return tag
}

// Text returns the string for key, falling back to the default catalog and
// finally to the key itself.
func (c *Catalog) Text(key string) string {
	if v, ok := c.lookup(key); ok {
		return v
	}
	return key
}

func (c *Catalog) lookup(key string) (string, bool) {
	for cur := c; cur != nil; cur = cur.fallback {
		if v, ok := cur.Strings[key]; ok {
			return v, true
		}
	}
	return "", false
}

// Has reports whether key resolves in this catalog or its fallback.
func (c *Catalog) Has(key string) bool {
	_, ok := c.lookup(key)
	return ok
}

// EnumLabel returns the display label for value of enum, or value when unknown.
func (c *Catalog) EnumLabel(enum, value string) string {
	for cur := c; cur != nil; cur = cur.fallback {
		if labels, ok := cur.Enums[enum]; ok {
			if v, ok := labels[value]; ok {
				return v
			}
		}
	}
	return value
}

// EnumValues lists the values defined for enum, sorted.
func (c *Catalog) EnumValues(enum string) []string {
	seen := map[string]struct{}{}
	for cur := c; cur != nil; cur = cur.fallback {
		for v := range cur.Enums[enum] {
			seen[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
