package theme

import (
	"embed"
	"fmt"
	"sort"
	"sync"

	"github.com/BurntSushi/toml"
)

//go:embed themes.toml
var themesFS embed.FS

// DefaultName is the theme applied when a request names none.
const DefaultName = "boardroom"

// Fonts names the two type families a theme uses.
type Fonts struct {
	Heading string `toml:"heading" json:"heading"`
	Body    string `toml:"body" json:"body"`
}

// Colors is a theme's palette, as CSS color values.
type Colors struct {
	Background string `toml:"background" json:"background"`
	Surface    string `toml:"surface" json:"surface"`
	Primary    string `toml:"primary" json:"primary"`
	Accent     string `toml:"accent" json:"accent"`
	Text       string `toml:"text" json:"text"`
}

// Theme is one visual style from the embedded catalog. Guidance is prose
// handed to the generation backend alongside the palette.
type Theme struct {
	Name        string `toml:"name" json:"name"`
	DisplayName string `toml:"display_name" json:"display_name"`
	Description string `toml:"description" json:"description"`
	Fonts       Fonts  `toml:"fonts" json:"fonts"`
	Colors      Colors `toml:"colors" json:"colors"`
	Guidance    string `toml:"guidance" json:"-"`
}

type catalog struct {
	Themes []Theme `toml:"theme"`
}

var (
	loadOnce sync.Once
	loaded   map[string]Theme
	ordered  []Theme
	loadErr  error
)

func load() {
	raw, err := themesFS.ReadFile("themes.toml")
	if err != nil {
		loadErr = fmt.Errorf("theme: read catalog: %w", err)
		return
	}
	var c catalog
	if err := toml.Unmarshal(raw, &c); err != nil {
		loadErr = fmt.Errorf("theme: parse catalog: %w", err)
		return
	}
	loaded = make(map[string]Theme, len(c.Themes))
	for _, t := range c.Themes {
		loaded[t.Name] = t
	}
	ordered = c.Themes
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })
}

// List returns every theme in the catalog, sorted by name.
func List() ([]Theme, error) {
	loadOnce.Do(load)
	if loadErr != nil {
		return nil, loadErr
	}
	out := make([]Theme, len(ordered))
	copy(out, ordered)
	return out, nil
}

// Lookup finds a theme by name.
func Lookup(name string) (Theme, bool) {
	loadOnce.Do(load)
	if loadErr != nil {
		return Theme{}, false
	}
	t, ok := loaded[name]
	return t, ok
}

// Resolve returns the named theme, falling back to the default for unknown
// or empty names.
func Resolve(name string) Theme {
	if t, ok := Lookup(name); ok {
		return t
	}
	t, _ := Lookup(DefaultName)
	return t
}
