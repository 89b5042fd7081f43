// Package profile holds per-site extraction settings declared as data.
package profile

import (
	"embed"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brettboylen/reddit-harvester/resolve"
)

const defaultPreviewThreshold = 20

//go:embed profiles/*.yaml
var builtinFS embed.FS

// Profile describes how to read one site: where the item containers are, the ordered
// strategies for every logical field, how detail pages are laid out and how the listing
// reveals more items.
type Profile struct {
	Name             string     `yaml:"name"`
	Containers       []string   `yaml:"containers"`
	Fields           Fields     `yaml:"fields"`
	Detail           Detail     `yaml:"detail"`
	Loader           LoaderSpec `yaml:"loader"`
	PreviewThreshold int        `yaml:"preview_threshold"`
}

// Fields lists the strategies for each listing field
type Fields struct {
	Title      []resolve.FieldSpec `yaml:"title"`
	Author     []resolve.FieldSpec `yaml:"author"`
	DetailURL  []resolve.FieldSpec `yaml:"detail_url"`
	Timestamp  []resolve.FieldSpec `yaml:"timestamp"`
	Score      []resolve.FieldSpec `yaml:"score"`
	ReplyCount []resolve.FieldSpec `yaml:"reply_count"`
	Preview    []resolve.FieldSpec `yaml:"preview"`
}

// Detail lists the strategies for an item's own page
type Detail struct {
	Ready      string              `yaml:"ready"`
	Body       []resolve.FieldSpec `yaml:"body"`
	Tags       []resolve.FieldSpec `yaml:"tags"`
	Score      []resolve.FieldSpec `yaml:"score"`
	ReplyCount []resolve.FieldSpec `yaml:"reply_count"`
	Approval   []resolve.FieldSpec `yaml:"approval"`
	Timestamp  []resolve.FieldSpec `yaml:"timestamp"`
	Replies    Replies             `yaml:"replies"`
}

// Replies describes comment containers; nesting is derived from the DOM, a reply's
// children are the reply containers whose nearest reply ancestor is that reply
type Replies struct {
	Containers []string            `yaml:"containers"`
	Author     []resolve.FieldSpec `yaml:"author"`
	Body       []resolve.FieldSpec `yaml:"body"`
	Score      []resolve.FieldSpec `yaml:"score"`
	Timestamp  []resolve.FieldSpec `yaml:"timestamp"`
}

// LoaderSpec configures how a listing reveals more items
type LoaderSpec struct {
	Scroll         bool     `yaml:"scroll"`
	LoadMore       []string `yaml:"load_more"`
	Keywords       []string `yaml:"keywords"`
	ButtonSelector string   `yaml:"button_selector"`
	WaitSelector   string   `yaml:"wait_selector"`
	SettleMs       int      `yaml:"settle_ms"`
}

// Parse decodes a profile from YAML and fills defaults
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	p.applyDefaults()
	return &p, nil
}

// Load reads a profile from a YAML file
func Load(filePath string) (*Profile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", filePath, err)
	}
	return Parse(data)
}

// Lookup returns a built-in profile by name
func Lookup(name string) (*Profile, error) {
	data, err := builtinFS.ReadFile(path.Join("profiles", name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("unknown profile %q (available: %s)", name, strings.Join(Builtins(), ", "))
	}
	return Parse(data)
}

// Builtins lists the names of the embedded profiles
func Builtins() []string {
	entries, err := builtinFS.ReadDir("profiles")
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

func (p *Profile) validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if len(p.Fields.Title) == 0 {
		return fmt.Errorf("profile %s: at least one title strategy is required", p.Name)
	}
	if len(p.Fields.DetailURL) == 0 {
		return fmt.Errorf("profile %s: at least one detail_url strategy is required", p.Name)
	}
	return nil
}

func (p *Profile) applyDefaults() {
	if p.PreviewThreshold <= 0 {
		p.PreviewThreshold = defaultPreviewThreshold
	}
	if len(p.Loader.Keywords) == 0 {
		p.Loader.Keywords = []string{"load more", "show more", "view more", "see more", "more posts", "more results"}
	}
	if p.Loader.ButtonSelector == "" {
		p.Loader.ButtonSelector = `button, [role="button"]`
	}
}
