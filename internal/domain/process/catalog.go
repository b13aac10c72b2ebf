package process

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Kind is a named process selector, e.g. a language server.
type Kind struct {
	Name    string            `json:"name" yaml:"name" toml:"name"`
	Command string            `json:"command" yaml:"command" toml:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args" toml:"args"`
	Env     map[string]string `json:"env,omitempty" yaml:"env" toml:"env"`
	Dir     string            `json:"dir,omitempty" yaml:"dir" toml:"dir"`
	IO      string            `json:"io,omitempty" yaml:"io" toml:"io"`
}

// Spec converts the kind into a spawn spec
func (k Kind) Spec() (Spec, error) {
	mode, err := ParseIOMode(k.IO)
	if err != nil {
		return Spec{}, fmt.Errorf("kind %s: %w", k.Name, err)
	}

	env := make([]string, 0, len(k.Env))
	for key, value := range k.Env {
		env = append(env, key+"="+value)
	}
	sort.Strings(env)

	return Spec{
		Name:   k.Name,
		Path:   k.Command,
		Args:   append([]string(nil), k.Args...),
		Env:    env,
		Dir:    k.Dir,
		IOMode: mode,
	}, nil
}

func (k Kind) validate() error {
	if k.Name == "" {
		return fmt.Errorf("kind without name")
	}
	if k.Command == "" {
		return fmt.Errorf("kind %s: command is required", k.Name)
	}
	if _, err := ParseIOMode(k.IO); err != nil {
		return fmt.Errorf("kind %s: %w", k.Name, err)
	}
	return nil
}

// DefaultKinds returns the built-in language servers
func DefaultKinds() []Kind {
	return []Kind{
		{Name: "python", Command: "pyright-langserver", Args: []string{"--stdio"}},
		{Name: "typescript", Command: "typescript-language-server", Args: []string{"--stdio"}},
		{Name: "javascript", Command: "typescript-language-server", Args: []string{"--stdio"}},
	}
}

// catalogFile is the on-disk layout for YAML and TOML catalogs
type catalogFile struct {
	// Replace drops the built-in kinds instead of extending them
	Replace bool   `yaml:"replace" toml:"replace"`
	Kinds   []Kind `yaml:"kinds" toml:"kinds"`
}

// Catalog maps selectors to process kinds. It is fixed after construction.
type Catalog struct {
	kinds map[string]Kind
}

// NewCatalog builds a catalog from kinds; later entries win on name clash.
func NewCatalog(kinds ...Kind) *Catalog {
	c := &Catalog{kinds: make(map[string]Kind, len(kinds))}
	for _, k := range kinds {
		c.kinds[k.Name] = k
	}
	return c
}

// DefaultCatalog returns a catalog of the built-in kinds
func DefaultCatalog() *Catalog {
	return NewCatalog(DefaultKinds()...)
}

// LoadCatalog reads a YAML (.yaml, .yml) or TOML (.toml) file. Its kinds
// extend or override the built-ins unless the file sets replace.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var file catalogFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	case ".toml":
		err = toml.Unmarshal(data, &file)
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	for _, k := range file.Kinds {
		if err := k.validate(); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", path, err)
		}
	}

	kinds := file.Kinds
	if !file.Replace {
		kinds = append(DefaultKinds(), file.Kinds...)
	}
	return NewCatalog(kinds...), nil
}

// Lookup finds a kind by selector
func (c *Catalog) Lookup(name string) (Kind, bool) {
	k, ok := c.kinds[name]
	return k, ok
}

// Spec resolves a selector into a spawn spec
func (c *Catalog) Spec(name string) (Spec, error) {
	k, ok := c.Lookup(name)
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	return k.Spec()
}

// Names returns the selectors in sorted order
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.kinds))
	for name := range c.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Kinds returns all kinds sorted by name
func (c *Catalog) Kinds() []Kind {
	names := c.Names()

	kinds := make([]Kind, 0, len(names))
	for _, name := range names {
		kinds = append(kinds, c.kinds[name])
	}
	return kinds
}
