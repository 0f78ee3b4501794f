// Package prompts holds the system instructions sent with attribute
// extraction requests.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultName is the prompt set used when none is configured.
const DefaultName = "thread_attributes"

//go:embed catalog.yaml
var builtin []byte

// Prompt is one system instruction plus an optional lead-in for the
// transcript.
type Prompt struct {
	System     string `yaml:"system"`
	UserPrefix string `yaml:"user_prefix"`
}

// UserMessage returns the user turn for a transcript.
func (p Prompt) UserMessage(transcript string) string {
	if p.UserPrefix == "" {
		return transcript
	}
	return p.UserPrefix + "\n\n" + transcript
}

// Catalog maps prompt names to prompts.
type Catalog struct {
	Prompts map[string]Prompt `yaml:"prompts"`
}

// Builtin returns the embedded catalog.
func Builtin() (*Catalog, error) {
	return parse(builtin)
}

// Load returns the embedded catalog, with entries from overridePath merged
// over it when the path is non-empty.
func Load(overridePath string) (*Catalog, error) {
	c, err := Builtin()
	if err != nil {
		return nil, fmt.Errorf("parsing builtin prompts: %w", err)
	}
	if overridePath == "" {
		return c, nil
	}

	data, err := os.ReadFile(overridePath)
	if err != nil {
		return nil, fmt.Errorf("reading prompt file: %w", err)
	}
	override, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", overridePath, err)
	}
	for name, p := range override.Prompts {
		c.Prompts[name] = p
	}
	return c, nil
}

// Get returns the named prompt.
func (c *Catalog) Get(name string) (Prompt, error) {
	p, ok := c.Prompts[name]
	if !ok {
		return Prompt{}, fmt.Errorf("unknown prompt %q (have %s)", name, strings.Join(c.Names(), ", "))
	}
	return p, nil
}

// Names lists the prompt names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Prompts))
	for n := range c.Prompts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if c.Prompts == nil {
		c.Prompts = map[string]Prompt{}
	}
	for name, p := range c.Prompts {
		if strings.TrimSpace(p.System) == "" {
			return nil, fmt.Errorf("prompt %q has no system text", name)
		}
	}
	return &c, nil
}
