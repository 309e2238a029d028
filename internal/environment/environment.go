// Package environment owns the closed set of deployment environments and the
// resource-group classification rules that partition inventory between them.
package environment

import (
	"fmt"
	"strings"
)

// Patterns binds one environment to the resource-group substrings that
// select it. Matching is case-insensitive; patterns are stored uppercased.
type Patterns struct {
	Name     string   `mapstructure:"name" json:"name"`
	Patterns []string `mapstructure:"patterns" json:"patterns"`
}

// DefaultTable returns the built-in classification table. Table order is
// significant: the first environment with a matching pattern wins, so a
// label matching both a dev and a release pattern resolves to dev.
func DefaultTable() []Patterns {
	return []Patterns{
		{Name: "dev", Patterns: []string{"DEV", "DEVELOPMENT", "NINEBOT-DEV", "NINEBOT-WILLAND-TESTENV"}},
		{Name: "fra", Patterns: []string{"FRA", "WILLAND", "NINEBOT-WILLAND"}},
		{Name: "release", Patterns: []string{"RELEASE", "PROD", "PRODUCTION", "NINEBOT-RELEASE"}},
	}
}

// DefaultName is the environment used when classification finds no match or
// a request supplies a tag outside the closed set.
const DefaultName = "dev"

// Classifier maps resource-group labels to environments. It is immutable
// after construction and safe for concurrent use.
type Classifier struct {
	table       []Patterns
	names       []string
	valid       map[string]bool
	defaultName string
}

// NewClassifier builds a classifier from an ordered pattern table and a
// default environment. The default must be a member of the table.
func NewClassifier(table []Patterns, defaultName string) (*Classifier, error) {
	if len(table) == 0 {
		return nil, fmt.Errorf("environment table is empty")
	}

	c := &Classifier{
		defaultName: defaultName,
		valid:       make(map[string]bool, len(table)),
	}
	for _, entry := range table {
		if entry.Name == "" {
			return nil, fmt.Errorf("environment table contains an entry with no name")
		}
		if c.valid[entry.Name] {
			return nil, fmt.Errorf("environment %q declared twice", entry.Name)
		}
		upper := make([]string, len(entry.Patterns))
		for i, p := range entry.Patterns {
			upper[i] = strings.ToUpper(p)
		}
		c.table = append(c.table, Patterns{Name: entry.Name, Patterns: upper})
		c.names = append(c.names, entry.Name)
		c.valid[entry.Name] = true
	}

	if !c.valid[defaultName] {
		return nil, fmt.Errorf("default environment %q is not in the table", defaultName)
	}
	return c, nil
}

// NewDefaultClassifier builds a classifier from the built-in table.
func NewDefaultClassifier() *Classifier {
	c, err := NewClassifier(DefaultTable(), DefaultName)
	if err != nil {
		// The built-in table is statically valid.
		panic(err)
	}
	return c
}

// Classify resolves a resource-group label to an environment. The first
// environment in table order with any pattern contained in the uppercased
// label wins; labels matching nothing resolve to the default.
func (c *Classifier) Classify(resourceGroup string) string {
	upper := strings.ToUpper(resourceGroup)
	for _, entry := range c.table {
		for _, pattern := range entry.Patterns {
			if strings.Contains(upper, pattern) {
				return entry.Name
			}
		}
	}
	return c.defaultName
}

// Normalize returns tag unchanged when it is a member of the closed set,
// otherwise the default environment. Invalid tags are never an error.
func (c *Classifier) Normalize(tag string) string {
	if c.valid[tag] {
		return tag
	}
	return c.defaultName
}

// Environments returns the environment names in table order.
func (c *Classifier) Environments() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Default returns the default environment name.
func (c *Classifier) Default() string {
	return c.defaultName
}
