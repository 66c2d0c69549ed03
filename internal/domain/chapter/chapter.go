// Package chapter provides the read-only chapter catalog.
package chapter

import (
	_ "embed"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a chapter lookup fails.
var ErrNotFound = errors.New("chapter not found")

//go:embed chapters.yaml
var chaptersYAML []byte

// Chapter is one entry of the catalog.
type Chapter struct {
	Number     int    `yaml:"number"`
	VerseCount int    `yaml:"verses"`
	Name       string `yaml:"name"`
}

// Catalog is an immutable chapter table indexed by number.
type Catalog struct {
	chapters []Chapter
}

// Default returns the built-in catalog.
// The embedded table is checked by tests, so a parse failure is a programming error.
func Default() *Catalog {
	c, err := Parse(chaptersYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// Parse builds a catalog from a YAML list. Entries must be numbered 1..n in order.
func Parse(data []byte) (*Catalog, error) {
	var chapters []Chapter
	if err := yaml.Unmarshal(data, &chapters); err != nil {
		return nil, errors.Wrap(err, "failed to parse chapter table")
	}
	for i, ch := range chapters {
		if ch.Number != i+1 {
			return nil, errors.Newf("chapter table entry %d has number %d", i+1, ch.Number)
		}
		if ch.VerseCount < 1 {
			return nil, errors.Newf("chapter %d has no verses", ch.Number)
		}
	}
	return &Catalog{chapters: chapters}, nil
}

// Len returns the number of chapters.
func (c *Catalog) Len() int {
	return len(c.chapters)
}

// Get returns the chapter with the given number.
func (c *Catalog) Get(number int) (Chapter, error) {
	if number < 1 || number > len(c.chapters) {
		return Chapter{}, errors.Wrapf(ErrNotFound, "number %d", number)
	}
	return c.chapters[number-1], nil
}

// Find looks a chapter up by case-insensitive name.
func (c *Catalog) Find(name string) (Chapter, error) {
	for _, ch := range c.chapters {
		if strings.EqualFold(ch.Name, name) {
			return ch, nil
		}
	}
	return Chapter{}, errors.Wrapf(ErrNotFound, "name %q", name)
}

// All returns a copy of every chapter in order.
func (c *Catalog) All() []Chapter {
	result := make([]Chapter, len(c.chapters))
	copy(result, c.chapters)
	return result
}

// TotalVerses returns the sum of all verse counts.
func (c *Catalog) TotalVerses() int {
	total := 0
	for _, ch := range c.chapters {
		total += ch.VerseCount
	}
	return total
}
