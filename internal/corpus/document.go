// Package corpus handles the source-document side of the pipeline: loading
// markdown reference documents with front-matter metadata, and splitting
// them into overlapping chunks suitable for embedding.
//
// Documents and chunks are immutable once created. Documents are retired
// only by a full corpus rebuild (see internal/ingest).
package corpus

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmptyCorpus indicates the corpus directory contained no documents.
var ErrEmptyCorpus = errors.New("corpus directory contains no markdown documents")

// Document is an immutable unit of source material.
type Document struct {
	ID       string // stable identifier, derived from the file name
	Title    string
	Category string
	Source   string // canonical source identifier (URL or file name)
	Text     string // raw body text, front-matter stripped
}

// frontMatter is the YAML metadata block at the top of a corpus file.
type frontMatter struct {
	Title    string `yaml:"title"`
	Category string `yaml:"category"`
	Source   string `yaml:"source"`
}

// LoadDir reads every .md file in dir (sorted by name) and returns the
// parsed documents. Files without front-matter get a title derived from
// the file name and category "General".
func LoadDir(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading corpus directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyCorpus, dir)
	}

	docs := make([]Document, 0, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name)) // #nosec G304 -- dir is operator-supplied config
		if err != nil {
			return nil, fmt.Errorf("reading corpus file %s: %w", name, err)
		}

		doc, err := Parse(name, string(raw))
		if err != nil {
			return nil, fmt.Errorf("parsing corpus file %s: %w", name, err)
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

// Parse builds a Document from a file name and raw markdown content,
// extracting front-matter when present.
func Parse(fileName, raw string) (Document, error) {
	meta, body := splitFrontMatter(raw)

	doc := Document{
		ID:       strings.TrimSuffix(fileName, ".md"),
		Title:    meta.Title,
		Category: meta.Category,
		Source:   meta.Source,
		Text:     body,
	}

	if doc.Title == "" {
		doc.Title = titleFromFileName(fileName)
	}
	if doc.Category == "" {
		doc.Category = "General"
	}
	if doc.Source == "" {
		doc.Source = fileName
	}

	return doc, nil
}

// titleFromFileName derives a display title from a file name:
// "payment_intents.md" becomes "Payment Intents".
func titleFromFileName(fileName string) string {
	base := strings.TrimSuffix(fileName, ".md")
	words := strings.FieldsFunc(base, func(r rune) bool { return r == '_' || r == '-' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// splitFrontMatter separates a leading "---" delimited YAML block from the
// body. Malformed front-matter is treated as body text rather than failing
// the whole corpus load.
func splitFrontMatter(raw string) (frontMatter, string) {
	var meta frontMatter

	if !strings.HasPrefix(raw, "---") {
		return meta, strings.TrimSpace(raw)
	}

	rest := raw[3:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return meta, strings.TrimSpace(raw)
	}

	block := rest[:end]
	body := rest[end+len("\n---"):]
	if err := yaml.Unmarshal([]byte(block), &meta); err != nil {
		return frontMatter{}, strings.TrimSpace(raw)
	}

	return meta, strings.TrimSpace(body)
}
