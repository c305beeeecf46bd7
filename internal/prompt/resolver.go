// Package prompt loads the externalized prompt templates and tracks their
// content hashes so every response can say exactly which prompt version
// produced it.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/finsight/insight-agent/internal/insight"
)

const placeholder = "{transactions}"

// Spec is one named template with the hash of its current content. The
// hash is recomputed from the file at load time, never hardcoded.
type Spec struct {
	Name string
	Text string
	Hash string
}

// Tag is the provenance identifier attached to responses: name@8hexhash.
func (s Spec) Tag() string {
	return s.Name + "@" + s.Hash
}

// Render substitutes the transaction payload into the template.
func (s Spec) Render(transactionsJSON string) string {
	return strings.ReplaceAll(s.Text, placeholder, transactionsJSON)
}

// Resolver holds the templates loaded at startup. Immutable between
// loads; a content change is picked up by restarting the process.
type Resolver struct {
	specs map[string]Spec
}

// Load reads a YAML file mapping prompt names to template text.
func Load(path string) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading prompts file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Resolver from raw YAML content.
func Parse(data []byte) (*Resolver, error) {
	var templates map[string]string
	if err := yaml.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("parsing prompts: %w", err)
	}
	if len(templates) == 0 {
		return nil, fmt.Errorf("prompts file contains no templates")
	}

	specs := make(map[string]Spec, len(templates))
	for name, text := range templates {
		specs[name] = Spec{Name: name, Text: text, Hash: ContentHash(text)}
	}
	return &Resolver{specs: specs}, nil
}

// Resolve returns the template for name. Unknown names are a
// request-scoped configuration error, never retried.
func (r *Resolver) Resolve(name string) (Spec, error) {
	spec, ok := r.specs[name]
	if !ok {
		return Spec{}, insight.NewError(insight.KindConfiguration,
			fmt.Sprintf("unknown prompt %q", name))
	}
	return spec, nil
}

// Names lists the loaded template names, mainly for startup logging.
func (r *Resolver) Names() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	return names
}

// ContentHash is the short template fingerprint: first 8 hex chars of the
// sha256 of the template text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:8]
}
