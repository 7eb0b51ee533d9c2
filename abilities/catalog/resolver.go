// Package catalog loads designer-authored timing overrides for registered
// abilities from JSON or YAML files.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/xyzzy121/Unicopia/abilities/contract"
)

type source interface {
	Load() ([]byte, error)
	Path() string
}

type fileSource struct {
	path string
}

func (f fileSource) Load() ([]byte, error) {
	return os.ReadFile(f.path)
}

func (f fileSource) Path() string {
	return f.path
}

// EntryDocument is one catalog entry as it appears on disk. Unset fields keep
// the descriptor's built-in value.
type EntryDocument struct {
	ID            string   `json:"id" yaml:"id" jsonschema:"title=Ability ID,description=Registered ability identity this entry tunes.,pattern=^[a-z0-9_:-]+$,minLength=1,required"`
	Warmup        *uint32  `json:"warmup,omitempty" yaml:"warmup,omitempty" jsonschema:"title=Warmup ticks,description=Ticks between trigger and activation.,minimum=0"`
	Cooldown      *uint32  `json:"cooldown,omitempty" yaml:"cooldown,omitempty" jsonschema:"title=Cooldown ticks,description=Ticks after activation before the slot can trigger again.,minimum=0"`
	Cost          *float64 `json:"cost,omitempty" yaml:"cost,omitempty" jsonschema:"title=Cost estimate,description=Flat resource cost shown before triggering.,minimum=0"`
	ResolveWindow *uint32  `json:"resolveWindow,omitempty" yaml:"resolveWindow,omitempty" jsonschema:"title=Resolve window,description=Ticks an ability may wait for a valid target after warmup.,minimum=0"`
	Disabled      bool     `json:"disabled,omitempty" yaml:"disabled,omitempty" jsonschema:"title=Disabled,description=Drops the ability from registration."`
}

// FileDefinitions is the canonical array form of a catalog file.
type FileDefinitions []EntryDocument

// Resolver merges one or more catalog sources into a stable lookup table.
// Call Reload to pick up on-disk changes.
type Resolver struct {
	mu      sync.RWMutex
	sources []source
	known   map[string]struct{}
	entries map[string]EntryDocument
}

// DefaultPaths returns the canonical catalog locations relative to the
// working directory.
func DefaultPaths() []string {
	return []string{
		filepath.Join("config", "abilities.json"),
		filepath.Join("config", "abilities.yaml"),
	}
}

// Load constructs a Resolver backed by the ability registry and catalog
// file paths. Missing files are skipped.
func Load(reg contract.Registry, paths ...string) (*Resolver, error) {
	sources := make([]source, 0, len(paths))
	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		sources = append(sources, fileSource{path: trimmed})
	}
	return NewResolver(reg, sources...)
}

// NewResolver constructs a Resolver from arbitrary sources.
func NewResolver(reg contract.Registry, sources ...source) (*Resolver, error) {
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("catalog: invalid registry: %w", err)
	}
	known := make(map[string]struct{}, len(reg))
	for _, desc := range reg {
		known[desc.ID] = struct{}{}
	}
	r := &Resolver{
		sources: append([]source(nil), sources...),
		known:   known,
		entries: make(map[string]EntryDocument),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-parses all catalog sources. Later sources override earlier ones.
func (r *Resolver) Reload() error {
	if r == nil {
		return nil
	}
	entries := make(map[string]EntryDocument)
	for _, src := range r.sources {
		data, err := src.Load()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("catalog: failed loading %s: %w", src.Path(), err)
		}
		documents, err := decodeEntries(src.Path(), data)
		if err != nil {
			return fmt.Errorf("catalog: failed parsing %s: %w", src.Path(), err)
		}
		seen := make(map[string]struct{}, len(documents))
		for _, doc := range documents {
			id := strings.TrimSpace(doc.ID)
			if id == "" {
				return fmt.Errorf("catalog: entry missing id in %s", src.Path())
			}
			if _, dup := seen[id]; dup {
				return fmt.Errorf("catalog: duplicate id %q in %s", id, src.Path())
			}
			seen[id] = struct{}{}
			if _, ok := r.known[id]; !ok {
				return fmt.Errorf("catalog: entry %q references an unregistered ability", id)
			}
			if doc.Cost != nil && *doc.Cost < 0 {
				return fmt.Errorf("catalog: entry %q has negative cost %v", id, *doc.Cost)
			}
			doc.ID = id
			entries[id] = doc
		}
	}

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
	return nil
}

// Resolve returns the override entry for an ability.
func (r *Resolver) Resolve(id string) (EntryDocument, bool) {
	if r == nil {
		return EntryDocument{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	return entry, ok
}

// IDs lists the abilities that have overrides.
func (r *Resolver) IDs() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Apply returns a copy of reg with the catalog's overrides applied and
// disabled abilities removed.
func (r *Resolver) Apply(reg contract.Registry) contract.Registry {
	out := make(contract.Registry, 0, len(reg))
	for _, desc := range reg {
		entry, ok := r.Resolve(desc.ID)
		if !ok {
			out = append(out, desc)
			continue
		}
		if entry.Disabled {
			continue
		}
		out = append(out, entry.apply(desc))
	}
	return out
}

func (e EntryDocument) apply(desc contract.Descriptor) contract.Descriptor {
	if e.Warmup != nil {
		desc.Warmup = contract.Ticks(*e.Warmup)
	}
	if e.Cooldown != nil {
		desc.Cooldown = contract.Ticks(*e.Cooldown)
	}
	if e.Cost != nil {
		desc.CostEstimate = contract.Cost(*e.Cost)
	}
	if e.ResolveWindow != nil {
		desc.ResolveWindow = *e.ResolveWindow
	}
	return desc
}

func decodeEntries(path string, data []byte) ([]EntryDocument, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return decodeYAML(trimmed)
	}
	switch trimmed[0] {
	case '[':
		var entries []EntryDocument
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, err
		}
		return entries, nil
	case '{':
		var object map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &object); err != nil {
			return nil, err
		}
		return keyedEntries(object, func(raw json.RawMessage, entry *EntryDocument) error {
			return json.Unmarshal(raw, entry)
		})
	default:
		return decodeYAML(trimmed)
	}
}

func decodeYAML(data []byte) ([]EntryDocument, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	doc := root.Content[0]
	switch doc.Kind {
	case yaml.SequenceNode:
		var entries []EntryDocument
		if err := doc.Decode(&entries); err != nil {
			return nil, err
		}
		return entries, nil
	case yaml.MappingNode:
		var object map[string]yaml.Node
		if err := doc.Decode(&object); err != nil {
			return nil, err
		}
		return keyedEntries(object, func(node yaml.Node, entry *EntryDocument) error {
			return node.Decode(entry)
		})
	default:
		return nil, fmt.Errorf("unexpected yaml document kind %d", doc.Kind)
	}
}

// keyedEntries decodes the object form, where entries are keyed by id.
func keyedEntries[T any](object map[string]T, decode func(T, *EntryDocument) error) ([]EntryDocument, error) {
	ids := make([]string, 0, len(object))
	for id := range object {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	entries := make([]EntryDocument, 0, len(ids))
	for _, id := range ids {
		var entry EntryDocument
		if err := decode(object[id], &entry); err != nil {
			return nil, fmt.Errorf("entry %q: %w", id, err)
		}
		if entry.ID == "" {
			entry.ID = id
		} else if entry.ID != id {
			return nil, fmt.Errorf("entry id %q does not match key %q", entry.ID, id)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
