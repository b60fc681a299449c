package item

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the YAML collections file:
//
//	collections:
//	  - id: c1
//	    name: 古文
//	    items:
//	      - question: 出师表第一段
//	        answer_text: 先帝创业未半而中道崩殂。今天下三分。
type File struct {
	Collections []Collection `yaml:"collections"`
}

// Collection is a named, ordered group of items.
type Collection struct {
	ID    string `yaml:"id,omitempty"`
	Name  string `yaml:"name"`
	Items []Item `yaml:"items"`
}

// DefaultCollectionName names collections imported without a name.
const DefaultCollectionName = "default"

// Decode reads a collections file from r. Unknown keys are rejected.
func Decode(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("item: decode collections: %w", err)
	}
	return &f, nil
}

// LoadFile reads and decodes the collections file at path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("item: read %q: %w", path, err)
	}
	return Decode(bytes.NewReader(data))
}

// Import writes every item of f into store in file order and returns the
// number of items written. Missing collection and item ids are generated.
// An id used twice in f fails the import before anything is written.
// Items carrying the mask placeholder are imported but logged.
func Import(ctx context.Context, store Store, f *File) (int, error) {
	seen := make(map[string]struct{})
	for ci := range f.Collections {
		c := &f.Collections[ci]
		if c.ID == "" {
			c.ID = NewID()
		}
		if c.Name == "" {
			c.Name = DefaultCollectionName
		}
		for ii := range c.Items {
			it := &c.Items[ii]
			if it.ID == "" {
				it.ID = NewID()
			}
			if _, dup := seen[it.ID]; dup {
				return 0, fmt.Errorf("item: import: %w: %q", ErrDuplicateID, it.ID)
			}
			seen[it.ID] = struct{}{}
			it.CollectionID = c.ID
		}
	}

	n := 0
	for _, c := range f.Collections {
		for i := range c.Items {
			it := c.Items[i]
			if HasPlaceholderCorruption(it) {
				slog.Warn("item: imported answer contains mask placeholder", "id", it.ID, "collection", c.Name)
			}
			if err := store.Put(ctx, &it); err != nil {
				return n, fmt.Errorf("item: import: %w", err)
			}
			n++
		}
	}
	return n, nil
}

// Export writes every item in store to w in the collections file format.
// Collections appear in order of their first item. names maps collection
// ids to display names; unknown ids get [DefaultCollectionName].
func Export(ctx context.Context, w io.Writer, store Store, names map[string]string) error {
	items, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("item: export: %w", err)
	}

	var f File
	pos := make(map[string]int)
	for _, it := range items {
		i, ok := pos[it.CollectionID]
		if !ok {
			name := names[it.CollectionID]
			if name == "" {
				name = DefaultCollectionName
			}
			f.Collections = append(f.Collections, Collection{ID: it.CollectionID, Name: name})
			i = len(f.Collections) - 1
			pos[it.CollectionID] = i
		}
		f.Collections[i].Items = append(f.Collections[i].Items, it)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&f); err != nil {
		return fmt.Errorf("item: export: %w", err)
	}
	return enc.Close()
}
