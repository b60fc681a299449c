// Package item holds the question/answer items the engine drills, the
// stores that keep them in a stable collection order, the YAML collections
// file format, and the placeholder integrity check.
//
// The engine only reads items through [Source]: the current item plus its
// neighbours. [Store] adds the write side used by importers and the CLI.
// Two implementations exist: [MemStore] for a single process and
// [PostgresStore] backed by a pgx connection or pool.
package item

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no item has the requested id.
	ErrNotFound = errors.New("item: not found")

	// ErrDuplicateID is returned when an import contains the same id twice.
	ErrDuplicateID = errors.New("item: duplicate id")

	// ErrInvalidItem is returned for items that cannot be processed at all.
	ErrInvalidItem = errors.New("item: invalid item")
)

// Item is one question/answer pair.
type Item struct {
	ID           string `yaml:"id,omitempty" json:"id"`
	CollectionID string `yaml:"-" json:"collection_id"`
	Question     string `yaml:"question" json:"question"`

	// AnswerText is the plain answer. Sentences and segments derive from it.
	AnswerText string `yaml:"answer_text" json:"answer_text"`

	// AnswerHTML is the optional rich answer. Spans wrapped in <mark> are
	// the highlights used by highlight-only checking.
	AnswerHTML string `yaml:"answer_html,omitempty" json:"answer_html,omitempty"`

	FocusPoints string `yaml:"focus_points,omitempty" json:"focus_points,omitempty"`

	CreatedAt time.Time `yaml:"created_at,omitempty" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at,omitempty" json:"updated_at"`
}

// Validate reports whether the item can be processed.
func (it *Item) Validate() error {
	if it.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidItem)
	}
	return nil
}

// NewID returns a fresh random item id.
func NewID() string {
	return uuid.NewString()
}

// Source gives read access to items in stable collection order.
type Source interface {
	// Get returns the item with id, or ErrNotFound.
	Get(ctx context.Context, id string) (Item, error)

	// Next returns the item after id. ok is false when id is the last item
	// or unknown.
	Next(ctx context.Context, id string) (it Item, ok bool, err error)

	// Prev returns the item before id. ok is false when id is the first
	// item or unknown.
	Prev(ctx context.Context, id string) (it Item, ok bool, err error)
}

// Store is a [Source] that can also be written. Implementations must be
// safe for concurrent use.
type Store interface {
	Source

	// List returns every item in collection order.
	List(ctx context.Context) ([]Item, error)

	// Put inserts or replaces it. A missing id is generated and written back.
	// New items are appended to the end of the order; replaced items keep
	// their position. CreatedAt and UpdatedAt are maintained by the store.
	Put(ctx context.Context, it *Item) error

	// Delete removes the item with id. Deleting an unknown id is not an
	// error.
	Delete(ctx context.Context, id string) error
}
