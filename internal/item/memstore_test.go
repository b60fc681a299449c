package item_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/reciter/internal/item"
)

func TestMemStore_Order(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := item.NewMemStore(
		item.Item{ID: "a", Question: "Qa"},
		item.Item{ID: "b", Question: "Qb"},
		item.Item{ID: "c", Question: "Qc"},
	)

	tests := []struct {
		name   string
		fn     func(context.Context, string) (item.Item, bool, error)
		id     string
		wantOK bool
		wantID string
	}{
		{"next of first", s.Next, "a", true, "b"},
		{"next of last", s.Next, "c", false, ""},
		{"prev of last", s.Prev, "c", true, "b"},
		{"prev of first", s.Prev, "a", false, ""},
		{"next of unknown", s.Next, "zz", false, ""},
		{"prev of unknown", s.Prev, "zz", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			it, ok, err := tt.fn(ctx, tt.id)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.wantOK || it.ID != tt.wantID {
				t.Errorf("got (%q, %v), want (%q, %v)", it.ID, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestMemStore_PutGetDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := item.NewMemStore()

	it := item.Item{Question: "Q", AnswerText: "A。"}
	if err := s.Put(ctx, &it); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if it.ID == "" || it.CreatedAt.IsZero() {
		t.Fatalf("Put did not fill id/timestamps: %+v", it)
	}

	second := item.Item{ID: "second"}
	_ = s.Put(ctx, &second)

	it.AnswerText = "B。"
	created := it.CreatedAt
	if err := s.Put(ctx, &it); err != nil {
		t.Fatalf("Put update: %v", err)
	}
	got, err := s.Get(ctx, it.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AnswerText != "B。" || !got.CreatedAt.Equal(created) {
		t.Errorf("updated item = %+v", got)
	}

	list, _ := s.List(ctx)
	if len(list) != 2 || list[0].ID != it.ID {
		t.Errorf("update moved the item: %v", list)
	}

	if err := s.Delete(ctx, it.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, it.ID); !errors.Is(err, item.ErrNotFound) {
		t.Errorf("Get after delete: err = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete(missing) = %v, want nil", err)
	}
}

func TestItem_Validate(t *testing.T) {
	t.Parallel()

	if err := (&item.Item{}).Validate(); !errors.Is(err, item.ErrInvalidItem) {
		t.Errorf("Validate(empty) = %v, want ErrInvalidItem", err)
	}
	if err := (&item.Item{ID: "x"}).Validate(); err != nil {
		t.Errorf("Validate(with id) = %v", err)
	}
}
