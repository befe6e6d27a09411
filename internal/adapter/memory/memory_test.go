package memory

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/jun/gophstore/internal/adapter"
	"github.com/jun/gophstore/internal/codec"
)

func TestCollection_AddAndGet(t *testing.T) {
	p := NewProvider()
	ctx := context.Background()

	col, err := p.Collection(ctx, "user1", "items")
	if err != nil {
		t.Fatalf("Collection failed: %v", err)
	}
	if col.Path() != "users/user1/items" {
		t.Errorf("unexpected path %q", col.Path())
	}

	id, err := col.Add(ctx, codec.NewRecord(codec.F("name", codec.String("A")), codec.F("active", codec.Bool(false))))
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected an id")
	}

	recs, err := col.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	got, _ := recs[0].Get("id")
	if !got.Equal(codec.String(id)) {
		t.Errorf("expected id %q, got %v", id, got)
	}
	active, _ := recs[0].Get("active")
	if b, ok := active.AsBool(); !ok || b {
		t.Errorf("expected boolean false, got %v", active)
	}
}

func TestCollection_GetNeverWritten(t *testing.T) {
	recs, err := NewProvider().At("users/nobody/items").Get(context.Background())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if recs == nil || len(recs) != 0 {
		t.Errorf("expected empty non-nil list, got %v", recs)
	}
}

func TestCollection_SetCreatesThenReplaces(t *testing.T) {
	p := NewProvider()
	col := p.At("users/u/items")
	ctx := context.Background()

	if err := col.Set(ctx, "doc1", codec.NewRecord(codec.F("v", codec.Int(1)))); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := col.Set(ctx, "doc1", codec.NewRecord(codec.F("v", codec.Int(2)))); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if p.Count("users/u/items") != 1 {
		t.Fatalf("expected replace, got %d docs", p.Count("users/u/items"))
	}
	recs, _ := col.Get(ctx)
	v, _ := recs[0].Get("v")
	if !v.Equal(codec.Int(2)) {
		t.Errorf("expected v=2, got %v", v)
	}
	if err := col.Set(ctx, "", codec.NewRecord()); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestCollection_MaxItems(t *testing.T) {
	col := NewProvider(WithMaxItems(2)).At("users/u/items")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := col.Add(ctx, codec.NewRecord()); err != nil {
			t.Fatalf("Add %d failed: %v", i, err)
		}
	}
	_, err := col.Add(ctx, codec.NewRecord())
	var we *adapter.WriteError
	if !errors.As(err, &we) || we.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 WriteError, got %v", err)
	}
	if !adapter.IsTransient(err) {
		t.Error("expected limit error to classify as transient")
	}
}

func TestCollection_FaultInjection(t *testing.T) {
	calls := 0
	p := NewProvider(WithFault(func(op Op, path string, rec codec.Record) error {
		if op != OpAdd {
			return nil
		}
		calls++
		if calls <= 2 {
			return adapter.StatusError(true, http.StatusServiceUnavailable, "unavailable")
		}
		return nil
	}))
	col := p.At("users/u/items")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := col.Add(ctx, codec.NewRecord()); err == nil {
			t.Fatalf("attempt %d: expected injected failure", i+1)
		}
	}
	if _, err := col.Add(ctx, codec.NewRecord()); err != nil {
		t.Fatalf("third attempt failed: %v", err)
	}
	if p.Count("users/u/items") != 1 {
		t.Errorf("expected 1 stored document, got %d", p.Count("users/u/items"))
	}
}

func TestCollection_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewProvider().At("users/u/items").Add(ctx, codec.NewRecord())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCollection_ConcurrentAdds(t *testing.T) {
	p := NewProvider()
	col := p.At("users/u/items")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := col.Add(context.Background(), codec.NewRecord()); err != nil {
				t.Errorf("Add failed: %v", err)
			}
		}()
	}
	wg.Wait()
	if p.Count("users/u/items") != 50 {
		t.Errorf("expected 50 documents, got %d", p.Count("users/u/items"))
	}
}
