package keyword

import (
	"context"
	"testing"
)

func TestBleveIndex_SearchFindsContent(t *testing.T) {
	idx, err := NewMemIndex()
	if err != nil {
		t.Fatalf("NewMemIndex: %v", err)
	}
	defer func() {
		_ = idx.Close()
	}()

	ctx := context.Background()
	err = idx.AddBatch(ctx,
		[]string{"p1_0", "p1_1", "p2_0"},
		[]string{"p1", "p1", "p2"},
		[]string{
			"Nurses described psychological safety on night shifts.",
			"The ward budget was discussed at length.",
			"Safety culture depends on trust between nurses and managers.",
		},
	)
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	if n, _ := idx.DocCount(); n != 3 {
		t.Errorf("DocCount = %d", n)
	}

	results, err := idx.Search(ctx, "safety", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 hits for safety, got %v", results)
	}
	for _, r := range results {
		if r.ID == "p1_1" {
			t.Errorf("budget fragment should not match: %v", results)
		}
	}

	// Standard analyzer does not stem, so matching is case-insensitive only.
	results, err = idx.Search(ctx, "BUDGET", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "p1_1" {
		t.Errorf("budget results = %v", results)
	}
}

func TestBleveIndex_SearchNoHits(t *testing.T) {
	idx, err := NewMemIndex()
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()
	if err := idx.Add(ctx, "a", "p", "alpha beta"); err != nil {
		t.Fatal(err)
	}
	results, err := idx.Search(ctx, "gamma", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected no hits, got %v", results)
	}
	if results, _ := idx.Search(ctx, "alpha", 0); results != nil {
		t.Error("limit 0 should return nil")
	}
}
