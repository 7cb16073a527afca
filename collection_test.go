package strata

import "testing"

type article struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
	Body  string   `json:"body"`
}

type embedded struct {
	Vec []float64 `json:"vec"`
}

func TestMultiIndexTracksSetMembership(t *testing.T) {
	store, err := Open(Options{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	articles := GetCollection[article](store, "articles")
	if err := articles.DefineIndex(IndexDef{Name: "by_tag", Kind: IndexMulti, Path: ".tags[]"}); err != nil {
		t.Fatalf("DefineIndex: %v", err)
	}

	if err := articles.Put("1", article{Title: "a", Tags: []string{"go", "db"}}); err != nil {
		t.Fatalf("put 1: %v", err)
	}
	if err := articles.Put("2", article{Title: "b", Tags: []string{"go"}}); err != nil {
		t.Fatalf("put 2: %v", err)
	}

	got, err := articles.ByIndex("by_tag", "go", nil)
	if err != nil {
		t.Fatalf("ByIndex go: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ByIndex go = %d results, want 2", len(got))
	}

	got, err = articles.ByIndex("by_tag", "db", nil)
	if err != nil || len(got) != 1 || got[0].Title != "a" {
		t.Fatalf("ByIndex db = %+v, err=%v", got, err)
	}

	// Dropping a tag must remove the document from that tag's set.
	if err := articles.Put("1", article{Title: "a", Tags: []string{"go"}}); err != nil {
		t.Fatalf("put 1 update: %v", err)
	}
	got, err = articles.ByIndex("by_tag", "db", nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("ByIndex db after tag removal = %+v, err=%v", got, err)
	}
}

func TestFTSIndexTokenizesAndDiffs(t *testing.T) {
	store, err := Open(Options{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	articles := GetCollection[article](store, "articles")
	if err := articles.DefineIndex(IndexDef{Name: "body_fts", Kind: IndexFTS, Path: ".body"}); err != nil {
		t.Fatalf("DefineIndex: %v", err)
	}

	if err := articles.Put("1", article{Body: "the quick brown fox"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := articles.Put("2", article{Body: "the slow brown turtle"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := articles.ByIndex("body_fts", "brown", nil)
	if err != nil || len(got) != 2 {
		t.Fatalf("ByIndex brown = %+v, err=%v", got, err)
	}

	got, err = articles.ByIndex("body_fts", "fox", nil)
	if err != nil || len(got) != 1 {
		t.Fatalf("ByIndex fox = %+v, err=%v", got, err)
	}

	if err := articles.Put("1", article{Body: "completely different text"}); err != nil {
		t.Fatalf("put update: %v", err)
	}
	got, err = articles.ByIndex("body_fts", "fox", nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("ByIndex fox after rewrite = %+v, err=%v", got, err)
	}
	got, err = articles.ScanIndex("body_fts", "compl", 0, nil)
	if err != nil || len(got) != 1 {
		t.Fatalf("ScanIndex compl = %+v, err=%v", got, err)
	}
}

func TestVectorIndexNearestNeighbors(t *testing.T) {
	store, err := Open(Options{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	docs := GetCollection[embedded](store, "embeddings")
	if err := docs.DefineIndex(IndexDef{Name: "vec", Kind: IndexVector, Path: ".vec"}); err != nil {
		t.Fatalf("DefineIndex: %v", err)
	}

	if err := docs.Put("close", embedded{Vec: []float64{1, 0, 0}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := docs.Put("far", embedded{Vec: []float64{0, 1, 0}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := docs.Put("exact", embedded{Vec: []float64{2, 0, 0}}); err != nil {
		t.Fatalf("put: %v", err)
	}

	results, err := docs.NearestNeighbors("vec", []float64{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatalf("NearestNeighbors: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("NearestNeighbors returned %d results, want 2", len(results))
	}
}

func TestScanAndHistory(t *testing.T) {
	store, err := Open(Options{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	docs := GetCollection[string](store, "docs")
	if err := docs.Put("a-1", "v1"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := docs.Put("a-2", "v1"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := docs.Put("b-1", "v1"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := docs.Put("a-1", "v2"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := docs.Delete("a-2"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	results, err := docs.Scan([]byte(`"a-`), 0, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(results) != 1 || results[0] != "v2" {
		t.Fatalf("Scan a- = %+v, want [v2] (a-2 tombstoned)", results)
	}

	history, err := docs.History("a-1", nil)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History a-1 has %d entries, want 2", len(history))
	}
	if history[0].Value != "v1" || history[1].Value != "v2" {
		t.Fatalf("History a-1 = %+v, want [v1 v2]", history)
	}
}

func TestDropCollectionRemovesFromCatalog(t *testing.T) {
	store, err := Open(Options{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	docs := GetCollection[string](store, "docs")
	if err := docs.Put("1", "v1"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := docs.DefineIndex(IndexDef{Name: "idx", Kind: IndexUnique, Path: ""}); err != nil {
		t.Fatalf("DefineIndex: %v", err)
	}

	names := store.ListCollections()
	found := false
	for _, n := range names {
		if n == "docs" {
			found = true
		}
	}
	if !found {
		t.Fatalf("ListCollections = %v, want to include docs", names)
	}

	if err := store.DropCollection("docs"); err != nil {
		t.Fatalf("DropCollection: %v", err)
	}

	for _, n := range store.ListCollections() {
		if n == "docs" {
			t.Fatalf("docs still listed after DropCollection")
		}
	}
}
