package search

import "testing"

func catalogDocs() []Document {
	return []Document{
		{ID: "cafe", Text: "Im Café bestellen Kaffee Kuchen Kellnerin Bestellung bezahlen"},
		{ID: "bahnhof", Text: "Am Bahnhof Fahrkarte kaufen Gleis Zug Abfahrt Schalter"},
		{ID: "arzt", Text: "Beim Arzt Termin Symptome Rezept Apotheke Versicherung"},
		{ID: "supermarkt", Text: "Im Supermarkt einkaufen Obst Gemüse Kasse bezahlen"},
	}
}

func TestTopK_RanksByOverlap(t *testing.T) {
	idx := New(catalogDocs())

	res := idx.TopK("Kaffee bestellen", 3)
	if len(res) == 0 {
		t.Fatalf("expected results for query")
	}
	if res[0].ID != "cafe" {
		t.Fatalf("expected cafe first, got %q (score %f)", res[0].ID, res[0].Score)
	}
	if res[0].Score <= 0 || res[0].Score > 1 {
		t.Fatalf("score out of range: %f", res[0].Score)
	}
}

func TestTopK_GermanFolding_BothDirections(t *testing.T) {
	idx := New([]Document{
		{ID: "strasse", Text: "Nach dem Weg fragen Straße Kreuzung Ampel"},
		{ID: "cafe", Text: "Im Café frühstücken"},
	})

	// ASCII query matches native spelling
	if res := idx.TopK("strasse", 1); len(res) != 1 || res[0].ID != "strasse" {
		t.Fatalf("ascii query should match Straße: %+v", res)
	}
	// Native query matches too
	if res := idx.TopK("Straße", 1); len(res) != 1 || res[0].ID != "strasse" {
		t.Fatalf("native query should match: %+v", res)
	}
	if res := idx.TopK("cafe", 1); len(res) != 1 || res[0].ID != "cafe" {
		t.Fatalf("cafe should match Café: %+v", res)
	}
	if res := idx.TopK("fruehstuecken", 1); len(res) != 1 || res[0].ID != "cafe" {
		t.Fatalf("folded umlauts should match frühstücken: %+v", res)
	}
}

func TestTopK_Stopwords(t *testing.T) {
	idx := New(catalogDocs(), WithStopwords(DefaultGermanStopwords()))

	// A pure stop-word query yields nothing.
	if res := idx.TopK("der die das im", 3); res != nil {
		t.Fatalf("stop-word-only query should return nil, got %+v", res)
	}
	// Content words still match.
	if res := idx.TopK("im Supermarkt", 1); len(res) != 1 || res[0].ID != "supermarkt" {
		t.Fatalf("content words should survive stop-word filtering: %+v", res)
	}
}

func TestTopK_EmptyAndNoMatch(t *testing.T) {
	idx := New(catalogDocs())

	if res := idx.TopK("", 3); res != nil {
		t.Fatalf("empty query should return nil")
	}
	if res := idx.TopK("   ", 3); res != nil {
		t.Fatalf("blank query should return nil")
	}
	if res := idx.TopK("quantenphysik", 3); res != nil {
		t.Fatalf("no-overlap query should return nil, got %+v", res)
	}

	empty := New(nil)
	if res := empty.TopK("kaffee", 3); res != nil {
		t.Fatalf("empty index should return nil")
	}
}

func TestTopK_DefaultK_AndCap(t *testing.T) {
	idx := New(catalogDocs())

	// k<=0 falls back to 3
	res := idx.TopK("bezahlen einkaufen Kaffee Fahrkarte Termin", 0)
	if len(res) == 0 || len(res) > 3 {
		t.Fatalf("default k should cap at 3, got %d", len(res))
	}
	// k larger than matches returns all matches
	res = idx.TopK("bezahlen", 10)
	if len(res) != 2 {
		t.Fatalf("expected both bezahlen docs, got %d", len(res))
	}
}

func TestTopK_DeterministicTieBreak(t *testing.T) {
	docs := []Document{
		{ID: "b", Text: "alpha beta"},
		{ID: "a", Text: "alpha gamma"},
	}
	idx := New(docs)

	// Both docs score identically for "alpha"; ties break on token count
	// then id, so order must be stable across runs.
	first := idx.TopK("alpha", 2)
	for i := 0; i < 10; i++ {
		again := idx.TopK("alpha", 2)
		if len(again) != len(first) {
			t.Fatalf("result length changed: %d vs %d", len(again), len(first))
		}
		for j := range again {
			if again[j] != first[j] {
				t.Fatalf("unstable ordering at %d: %+v vs %+v", j, again[j], first[j])
			}
		}
	}
	if first[0].ID != "a" {
		t.Fatalf("tie should break on id, got %q first", first[0].ID)
	}
}

func TestNew_SkipsUnusableDocs(t *testing.T) {
	idx := New([]Document{
		{ID: "", Text: "kaffee"},       // no id
		{ID: "blank", Text: "   "},     // no text
		{ID: "punct", Text: "!!! ???"}, // no tokens
		{ID: "ok", Text: "Kaffee Tee"}, // usable
	})
	res := idx.TopK("kaffee", 5)
	if len(res) != 1 || res[0].ID != "ok" {
		t.Fatalf("only the usable doc should be indexed: %+v", res)
	}
}

func TestNew_MaxDocs(t *testing.T) {
	idx := New(catalogDocs(), WithMaxDocs(1))
	if res := idx.TopK("Fahrkarte", 3); res != nil {
		t.Fatalf("doc beyond cap should not be indexed, got %+v", res)
	}
	if res := idx.TopK("Kaffee", 3); len(res) != 1 || res[0].ID != "cafe" {
		t.Fatalf("first doc should remain indexed: %+v", res)
	}
}

func TestTopK_MinScore(t *testing.T) {
	idx := New(catalogDocs(), WithMinScore(0.9))
	// One-word overlap against a seven-token doc scores well under 0.9.
	if res := idx.TopK("Kaffee", 3); res != nil {
		t.Fatalf("low-score match should be dropped, got %+v", res)
	}
}
