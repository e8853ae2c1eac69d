package game

import "testing"

func TestParseTile(t *testing.T) {
	tile, err := ParseTile("5W")
	if err != nil {
		t.Fatalf("parse 5W failed: %v", err)
	}
	if tile.Suit != SuitWan || tile.Rank != 5 {
		t.Fatalf("expected 5W, got %v", tile)
	}
	if tile.String() != "5W" {
		t.Fatalf("round trip expected 5W, got %s", tile.String())
	}

	for _, bad := range []string{"", "W5", "0W", "5X", "10W"} {
		if _, err := ParseTile(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestNewWallSizes(t *testing.T) {
	wan, err := NewWall(TileSetWanOnly, 1)
	if err != nil {
		t.Fatalf("wan-only wall failed: %v", err)
	}
	if len(wan) != 36 {
		t.Fatalf("wan-only wall expected 36 tiles, got %d", len(wan))
	}

	all, err := NewWall(TileSetAllSuits, 1)
	if err != nil {
		t.Fatalf("all-suits wall failed: %v", err)
	}
	if len(all) != 108 {
		t.Fatalf("all-suits wall expected 108 tiles, got %d", len(all))
	}

	if _, err := NewWall(TileSet("BOGUS"), 1); err == nil {
		t.Fatalf("expected CONFIG_INVALID for unknown tile set")
	}
}

func TestNewWallDeterministic(t *testing.T) {
	a, _ := NewWall(TileSetAllSuits, 42)
	b, _ := NewWall(TileSetAllSuits, 42)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed produced different order at %d: %v vs %v", i, a[i], b[i])
		}
	}

	c, _ := NewWall(TileSetAllSuits, 43)
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("different seeds produced identical order")
	}
}

func TestWallIsPermutation(t *testing.T) {
	wall, _ := NewWall(TileSetAllSuits, 7)
	var counts Hand27
	for _, tile := range wall {
		counts[tile.Index()]++
	}
	for i, c := range counts {
		if c != CopiesPerTile {
			t.Fatalf("tile %v has %d copies, expected %d", TileAt(i), c, CopiesPerTile)
		}
	}
}

func TestMeldKinds(t *testing.T) {
	gang := Meld{Kind: MeldAnGang, Tiles: []Tile{{SuitWan, 5}, {SuitWan, 5}, {SuitWan, 5}, {SuitWan, 5}}, From: -1}
	if !gang.IsGang() {
		t.Fatalf("an-gang should be a gang")
	}
	peng := Meld{Kind: MeldPeng, Tiles: []Tile{{SuitWan, 5}, {SuitWan, 5}, {SuitWan, 5}}, From: 1}
	if peng.IsGang() {
		t.Fatalf("peng is not a gang")
	}
}
