package game

import "testing"

func ts(t *testing.T, codes ...string) []Tile {
	t.Helper()
	out := make([]Tile, 0, len(codes))
	for _, c := range codes {
		tile, err := ParseTile(c)
		if err != nil {
			t.Fatalf("bad tile code %q: %v", c, err)
		}
		out = append(out, tile)
	}
	return out
}

func TestCanPeng(t *testing.T) {
	hand := ts(t, "5W", "5W", "1T", "9D")
	if !CanPeng(hand, Tile{SuitWan, 5}) {
		t.Fatalf("two copies should allow peng")
	}
	if CanPeng(hand, Tile{SuitTiao, 1}) {
		t.Fatalf("one copy must not allow peng")
	}
}

func TestCanKongKinds(t *testing.T) {
	// Open kong: three in hand, fourth from discard.
	hand := ts(t, "5W", "5W", "5W")
	if got := CanKong(hand, nil, Tile{SuitWan, 5}, true); got != KongOpen {
		t.Fatalf("expected open kong, got %v", got)
	}
	if got := CanKong(ts(t, "5W", "5W"), nil, Tile{SuitWan, 5}, true); got != KongNone {
		t.Fatalf("two in hand cannot open-kong")
	}

	// Concealed kong: four in hand.
	hand4 := ts(t, "5W", "5W", "5W", "5W")
	if got := CanKong(hand4, nil, Tile{SuitWan, 5}, false); got != KongConcealed {
		t.Fatalf("expected concealed kong, got %v", got)
	}

	// Upgraded kong: one in hand plus an existing peng.
	melds := []Meld{{Kind: MeldPeng, Tiles: ts(t, "5W", "5W", "5W"), From: 1}}
	if got := CanKong(ts(t, "5W", "1T"), melds, Tile{SuitWan, 5}, false); got != KongUpgraded {
		t.Fatalf("expected upgraded kong, got %v", got)
	}
	if got := CanKong(ts(t, "1T"), melds, Tile{SuitWan, 5}, false); got != KongNone {
		t.Fatalf("no fourth tile, no upgrade")
	}
}

func TestChowChoices(t *testing.T) {
	hand := ts(t, "4W", "6W", "7W", "8W")
	choices := ChowChoices(hand, Tile{SuitWan, 5})
	// 456 and 567 are formable, 345 is not (no 3W).
	if len(choices) != 2 {
		t.Fatalf("expected 2 chow choices, got %d: %v", len(choices), choices)
	}
	for _, c := range choices {
		if c[0].Suit != SuitWan || c[1].Rank != c[0].Rank+1 || c[2].Rank != c[1].Rank+1 {
			t.Fatalf("chow choice not sequential: %v", c)
		}
	}

	// Cross-suit never forms a chow.
	if got := ChowChoices(ts(t, "4W", "6W"), Tile{SuitTiao, 5}); len(got) != 0 {
		t.Fatalf("cross-suit chow must be empty, got %v", got)
	}
}

func TestDecomposeBasicWin(t *testing.T) {
	s := NewSearcher()

	// 111W 234W 555T 789D + 99D pair, melds 0.
	h := Hand27FromTiles(ts(t,
		"1W", "1W", "1W",
		"2W", "3W", "4W",
		"5T", "5T", "5T",
		"7D", "8D", "9D",
		"9D", "9D",
	))
	// 9D appears 3 times total here, so the pair decomposition uses 789D + 99D.
	decomps := s.Decompose(h, 0, true, false)
	if len(decomps) == 0 {
		t.Fatalf("expected a winning decomposition")
	}
	if !s.IsWinning(h, 0, true, false) {
		t.Fatalf("IsWinning disagreed with Decompose")
	}

	// Removing one tile breaks the win.
	h2 := h
	h2[Tile{SuitWan, 2}.Index()]--
	if s.IsWinning(h2, 0, true, false) {
		t.Fatalf("13 tiles must not be winning")
	}
}

func TestDecomposeWithMelds(t *testing.T) {
	s := NewSearcher()

	// Two melds fixed, hand holds 2 sets + pair: 111T 22T 345D.
	h := Hand27FromTiles(ts(t, "1T", "1T", "1T", "2T", "2T", "3D", "4D", "5D"))
	if !s.IsWinning(h, 2, true, false) {
		t.Fatalf("expected win with 2 fixed melds")
	}
	if s.IsWinning(h, 1, true, false) {
		t.Fatalf("wrong meld count must not win")
	}
}

func TestDecomposeNoChow(t *testing.T) {
	s := NewSearcher()

	// Chow-dependent hand is not a win when chow is disallowed.
	h := Hand27FromTiles(ts(t,
		"1W", "2W", "3W",
		"4W", "5W", "6W",
		"7W", "8W", "9W",
		"1T", "2T", "3T",
		"5D", "5D",
	))
	if !s.IsWinning(h, 0, true, false) {
		t.Fatalf("should win with chows allowed")
	}
	if s.IsWinning(h, 0, false, false) {
		t.Fatalf("must not win with chows disallowed")
	}
}

func TestDecomposeSevenPairs(t *testing.T) {
	s := NewSearcher()

	h := Hand27FromTiles(ts(t,
		"1W", "1W", "3W", "3W", "5W", "5W",
		"7T", "7T", "9T", "9T",
		"2D", "2D", "4D", "4D",
	))
	decomps := s.Decompose(h, 0, false, true)
	if len(decomps) != 1 || !decomps[0].SevenPairs {
		t.Fatalf("expected seven-pairs decomposition, got %v", decomps)
	}
	// Disabled seven pairs finds nothing.
	if s.IsWinning(h, 0, false, false) {
		t.Fatalf("seven pairs disabled must not win")
	}
	// Seven pairs requires a concealed hand.
	if s.IsWinning(h, 1, false, true) {
		t.Fatalf("seven pairs with melds must not win")
	}
}

func TestDecomposeDeterministicOrder(t *testing.T) {
	s := NewSearcher()

	// 111W 222W 333W 44W + 567W: both pong-heavy and chow-heavy splits exist.
	h := Hand27FromTiles(ts(t,
		"1W", "1W", "1W",
		"2W", "2W", "2W",
		"3W", "3W", "3W",
		"4W", "4W",
		"5W", "6W", "7W",
	))
	decomps := s.Decompose(h, 0, true, false)
	if len(decomps) < 2 {
		t.Fatalf("expected multiple decompositions, got %d", len(decomps))
	}
	// Pong-preferred ordering: first decomposition has the most pongs.
	for i := 1; i < len(decomps); i++ {
		if pongCount(decomps[i]) > pongCount(decomps[0]) {
			t.Fatalf("ordering not pong-first")
		}
	}
	// Cached second call returns the same number of decompositions.
	again := s.Decompose(h, 0, true, false)
	if len(again) != len(decomps) {
		t.Fatalf("cache changed result count")
	}
}
