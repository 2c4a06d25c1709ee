package game

import "testing"

func TestMoveModularArithmetic(t *testing.T) {
	for pos := 0; pos < TrackLength; pos++ {
		for steps := 1; steps <= 6; steps++ {
			mv := Move(pos, steps, TrackLength)
			want := (pos + steps) % TrackLength
			if mv.NewPos != want {
				t.Fatalf("pos=%d steps=%d got=%d want=%d", pos, steps, mv.NewPos, want)
			}
			wantCrossed := pos+steps >= TrackLength
			if mv.CrossedStart != wantCrossed {
				t.Fatalf("pos=%d steps=%d crossedStart=%v want=%v", pos, steps, mv.CrossedStart, wantCrossed)
			}
		}
	}
}

func TestMoveDegenerateTrack(t *testing.T) {
	mv := Move(3, 2, 0)
	if mv.NewPos != 0 {
		t.Fatalf("degenerate track pos=%d want 0", mv.NewPos)
	}
}

func TestMoveLapCount(t *testing.T) {
	mv := Move(52, 6, 55)
	if mv.NewPos != 3 {
		t.Fatalf("got pos %d want 3", mv.NewPos)
	}
	if mv.LapsCrossed != 1 {
		t.Fatalf("got laps %d want 1", mv.LapsCrossed)
	}

	mv = Move(0, 6, 55)
	if mv.LapsCrossed != 0 || mv.CrossedStart {
		t.Fatalf("unexpected lap from %+v", mv)
	}
}

func TestTileCategoryTotal(t *testing.T) {
	for _, idx := range []int{0, -1, TrackLength + 1, 9999} {
		if got := TileCategory(idx); got != CategoryNone {
			t.Fatalf("index %d got %s want NONE", idx, got)
		}
	}
	if got := TileCategory(StartTile + 1); got != CategoryStart {
		t.Fatalf("start tile got %s", got)
	}
	if got := TileCategory(ExpensesTile + 1); got != CategoryExpenses {
		t.Fatalf("expenses tile got %s", got)
	}
}

func TestNeedsPrompt(t *testing.T) {
	if NeedsPrompt(CategoryNone) {
		t.Fatalf("NONE must not prompt")
	}
	for _, c := range []Category{CategoryERP, CategoryTraining, CategoryLuck, CategoryClients} {
		if !NeedsPrompt(c) {
			t.Fatalf("%s should prompt", c)
		}
	}
}

func TestCrossedFixedTile(t *testing.T) {
	tests := []struct {
		oldPos, newPos, tile int
		want                 bool
	}{
		{5, 10, 7, true},
		{5, 10, 5, false},
		{5, 10, 10, true},
		{5, 10, 11, false},
		{52, 3, 0, true},
		{52, 3, 54, true},
		{52, 3, 3, true},
		{52, 3, 27, false},
		{10, 10, 10, false},
	}
	for _, tc := range tests {
		got := CrossedFixedTile(tc.oldPos, tc.newPos, tc.tile)
		if got != tc.want {
			t.Fatalf("crossed(%d,%d,%d)=%v want %v", tc.oldPos, tc.newPos, tc.tile, got, tc.want)
		}
	}
}
