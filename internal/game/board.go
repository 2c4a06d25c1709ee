package game

// Category tags what a tile triggers when landed on.
type Category string

const (
	CategoryERP           Category = "ERP"
	CategoryTraining      Category = "TRAINING"
	CategoryDirectBuy     Category = "DIRECT_BUY"
	CategoryInsideSales   Category = "INSIDE_SALES"
	CategoryClients       Category = "CLIENTS"
	CategoryManager       Category = "MANAGER"
	CategoryFieldSales    Category = "FIELD_SALES"
	CategoryCommonSellers Category = "COMMON_SELLERS"
	CategoryMix           Category = "MIX"
	CategoryLuck          Category = "LUCK_OR_MISFORTUNE"
	CategoryStart         Category = "START"
	CategoryExpenses      Category = "EXPENSES"
	CategoryNone          Category = "NONE"
)

// tileLayout maps the 0-based board position to its category. The track is
// fixed at 55 tiles; position 0 is the start tile and position 27 the
// mandatory expenses tile.
var tileLayout = [TrackLength]Category{
	CategoryStart,         // 0
	CategoryClients,       // 1
	CategoryCommonSellers, // 2
	CategoryNone,          // 3
	CategoryTraining,      // 4
	CategoryLuck,          // 5
	CategoryNone,          // 6
	CategoryManager,       // 7
	CategoryDirectBuy,     // 8
	CategoryERP,           // 9
	CategoryInsideSales,   // 10
	CategoryLuck,          // 11
	CategoryClients,       // 12
	CategoryTraining,      // 13
	CategoryNone,          // 14
	CategoryFieldSales,    // 15
	CategoryCommonSellers, // 16
	CategoryMix,           // 17
	CategoryDirectBuy,     // 18
	CategoryManager,       // 19
	CategoryNone,          // 20
	CategoryInsideSales,   // 21
	CategoryMix,           // 22
	CategoryLuck,          // 23
	CategoryClients,       // 24
	CategoryFieldSales,    // 25
	CategoryTraining,      // 26
	CategoryExpenses,      // 27
	CategoryNone,          // 28
	CategoryCommonSellers, // 29
	CategoryERP,           // 30
	CategoryLuck,          // 31
	CategoryMix,           // 32
	CategoryInsideSales,   // 33
	CategoryNone,          // 34
	CategoryClients,       // 35
	CategoryDirectBuy,     // 36
	CategoryManager,       // 37
	CategoryInsideSales,   // 38
	CategoryTraining,      // 39
	CategoryFieldSales,    // 40
	CategoryNone,          // 41
	CategoryCommonSellers, // 42
	CategoryMix,           // 43
	CategoryLuck,          // 44
	CategoryClients,       // 45
	CategoryERP,           // 46
	CategoryCommonSellers, // 47
	CategoryNone,          // 48
	CategoryDirectBuy,     // 49
	CategoryLuck,          // 50
	CategoryInsideSales,   // 51
	CategoryNone,          // 52
	CategoryManager,       // 53
	CategoryFieldSales,    // 54
}

// TileCategory resolves a 1-based tile index to its category. Total:
// anything off the board answers CategoryNone rather than failing, since
// this is control logic for a live session.
func TileCategory(oneBased int) Category {
	if oneBased < 1 || oneBased > TrackLength {
		return CategoryNone
	}
	return tileLayout[oneBased-1]
}

// NeedsPrompt reports whether landing on a tile of this category opens a
// modal for the acting player.
func NeedsPrompt(c Category) bool {
	return c != CategoryNone
}

type MoveResult struct {
	NewPos       int
	LapsCrossed  int
	CrossedStart bool
}

// Move advances a token steps tiles along a track of the given length.
// Inputs are defended rather than validated: a garbage track length falls
// back to 1 and negative totals never produce an out-of-range position,
// because a panic here would desync every client in the match.
func Move(pos, steps, trackLength int) MoveResult {
	if trackLength <= 0 {
		trackLength = 1
	}
	total := pos + steps
	newPos := total % trackLength
	if newPos < 0 {
		newPos += trackLength
	}
	laps := 0
	if total >= 0 {
		laps = total / trackLength
	}
	return MoveResult{
		NewPos:       newPos,
		LapsCrossed:  laps,
		CrossedStart: laps > 0,
	}
}

// CrossedFixedTile reports whether the arc travelled from oldPos to newPos
// passes through (or lands on) the given tile. oldPos > newPos means the
// track wrapped.
func CrossedFixedTile(oldPos, newPos, tile int) bool {
	if oldPos == newPos {
		return false
	}
	if oldPos < newPos {
		return tile > oldPos && tile <= newPos
	}
	return tile > oldPos || tile <= newPos
}
