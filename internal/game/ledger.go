package game

import "encoding/json"

// ApplyDeltas merges a named-delta payload into a player record and returns
// the result. The merge is key-driven and total: recognized keys apply
// independently, unrecognized keys are ignored so newer tile types never
// break older engines, and every resulting count (cash included) is clamped
// at zero.
func ApplyDeltas(p Player, deltas map[string]any) Player {
	out := p.Clone()
	for key, raw := range deltas {
		switch key {
		case "cashDelta":
			out.Cash = clampInt64(out.Cash + asInt64(raw))
		case "clientsDelta":
			out.Clients = clampInt(out.Clients + asInt(raw))
		case "vendedoresComunsDelta":
			out.CommonSellers = clampInt(out.CommonSellers + asInt(raw))
		case "fieldSalesDelta":
			out.FieldSales = clampInt(out.FieldSales + asInt(raw))
		case "insideSalesDelta":
			out.InsideSales = clampInt(out.InsideSales + asInt(raw))
		case "gestoresDelta":
			out.Managers = clampInt(out.Managers + asInt(raw))
		case "erpLevelSet":
			if tier, ok := ParseTier(asString(raw)); ok {
				out.ERPLevel = tier
			}
		case "mixProdutosSet":
			if tier, ok := ParseTier(asString(raw)); ok {
				out.MixProducts = tier
			}
		}
	}
	return out
}

// ApplyTrainingPurchase unions newly bought certifications into the
// player's per-role certificate set. Re-buying a held certificate is a
// no-op, not an error.
func ApplyTrainingPurchase(p Player, role Role, certs []string) Player {
	out := p.Clone()
	if out.Trainings == nil {
		out.Trainings = make(map[Role][]string)
	}
	out.Trainings[role] = sortedUnique(append(out.Trainings[role], certs...))
	return out
}

func clampInt64(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func clampInt(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// asInt64 tolerates the numeric types a decoded JSON payload can carry.
func asInt64(raw any) int64 {
	switch v := raw.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	case float32:
		return int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

func asInt(raw any) int {
	return int(asInt64(raw))
}

func asString(raw any) string {
	s, _ := raw.(string)
	return s
}
