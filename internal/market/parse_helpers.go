package market

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

func parsePerpMeta(payload map[string]any) (map[string]PerpAsset, error) {
	universe, ok := payload["universe"].([]any)
	if !ok || len(universe) == 0 {
		return nil, errors.New("meta response missing universe")
	}
	assets := make(map[string]PerpAsset, len(universe))
	for i, entry := range universe {
		meta, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		coin := stringFromMap(meta, "name", "coin", "symbol")
		if coin == "" {
			continue
		}
		assets[coin] = PerpAsset{
			Coin:       coin,
			Index:      i,
			SzDecimals: int32(intFromAny(meta["szDecimals"], 0)),
		}
	}
	if len(assets) == 0 {
		return nil, errors.New("no perp assets parsed from universe")
	}
	return assets, nil
}

// midsFromPayload accepts both the websocket channel shape
// {"channel":"allMids","data":{"mids":{...}}} and the flat /info allMids map.
func midsFromPayload(payload map[string]any) map[string]decimal.Decimal {
	raw := payload
	if data, ok := payload["data"].(map[string]any); ok {
		if nested, ok := data["mids"].(map[string]any); ok {
			raw = nested
		} else {
			raw = data
		}
	} else if nested, ok := payload["mids"].(map[string]any); ok {
		raw = nested
	}
	mids := make(map[string]decimal.Decimal, len(raw))
	for coin, v := range raw {
		if mid, ok := decimalFromAny(v); ok && mid.Sign() > 0 {
			mids[coin] = mid
		}
	}
	return mids
}

func stringFromMap(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func decimalFromAny(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	default:
		return decimal.Zero, false
	}
}

func intFromAny(v any, fallback int) int {
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case int64:
		return int(val)
	default:
		return fallback
	}
}
