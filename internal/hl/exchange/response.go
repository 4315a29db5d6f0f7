package exchange

import (
	"errors"
	"fmt"
	"strconv"
)

// OrderResult is the parsed outcome of a single-order placement.
type OrderResult struct {
	OID     string
	AvgPx   string
	TotalSz string
	Filled  bool
	Resting bool
}

// ParseOrderResponse digs the first order status out of an /exchange
// response. The venue reports per-order errors inside an otherwise
// successful envelope, so both layers are checked.
func ParseOrderResponse(resp map[string]any) (OrderResult, error) {
	if resp == nil {
		return OrderResult{}, errors.New("empty exchange response")
	}
	if status := stringFromAny(resp["status"]); status != "" && status != "ok" {
		return OrderResult{}, fmt.Errorf("exchange status %s: %s", status, stringFromAny(resp["response"]))
	}
	inner, ok := resp["response"].(map[string]any)
	if !ok {
		return OrderResult{}, errors.New("exchange response missing body")
	}
	data, ok := inner["data"].(map[string]any)
	if !ok {
		return OrderResult{}, errors.New("exchange response missing data")
	}
	statuses, ok := data["statuses"].([]any)
	if !ok || len(statuses) == 0 {
		return OrderResult{}, errors.New("exchange response missing statuses")
	}
	entry, ok := statuses[0].(map[string]any)
	if !ok {
		return OrderResult{}, errors.New("malformed order status")
	}
	if msg := stringFromAny(entry["error"]); msg != "" {
		return OrderResult{}, fmt.Errorf("order rejected: %s", msg)
	}
	if filled, ok := entry["filled"].(map[string]any); ok {
		return OrderResult{
			OID:     stringFromAny(filled["oid"]),
			AvgPx:   stringFromAny(filled["avgPx"]),
			TotalSz: stringFromAny(filled["totalSz"]),
			Filled:  true,
		}, nil
	}
	if resting, ok := entry["resting"].(map[string]any); ok {
		return OrderResult{
			OID:     stringFromAny(resting["oid"]),
			Resting: true,
		}, nil
	}
	return OrderResult{}, errors.New("order status has no fill or resting entry")
}

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatInt(int64(val), 10)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}
