package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Named defaults substituted for missing or malformed fields.
const (
	DefaultMerchantName  = "Unknown Merchant"
	DefaultPaymentMethod = "Unknown"
	DefaultItemName      = "Unknown Item"
	DefaultCurrency      = "USD"
)

// ErrInvalidShape is returned when the parsed model output is not a JSON
// object at the root. Nothing below the root is ever fatal.
var ErrInvalidShape = errors.New("receipt: model output is not a JSON object")

// Normalize maps an arbitrary parsed JSON value into the fixed receipt
// schema, substituting defaults for anything missing or mistyped.
func Normalize(parsed any) (*Receipt, error) {
	return NormalizeAt(parsed, time.Now())
}

// NormalizeAt is Normalize with an explicit clock, so generated defaults
// (transaction date, receipt number) are deterministic under test.
func NormalizeAt(parsed any, now time.Time) (*Receipt, error) {
	root, ok := parsed.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w (got %T)", ErrInvalidShape, parsed)
	}

	merchant := asObject(root["merchant"])
	transaction := asObject(root["transaction"])
	totals := asObject(root["totals"])

	r := &Receipt{
		Merchant: Merchant{
			Name:    asString(merchant["name"], DefaultMerchantName),
			Address: asString(merchant["address"], ""),
			Contact: asString(merchant["contact"], ""),
		},
		Transaction: Transaction{
			Date:          asString(transaction["date"], now.Format("2006-01-02")),
			ReceiptNumber: asString(transaction["receipt_number"], fmt.Sprintf("REC%d", now.UnixMilli())),
			PaymentMethod: asString(transaction["payment_method"], DefaultPaymentMethod),
		},
		Items: normalizeItems(root["items"]),
		Totals: Totals{
			Subtotal: asNumber(totals["subtotal"], 0),
			Tax:      asNumber(totals["tax"], 0),
			Total:    asNumber(totals["total"], 0),
			Currency: strings.ToUpper(asString(totals["currency"], DefaultCurrency)),
		},
	}

	return r, nil
}

// normalizeItems keeps the source value only when it is an array; each
// element is normalized independently. Anything else yields an empty slice.
func normalizeItems(v any) []Item {
	list, ok := v.([]any)
	if !ok {
		return []Item{}
	}

	items := make([]Item, 0, len(list))
	for _, el := range list {
		obj := asObject(el)
		items = append(items, Item{
			Name:       asString(obj["name"], DefaultItemName),
			Quantity:   asQuantity(obj["quantity"]),
			UnitPrice:  asNumber(obj["unitPrice"], 0),
			TotalPrice: asNumber(obj["totalPrice"], 0),
		})
	}
	return items
}

// asObject returns v as an object, or an empty object so field access on
// missing or mistyped sections never fails.
func asObject(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// asString coerces v to trimmed text, falling back when absent or blank.
func asString(v any, fallback string) string {
	switch s := v.(type) {
	case string:
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			return trimmed
		}
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case json.Number:
		return s.String()
	}
	return fallback
}

// asNumber coerces v to a non-negative number, accepting numeric-looking
// strings. Unparseable or negative values fall back.
func asNumber(v any, fallback float64) float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return fallback
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return fallback
		}
		f = parsed
	default:
		return fallback
	}

	if f < 0 {
		return fallback
	}
	return f
}

// asQuantity coerces v to a non-negative integer count, default 1.
func asQuantity(v any) int {
	return int(asNumber(v, 1))
}
