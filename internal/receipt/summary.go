package receipt

import "fmt"

// DisplayName derives the human-readable name shown in the dashboard list.
func (r *Receipt) DisplayName() string {
	return fmt.Sprintf("%s - %s", r.Merchant.Name, r.Transaction.Date)
}

// Summary composes a one-sentence description of the receipt from
// already-normalized data. Purely presentational, never persisted on its own.
func (r *Receipt) Summary() string {
	itemWord := "items"
	if len(r.Items) == 1 {
		itemWord = "item"
	}
	return fmt.Sprintf("Receipt from %s on %s: %d %s, %s %.2f total",
		r.Merchant.Name,
		r.Transaction.Date,
		len(r.Items),
		itemWord,
		r.Totals.Currency,
		r.Totals.Total,
	)
}
