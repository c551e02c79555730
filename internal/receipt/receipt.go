package receipt

// Merchant identifies the business that issued a receipt.
type Merchant struct {
	Name    string `json:"name" bigquery:"merchant_name"`
	Address string `json:"address" bigquery:"merchant_address"`
	Contact string `json:"contact" bigquery:"merchant_contact"`
}

// Transaction holds the receipt-level purchase details.
type Transaction struct {
	Date          string `json:"date" bigquery:"transaction_date"`
	ReceiptNumber string `json:"receipt_number" bigquery:"receipt_number"`
	PaymentMethod string `json:"payment_method" bigquery:"payment_method"`
}

// Item is one purchased line item. Quantity defaults to 1, prices to 0;
// all numeric fields are non-negative after normalization.
type Item struct {
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unitPrice"`
	TotalPrice float64 `json:"totalPrice"`
}

// Totals holds the receipt amounts.
type Totals struct {
	Subtotal float64 `json:"subtotal" bigquery:"subtotal"`
	Tax      float64 `json:"tax" bigquery:"tax"`
	Total    float64 `json:"total" bigquery:"total"`
	Currency string  `json:"currency" bigquery:"currency"`
}

// Receipt is the fixed schema every extraction is normalized into. After
// normalization every field is present and type-correct regardless of what
// the model returned.
type Receipt struct {
	Merchant    Merchant    `json:"merchant"`
	Transaction Transaction `json:"transaction"`
	Items       []Item      `json:"items"`
	Totals      Totals      `json:"totals"`
}
