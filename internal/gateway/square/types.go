package square

// Request and response shapes for the Payments API v2. Only the fields the
// pipeline reads are modeled; the gateway sends far more.

type money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type createPaymentRequest struct {
	SourceID       string `json:"source_id"`
	IdempotencyKey string `json:"idempotency_key"`
	AmountMoney    money  `json:"amount_money"`
	Autocomplete   bool   `json:"autocomplete"`
	Note           string `json:"note,omitempty"`
	BuyerEmail     string `json:"buyer_email_address,omitempty"`
}

type paymentObject struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	AmountMoney money  `json:"amount_money"`
	OrderID     string `json:"order_id"`
	ReceiptURL  string `json:"receipt_url"`
	Note        string `json:"note"`
}

type createPaymentResponse struct {
	Payment paymentObject `json:"payment"`
	Errors  []apiError    `json:"errors"`
}

type apiError struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
	Field    string `json:"field"`
}

// webhookEvent is the envelope of a Payments webhook delivery.
type webhookEvent struct {
	MerchantID string `json:"merchant_id"`
	Type       string `json:"type"`
	EventID    string `json:"event_id"`
	CreatedAt  string `json:"created_at"`
	Data       struct {
		Type   string `json:"type"`
		ID     string `json:"id"`
		Object struct {
			Payment paymentObject `json:"payment"`
		} `json:"object"`
	} `json:"data"`
}
