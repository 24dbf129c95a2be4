package models

// CheckoutItem mirrors what the browser sends. Price is informational only;
// the server charges the catalog price.
type CheckoutItem struct {
	ID          string  `json:"id" binding:"required"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Image       string  `json:"image"`
	Quantity    int     `json:"quantity" binding:"required,gte=1"`
}

type CreateCheckoutSessionRequest struct {
	Items         []CheckoutItem `json:"items" binding:"dive"`
	CustomerEmail string         `json:"customerEmail" binding:"omitempty,email"`
}

type CreateCheckoutSessionResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
