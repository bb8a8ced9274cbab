package adapter

// SignatureVerifier checks that a notification was produced by the payment gateway.
type SignatureVerifier interface {
	Verify(orderID, statusCode, grossAmount, signature string) bool
}
