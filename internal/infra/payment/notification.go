package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"course-payment-sync/internal/domain"
	"course-payment-sync/internal/domain/model"
)

var requiredFields = []string{"order_id", "status_code", "gross_amount", "signature_key", "transaction_status"}

// DecodeNotification parses a gateway callback body. Missing or non-scalar required
// fields are rejected here so the use case never deals with a partial payload.
func DecodeNotification(body []byte) (*model.Notification, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: empty body", domain.ErrMalformedPayload)
	}

	fields := make(map[string]string, len(requiredFields))
	for _, k := range requiredFields {
		v, ok := scalar(raw[k])
		if !ok || v == "" {
			return nil, fmt.Errorf("%w: missing %s", domain.ErrMalformedPayload, k)
		}
		fields[k] = v
	}

	opt := func(k string) string {
		v, _ := scalar(raw[k])
		return v
	}

	meta := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "signature_key" {
			continue
		}
		meta[k] = v
	}

	return &model.Notification{
		OrderID:           fields["order_id"],
		StatusCode:        fields["status_code"],
		GrossAmount:       fields["gross_amount"],
		SignatureKey:      fields["signature_key"],
		TransactionStatus: strings.ToLower(fields["transaction_status"]),
		TransactionID:     opt("transaction_id"),
		PaymentType:       opt("payment_type"),
		FraudStatus:       opt("fraud_status"),
		Currency:          opt("currency"),
		TransactionTime:   opt("transaction_time"),
		Raw:               meta,
	}, nil
}

func scalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case json.Number:
		return t.String(), true
	case bool:
		return fmt.Sprint(t), true
	default:
		return "", false
	}
}
