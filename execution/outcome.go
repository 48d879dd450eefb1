package execution

import "encoding/json"

// Status classifies an execution outcome.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusRejected Status = "rejected"
	StatusPending  Status = "pending"
	StatusFailed   Status = "failed"
	StatusPartial  Status = "partial"
)

// Outcome is the uniform result returned for every attempted trade.
// Strategies branch only on Success/Status/Message; no venue error
// ever escapes the pipeline.
type Outcome struct {
	Success bool
	Status  Status
	Message string

	// OrderID is the venue order identifier when one was assigned.
	OrderID string
	// IdempotencyKey is the key that was used, caller-supplied or
	// minted by the pipeline.
	IdempotencyKey string
	// Raw preserves the venue response for audit when available.
	Raw json.RawMessage
}

func rejected(key, msg string) Outcome {
	return Outcome{Status: StatusRejected, Message: msg, IdempotencyKey: key}
}

func failed(key, msg string) Outcome {
	return Outcome{Status: StatusFailed, Message: msg, IdempotencyKey: key}
}

func success(key, orderID, msg string, raw json.RawMessage) Outcome {
	return Outcome{
		Success:        true,
		Status:         StatusSuccess,
		Message:        msg,
		OrderID:        orderID,
		IdempotencyKey: key,
		Raw:            raw,
	}
}
