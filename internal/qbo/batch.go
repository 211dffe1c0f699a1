package qbo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// BatchLimit is QBO's documented maximum of operations per batch request.
const BatchLimit = 30

// BatchItem is one create operation. BID is the client-assigned correlation
// id echoed back by the provider; Payload is the entity wrapped under its
// type key, e.g. {"Customer": {...}}.
type BatchItem struct {
	BID     string
	Payload map[string]any
}

// BatchResult is the per-item outcome matched back by BID.
type BatchResult struct {
	BID       string
	ID        string
	SyncToken string
	Err       string
}

// Fault is QBO's structured error envelope.
type Fault struct {
	Error []FaultError `json:"Error"`
	Type  string       `json:"type"`
}

// FaultError is one error inside a Fault.
type FaultError struct {
	Message string `json:"Message"`
	Detail  string `json:"Detail"`
	Code    string `json:"code"`
}

// String renders the fault the way row errors display it.
func (f FaultError) String() string {
	if f.Detail != "" {
		return fmt.Sprintf("%s (Code: %s) — %s", f.Message, f.Code, f.Detail)
	}
	return fmt.Sprintf("%s (Code: %s)", f.Message, f.Code)
}

type batchItemRequest struct {
	BID       string         `json:"bId"`
	Operation string         `json:"operation"`
	Customer  map[string]any `json:"Customer"`
}

type batchItemResponse struct {
	BID      string         `json:"bId"`
	Customer map[string]any `json:"Customer"`
	Fault    *Fault         `json:"Fault"`
}

// BatchCreateCustomers submits up to BatchLimit create operations in one
// request. A non-nil error means the whole batch failed at the transport
// level and no per-item results are available.
func (c *Client) BatchCreateCustomers(ctx context.Context, items []BatchItem) ([]BatchResult, error) {
	if len(items) > BatchLimit {
		return nil, fmt.Errorf("qbo: batch of %d exceeds limit of %d", len(items), BatchLimit)
	}

	requests := make([]batchItemRequest, 0, len(items))
	for _, item := range items {
		customer, _ := item.Payload["Customer"].(map[string]any)
		requests = append(requests, batchItemRequest{
			BID:       item.BID,
			Operation: "create",
			Customer:  customer,
		})
	}

	status, body, err := c.do(ctx, http.MethodPost, "batch", nil,
		map[string]any{"BatchItemRequest": requests})
	if err != nil {
		return nil, err
	}

	var resp struct {
		BatchItemResponse []batchItemResponse `json:"BatchItemResponse"`
		Fault             *Fault              `json:"Fault"`
	}
	if decodeErr := json.Unmarshal(body, &resp); decodeErr != nil || len(resp.BatchItemResponse) == 0 {
		if status != http.StatusOK {
			return nil, fmt.Errorf("qbo: batch returned %d: %s", status, truncate(string(body), 1000))
		}
		if resp.Fault != nil && len(resp.Fault.Error) > 0 {
			return nil, fmt.Errorf("qbo: batch fault: %s", resp.Fault.Error[0].String())
		}
		return nil, fmt.Errorf("qbo: unparseable batch response: %s", truncate(string(body), 1000))
	}

	results := make([]BatchResult, 0, len(resp.BatchItemResponse))
	for _, item := range resp.BatchItemResponse {
		result := BatchResult{BID: item.BID}
		switch {
		case item.Fault != nil && len(item.Fault.Error) > 0:
			result.Err = item.Fault.Error[0].String()
		case item.Customer != nil:
			result.ID, _ = item.Customer["Id"].(string)
			result.SyncToken, _ = item.Customer["SyncToken"].(string)
		default:
			result.Err = "no entity in batch item response"
		}
		results = append(results, result)
	}
	return results, nil
}
