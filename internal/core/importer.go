package core

import (
	"context"
	"fmt"

	"github.com/qbloader/qbloader/internal/logging"
	"github.com/qbloader/qbloader/internal/qbo"
	"github.com/qbloader/qbloader/internal/store"
)

// importRows submits the valid rows in provider batches of at most
// qbo.BatchLimit, in row-number order, and records each outcome. The row id
// doubles as the batch correlation id so responses match back even when the
// provider reorders or omits items. A transport failure poisons only its own
// batch; remaining batches still run. Returns the number of rows imported.
func (s *Service) importRows(ctx context.Context, job *store.Job, client QBO, valid []validRow) (int, error) {
	logger := logging.WithFields(ctx, "job_id", job.ID)
	success := 0

	for start := 0; start < len(valid); start += qbo.BatchLimit {
		end := min(start+qbo.BatchLimit, len(valid))
		chunk := valid[start:end]

		items := make([]qbo.BatchItem, len(chunk))
		byBID := make(map[string]validRow, len(chunk))
		for i, vr := range chunk {
			bid := vr.Row.ID.String()
			items[i] = qbo.BatchItem{BID: bid, Payload: vr.Customer.Payload()}
			byBID[bid] = vr
		}

		results, err := client.BatchCreateCustomers(ctx, items)
		if err != nil {
			// Whole-batch failure: every row in this chunk is marked, the
			// next chunk still gets its chance.
			logger.Warn("batch request failed", "batch_start", start, "error", err)
			msg := fmt.Sprintf("batch request failed: %v", err)
			for _, vr := range chunk {
				if uerr := s.store.UpdateRowImport(ctx, vr.Row.ID, store.RowError, msg, nil); uerr != nil {
					return success, fmt.Errorf("record batch failure: %w", uerr)
				}
			}
			s.broadcast(ctx, job.ID, store.StatusImporting, job.Meta)
			continue
		}

		handled := make(map[string]bool, len(results))
		for _, res := range results {
			vr, ok := byBID[res.BID]
			if !ok {
				logger.Warn("batch response with unknown correlation id", "bid", res.BID)
				continue
			}
			handled[res.BID] = true

			if res.Err != "" {
				if err := s.store.UpdateRowImport(ctx, vr.Row.ID, store.RowError, res.Err, nil); err != nil {
					return success, fmt.Errorf("record row failure: %w", err)
				}
				continue
			}
			rowMeta := map[string]any{"qbo_id": res.ID, "sync_token": res.SyncToken}
			if err := s.store.UpdateRowImport(ctx, vr.Row.ID, store.RowSuccess, "", rowMeta); err != nil {
				return success, fmt.Errorf("record row success: %w", err)
			}
			success++
		}

		// Items the provider dropped from the response are failures too.
		for _, vr := range chunk {
			if !handled[vr.Row.ID.String()] {
				if err := s.store.UpdateRowImport(ctx, vr.Row.ID, store.RowError, "no response for batch item", nil); err != nil {
					return success, fmt.Errorf("record missing batch item: %w", err)
				}
			}
		}

		s.broadcast(ctx, job.ID, store.StatusImporting, job.Meta)
	}

	return success, nil
}
