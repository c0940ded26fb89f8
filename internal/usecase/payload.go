package usecase

import (
	"strconv"
	"time"

	"github.com/siwakornc/invoice-ocr-service/internal/domain"
)

// completedPayload builds the job.completed webhook body. Field values are
// plain scalars; absent fields appear as null, never as missing keys. The
// {value, confidence} object form is reserved for the persisted result.
func completedPayload(p domain.JobPayload, res domain.OCRResult, processingSeconds float64) map[string]any {
	f := res.Fields
	items := make([]map[string]any, 0, len(f.LineItems))
	for _, it := range f.LineItems {
		items = append(items, map[string]any{
			"description": it.Description,
			"amount":      it.Amount,
			"confidence":  it.Confidence,
		})
	}
	return map[string]any{
		"event":           "job.completed",
		"job_id":          p.JobID,
		"user_id":         p.UserID,
		"message_id":      p.MessageID,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"processing_time": processingSeconds,
		"result": map[string]any{
			"vendor":           fieldValue(f.Vendor),
			"amount":           amountValue(f.TotalAmount),
			"date":             fieldValue(f.Date),
			"invoice_number":   fieldValue(f.InvoiceNumber),
			"confidence_score": res.OverallConfidence,
			"invoice_summary":  invoiceSummary(f),
			"line_items":       items,
			"ocr_metadata":     res.Metadata,
		},
	}
}

func fieldValue(f domain.Field) any {
	if f.Value == nil {
		return nil
	}
	return *f.Value
}

func amountValue(f domain.AmountField) any {
	if f.Value == nil {
		return nil
	}
	return *f.Value
}

// invoiceSummary is the human-readable one-liner "<vendor> - <amount>฿",
// degrading to whichever half is known.
func invoiceSummary(f domain.InvoiceFields) string {
	vendor := ""
	if f.Vendor.Found {
		vendor = *f.Vendor.Value
	}
	if f.TotalAmount.Found {
		amount := strconv.FormatFloat(*f.TotalAmount.Value, 'f', 2, 64) + "฿"
		if vendor != "" {
			return vendor + " - " + amount
		}
		return amount
	}
	return vendor
}
