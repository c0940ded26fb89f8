package domain

import "time"

// Script tags the dominant writing system of a text region. Derived from
// the text itself, never taken from the recognizer.
type Script string

const (
	ScriptThai    Script = "th"
	ScriptEnglish Script = "en"
	ScriptMixed   Script = "mixed"
	ScriptNumeric Script = "numeric"
	ScriptUnknown Script = "unknown"
)

// Pass labels which recognizer pass produced a region in dual-pass mode.
type Pass string

const (
	PassPrimary   Pass = "primary"
	PassSecondary Pass = "secondary"
)

// Point is an image-space vertex.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// TextRegion is one recognizer output tuple: a simple quadrilateral, the
// recognized text, and a confidence in [0,1].
type TextRegion struct {
	Box              [4]Point `json:"box"`
	Text             string   `json:"text"`
	Confidence       float64  `json:"confidence"`
	Script           Script   `json:"script"`
	Pass             Pass     `json:"pass,omitempty"`
	AboveThreshold   bool     `json:"above_threshold"`
	DualPassImproved bool     `json:"dual_pass_improved,omitempty"`
}

// Field is a scalar extraction result. Absence is {value:null, confidence:0}
// with Found=false, never a missing key.
type Field struct {
	Value      *string `json:"value"`
	Confidence float64 `json:"confidence"`
	Found      bool    `json:"-"`
}

// AmountField is a numeric extraction result with the same absence rule.
type AmountField struct {
	Value      *float64 `json:"value"`
	Confidence float64  `json:"confidence"`
	Found      bool     `json:"-"`
}

// LineItem is one extracted invoice line.
type LineItem struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Confidence  float64 `json:"confidence"`
}

// InvoiceFields bundles the four scalar fields and the line items.
type InvoiceFields struct {
	Vendor        Field       `json:"vendor"`
	InvoiceNumber Field       `json:"invoice_number"`
	Date          Field       `json:"date"`
	TotalAmount   AmountField `json:"total_amount"`
	LineItems     []LineItem  `json:"line_items"`
}

// ProcessingMetadata records how the pipeline treated the image.
type ProcessingMetadata struct {
	OperationsApplied []string           `json:"operations_applied"`
	OperationsFailed  []StageFailure     `json:"operations_failed"`
	ProcessingQuality string             `json:"processing_quality"`
	QualityBefore     float64            `json:"quality_before"`
	QualityAfter      float64            `json:"quality_after"`
	UsedOriginal      bool               `json:"used_original"`
	DualPass          bool               `json:"dual_pass"`
	DualPassImproved  bool               `json:"dual_pass_improved"`
	DocumentScores    map[string]float64 `json:"document_scores,omitempty"`
	Model             string             `json:"model"`
	Language          string             `json:"language"`
	ProcessingMS      int64              `json:"processing_ms"`
}

// StageFailure is a recorded degradation: the stage was skipped or ran on
// its fallback, and the job carried on.
type StageFailure struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

const (
	// MaxStoredRegions clamps the persisted raw region list.
	MaxStoredRegions = 20
	// MaxLineItems clamps the extracted line-item list.
	MaxLineItems = 10
	// MaxLineItemAmount bounds an accepted amount; (0, MaxLineItemAmount].
	MaxLineItemAmount = 1_000_000.0
)

// OCRResult is the persisted outcome of a completed job.
type OCRResult struct {
	ID                string             `json:"id"`
	JobID             string             `json:"job_id"`
	UserID            string             `json:"user_id"`
	MessageID         string             `json:"message_id"`
	FullText          string             `json:"full_text"`
	Regions           []TextRegion       `json:"regions"`
	OverallConfidence float64            `json:"overall_confidence"`
	Fields            InvoiceFields      `json:"fields"`
	EnhancedImage     BlobRef            `json:"enhanced_image"`
	Metadata          ProcessingMetadata `json:"metadata"`
	CreatedAt         time.Time          `json:"created_at"`
}

// ResultStats is the aggregate view exposed by the result store.
type ResultStats struct {
	Count           int64   `json:"count"`
	AvgConfidence   float64 `json:"avg_confidence"`
	AvgProcessingMS float64 `json:"avg_processing_ms"`
}
