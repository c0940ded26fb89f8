// Package stub is a deterministic in-memory recognizer for tests and
// development without an OCR engine.
package stub

import (
	"image"

	"github.com/siwakornc/invoice-ocr-service/internal/adapter/recognizer"
	"github.com/siwakornc/invoice-ocr-service/internal/domain"
)

// Recognizer returns a fixed region set for every image.
type Recognizer struct {
	regions []domain.TextRegion
	pass    domain.Pass
	err     error
}

var _ domain.Recognizer = (*Recognizer)(nil)

// New returns a stub producing the given regions on every call.
func New(pass domain.Pass, regions ...domain.TextRegion) *Recognizer {
	return &Recognizer{regions: regions, pass: pass}
}

// NewFailing returns a stub that always errors.
func NewFailing(err error) *Recognizer {
	return &Recognizer{err: err}
}

// Extract implements domain.Recognizer.
func (s *Recognizer) Extract(_ domain.Context, _ image.Image, threshold float64) ([]domain.TextRegion, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]domain.TextRegion, len(s.regions))
	copy(out, s.regions)
	return recognizer.Finalize(out, threshold, s.pass), nil
}
