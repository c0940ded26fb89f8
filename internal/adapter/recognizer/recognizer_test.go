package recognizer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/siwakornc/invoice-ocr-service/internal/domain"
)

func box(x0, y0, x1, y1 int) [4]domain.Point {
	return [4]domain.Point{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}}
}

func region(b [4]domain.Point, text string, conf float64) domain.TextRegion {
	return domain.TextRegion{Box: b, Text: text, Confidence: conf}
}

func TestDetectScript(t *testing.T) {
	tests := []struct {
		text string
		want domain.Script
	}{
		{"ร้านอาหารดีใจ", domain.ScriptThai},
		{"Invoice Total", domain.ScriptEnglish},
		{"ราคา Total ร้านค้า", domain.ScriptMixed},
		{"245.50", domain.ScriptNumeric},
		{"๑๒๓๔", domain.ScriptNumeric},
		{"--- ///", domain.ScriptUnknown},
		{"", domain.ScriptUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectScript(tt.text))
		})
	}
}

func TestOverallConfidenceLengthWeighted(t *testing.T) {
	regions := []domain.TextRegion{
		// 30 runes → weight 3.
		{Text: "012345678901234567890123456789", Confidence: 0.9},
		// short → weight 1.
		{Text: "ab", Confidence: 0.3},
	}
	want := (0.9*3 + 0.3*1) / 4
	assert.InDelta(t, want, OverallConfidence(regions), 1e-9)
}

func TestOverallConfidenceEmpty(t *testing.T) {
	assert.Equal(t, 0.0, OverallConfidence(nil))
}

func TestIoU(t *testing.T) {
	assert.InDelta(t, 1.0, IoU(box(0, 0, 10, 10), box(0, 0, 10, 10)), 1e-9)
	assert.InDelta(t, 0.0, IoU(box(0, 0, 10, 10), box(20, 20, 30, 30)), 1e-9)
	// 10x10 boxes overlapping 5x10 → inter 50, union 150.
	assert.InDelta(t, 1.0/3.0, IoU(box(0, 0, 10, 10), box(5, 0, 15, 10)), 1e-9)
}

func TestMergePrefersHigherConfidenceSecondaryOnLatin(t *testing.T) {
	// S4: primary "Invoce" 0.6 vs secondary "Invoice" 0.9 at IoU 0.8.
	primary := []domain.TextRegion{region(box(0, 0, 100, 20), "Invoce", 0.6)}
	secondary := []domain.TextRegion{region(box(0, 0, 100, 25), "Invoice", 0.9)}

	merged := Merge(primary, secondary)
	assert.Len(t, merged, 1)
	assert.Equal(t, "Invoice", merged[0].Text)
	assert.True(t, merged[0].DualPassImproved)
}

func TestMergeKeepsThaiDominantPrimary(t *testing.T) {
	primary := []domain.TextRegion{region(box(0, 0, 100, 20), "ร้านอาหารดีใจ", 0.7)}
	secondary := []domain.TextRegion{region(box(0, 0, 100, 20), "5nuonnsRla", 0.8)}

	merged := Merge(primary, secondary)
	assert.Len(t, merged, 1)
	assert.Equal(t, "ร้านอาหารดีใจ", merged[0].Text, "secondary must beat the primary by ≥25% on Thai text")
	assert.False(t, merged[0].DualPassImproved)
}

func TestMergeThaiDominantOverturnedByMargin(t *testing.T) {
	primary := []domain.TextRegion{region(box(0, 0, 100, 20), "ร้านอาหาร A", 0.5)}
	secondary := []domain.TextRegion{region(box(0, 0, 100, 20), "ร้านอาหาร ABC", 0.7)}

	merged := Merge(primary, secondary)
	assert.Len(t, merged, 1)
	assert.Equal(t, "ร้านอาหาร ABC", merged[0].Text)
	assert.True(t, merged[0].DualPassImproved)
}

func TestMergeAppendsUnmatchedSecondary(t *testing.T) {
	primary := []domain.TextRegion{region(box(0, 0, 100, 20), "Total", 0.8)}
	secondary := []domain.TextRegion{
		region(box(0, 0, 100, 20), "Total", 0.8),
		region(box(0, 200, 100, 220), "245.50", 0.9),
	}

	merged := Merge(primary, secondary)
	assert.Len(t, merged, 2)
	assert.Equal(t, "Total", merged[0].Text)
	assert.Equal(t, "245.50", merged[1].Text)
}

func TestMergeBelowIoUKeepsBoth(t *testing.T) {
	primary := []domain.TextRegion{region(box(0, 0, 10, 10), "a", 0.5)}
	secondary := []domain.TextRegion{region(box(8, 0, 18, 10), "b", 0.9)}

	merged := Merge(primary, secondary)
	assert.Len(t, merged, 2)
}

func TestMergeIdempotent(t *testing.T) {
	set := []domain.TextRegion{
		region(box(0, 0, 100, 20), "ร้านอาหารดีใจ", 0.7),
		region(box(0, 30, 100, 50), "Invoice INV-001", 0.85),
		region(box(0, 60, 100, 80), "245.50", 0.9),
	}
	once := Merge(set, set)
	assert.Equal(t, set, once)
	twice := Merge(once, once)
	assert.Equal(t, once, twice)
}

func TestFinalizeDerivesScriptAndThreshold(t *testing.T) {
	regions := []domain.TextRegion{
		region(box(0, 0, 10, 10), " ร้านอาหาร \n", 0.8),
		region(box(0, 0, 10, 10), "low", 0.1),
		region(box(0, 0, 10, 10), "   ", 0.9),
	}
	out := Finalize(regions, 0.3, domain.PassPrimary)
	assert.Len(t, out, 2, "blank region dropped")
	assert.Equal(t, "ร้านอาหาร", out[0].Text)
	assert.Equal(t, domain.ScriptThai, out[0].Script)
	assert.True(t, out[0].AboveThreshold)
	assert.Equal(t, domain.PassPrimary, out[0].Pass)
	assert.False(t, out[1].AboveThreshold)
}
