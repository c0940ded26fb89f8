// Package extract turns recognized text regions into structured invoice
// fields. Every field has a prioritized pattern table; the first match on
// the highest-ranked pattern wins and its rank scales the confidence.
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/siwakornc/invoice-ocr-service/internal/domain"
	"github.com/siwakornc/invoice-ocr-service/pkg/textx"
)

// rankedPattern pairs a compiled regexp with its priority; rank 0 is the
// most trusted pattern of its table.
type rankedPattern struct {
	re   *regexp.Regexp
	rank int
}

var (
	vendorThaiPrefix = regexp.MustCompile(`^(?:ร้าน|บริษัท|ห้างหุ้นส่วน|ห้าง|ผู้ขาย)`)
	vendorLatin      = regexp.MustCompile(`(?i)\b(?:Company|Corporation|Corp\.?|Incorporated|Inc\.?|Limited|Ltd\.?|LLC|LLP|Co\.,?\s*Ltd\.?)\b`)

	// Keywords that disqualify a region from the vendor fallback.
	vendorStopWords = regexp.MustCompile(`(?i)invoice|receipt|total|date|tax|vat|รวม|ใบเสร็จ|ใบกำกับ|วันที่|ภาษี|เลขที่`)

	invoiceNumberPatterns = []rankedPattern{
		{regexp.MustCompile(`(?:เลขที่|หมายเลข)\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/]{2,19})`), 0},
		{regexp.MustCompile(`\b(INV[-/]?[0-9][A-Z0-9\-/]{0,16})\b`), 1},
		{regexp.MustCompile(`(?i)(?:No\.?|#)\s*([A-Z0-9][A-Z0-9\-/]{2,19})`), 2},
	}

	thaiMonthsFull = `มกราคม|กุมภาพันธ์|มีนาคม|เมษายน|พฤษภาคม|มิถุนายน|กรกฎาคม|สิงหาคม|กันยายน|ตุลาคม|พฤศจิกายน|ธันวาคม`
	thaiMonthsAbbr = `ม\.ค\.|ก\.พ\.|มี\.ค\.|เม\.ย\.|พ\.ค\.|มิ\.ย\.|ก\.ค\.|ส\.ค\.|ก\.ย\.|ต\.ค\.|พ\.ย\.|ธ\.ค\.`
	enMonths       = `(?i:January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Oct|Nov|Dec)`

	datePatterns = []rankedPattern{
		{regexp.MustCompile(`(\d{1,2}\s*(?:` + thaiMonthsFull + `)\s*\d{2,4})`), 0},
		{regexp.MustCompile(`(\d{1,2}\s*(?:` + thaiMonthsAbbr + `)\s*\d{2,4})`), 1},
		{regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/\d{2,4})\b`), 2},
		{regexp.MustCompile(`\b(\d{1,2}-\d{1,2}-\d{2,4})\b`), 3},
		{regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`), 4},
		{regexp.MustCompile(`\b(\d{1,2}\s*` + enMonths + `\s*,?\s*\d{2,4})\b`), 5},
		{regexp.MustCompile(`\b(` + enMonths + `\s*\d{1,2}\s*,?\s*\d{2,4})\b`), 6},
	}

	amountToken = `((?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d{1,2})?)`

	amountPatterns = []rankedPattern{
		{regexp.MustCompile(`รวมทั้งสิ้น\D{0,10}` + amountToken), 0},
		{regexp.MustCompile(`ยอดสุทธิ\D{0,10}` + amountToken), 1},
		{regexp.MustCompile(`ราคารวม\D{0,10}` + amountToken), 2},
		{regexp.MustCompile(`รวม\D{0,10}` + amountToken), 3},
		{regexp.MustCompile(`ทั้งหมด\D{0,10}` + amountToken), 4},
		{regexp.MustCompile(`เป็นเงิน\D{0,10}` + amountToken), 5},
		{regexp.MustCompile(`(?i)(?:grand\s+)?total\D{0,10}` + amountToken), 6},
		{regexp.MustCompile(`฿\s*` + amountToken), 7},
		{regexp.MustCompile(amountToken + `\s*(?:บาท|฿|THB)`), 7},
		{regexp.MustCompile(`\b` + amountToken + `\b`), 9},
	}

	lineItemAmount = regexp.MustCompile(amountToken + `\s*(?:บาท|฿|THB)?\s*$`)
)

// Fields extracts the four scalar fields and the line items from the
// region list. Absent fields come back with a nil value and zero
// confidence, never a missing entry.
func Fields(regions []domain.TextRegion) domain.InvoiceFields {
	usable := make([]domain.TextRegion, 0, len(regions))
	for _, r := range regions {
		if r.AboveThreshold && r.Text != "" {
			usable = append(usable, r)
		}
	}
	return domain.InvoiceFields{
		Vendor:        vendor(usable),
		InvoiceNumber: invoiceNumber(usable),
		Date:          date(usable),
		TotalAmount:   totalAmount(usable),
		LineItems:     lineItems(usable),
	}
}

func scaled(conf float64, rank int, step float64) float64 {
	c := conf * (1 - step*float64(rank))
	return clamp01(c)
}

func clamp01(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func found(value string, conf float64) domain.Field {
	v := strings.TrimSpace(value)
	return domain.Field{Value: &v, Confidence: clamp01(conf), Found: true}
}

func absent() domain.Field {
	return domain.Field{Value: nil, Confidence: 0}
}

// vendor: Thai prefixes and Latin company suffixes first; then the best
// short non-keyword region among the first three detected; finally the
// region maximizing length × confidence at a steep discount.
func vendor(regions []domain.TextRegion) domain.Field {
	for _, r := range regions {
		if vendorThaiPrefix.MatchString(r.Text) {
			return found(r.Text, scaled(r.Confidence, 0, 0.05))
		}
	}
	for _, r := range regions {
		if vendorLatin.MatchString(r.Text) {
			return found(r.Text, scaled(r.Confidence, 1, 0.05))
		}
	}

	// Fallback: highest-confidence short non-keyword region near the top.
	head := regions
	if len(head) > 3 {
		head = head[:3]
	}
	best := -1
	for i, r := range head {
		if len([]rune(r.Text)) > 40 || vendorStopWords.MatchString(r.Text) || !hasLetter(r.Text) {
			continue
		}
		if best < 0 || r.Confidence > head[best].Confidence {
			best = i
		}
	}
	if best >= 0 {
		return found(head[best].Text, head[best].Confidence*0.4)
	}

	// Desperate fallback: longest×strongest region anywhere.
	bestScore := 0.0
	var pick *domain.TextRegion
	for i, r := range regions {
		if !hasLetter(r.Text) {
			continue
		}
		s := float64(len([]rune(r.Text))) * r.Confidence
		if s > bestScore {
			bestScore = s
			pick = &regions[i]
		}
	}
	if pick != nil {
		return found(pick.Text, pick.Confidence*0.3)
	}
	return absent()
}

func hasLetter(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || textx.IsThai(r) && !textx.IsThaiDigit(r) {
			return true
		}
	}
	return false
}

func invoiceNumber(regions []domain.TextRegion) domain.Field {
	bestRank := len(invoiceNumberPatterns)
	var out domain.Field
	for _, r := range regions {
		for _, p := range invoiceNumberPatterns {
			if p.rank >= bestRank {
				continue
			}
			if m := p.re.FindStringSubmatch(r.Text); m != nil {
				out = found(m[1], scaled(r.Confidence, p.rank, 0.05))
				bestRank = p.rank
			}
		}
	}
	if !out.Found {
		return absent()
	}
	return out
}

func date(regions []domain.TextRegion) domain.Field {
	bestRank := len(datePatterns)
	var out domain.Field
	for _, r := range regions {
		for _, p := range datePatterns {
			if p.rank >= bestRank {
				continue
			}
			if m := p.re.FindStringSubmatch(r.Text); m != nil {
				out = found(normalizeBuddhistYear(m[1]), scaled(r.Confidence, p.rank, 0.1))
				bestRank = p.rank
			}
		}
	}
	if !out.Found {
		return absent()
	}
	return out
}

var yearRe = regexp.MustCompile(`\b(2[45]\d{2})\b`)

// normalizeBuddhistYear rewrites Buddhist-era years (543 ahead of the
// Gregorian calendar) so stored dates are uniformly Gregorian.
func normalizeBuddhistYear(s string) string {
	return yearRe.ReplaceAllStringFunc(s, func(y string) string {
		n, err := strconv.Atoi(y)
		if err != nil {
			return y
		}
		g := n - 543
		if g >= 1900 && g <= 2200 {
			return strconv.Itoa(g)
		}
		return y
	})
}

func parseAmount(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	if v <= 0 || v > domain.MaxLineItemAmount {
		return 0, false
	}
	return v, true
}

// totalAmount ranks label matches across all regions; ties break on
// score = confidence × (1 − 0.05·rank).
func totalAmount(regions []domain.TextRegion) domain.AmountField {
	bestScore := -1.0
	var bestVal float64
	for _, r := range regions {
		for _, p := range amountPatterns {
			m := p.re.FindStringSubmatch(r.Text)
			if m == nil {
				continue
			}
			v, ok := parseAmount(m[1])
			if !ok {
				continue
			}
			score := scaled(r.Confidence, p.rank, 0.05)
			if score > bestScore {
				bestScore = score
				bestVal = v
			}
		}
	}
	if bestScore < 0 {
		return domain.AmountField{Value: nil, Confidence: 0}
	}
	v := bestVal
	return domain.AmountField{Value: &v, Confidence: clamp01(bestScore), Found: true}
}

// lineItems emits one entry per region carrying a trailing amount token
// with confidence ≥ 0.6; the description is the text with the amount
// stripped. Output clamps at MaxLineItems.
func lineItems(regions []domain.TextRegion) []domain.LineItem {
	items := make([]domain.LineItem, 0, domain.MaxLineItems)
	for _, r := range regions {
		if r.Confidence < 0.6 {
			continue
		}
		m := lineItemAmount.FindStringSubmatchIndex(r.Text)
		if m == nil {
			continue
		}
		amount, ok := parseAmount(r.Text[m[2]:m[3]])
		if !ok {
			continue
		}
		desc := strings.TrimSpace(r.Text[:m[0]])
		if desc == "" {
			continue
		}
		items = append(items, domain.LineItem{
			Description: desc,
			Amount:      amount,
			Confidence:  r.Confidence,
		})
		if len(items) == domain.MaxLineItems {
			break
		}
	}
	return items
}
