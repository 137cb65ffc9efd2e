package verify

import (
	"regexp"
	"strings"
)

var (
	amountPattern = regexp.MustCompile(`\$\d+(\.\d{2})?`)
	datePattern   = regexp.MustCompile(`\d{2}[/-]\d{2}[/-]\d{4}`)
	billPattern   = regexp.MustCompile(`(?i)Bill No:?\s*([^\n\r]*)`)
)

// transportKeywords are checked in order; the first hit wins.
var transportKeywords = []string{"bus", "train", "metro", "subway", "tram"}

// Receipt holds fields pulled from OCR text of a transit receipt.
type Receipt struct {
	Amount        string
	Date          string
	TransportType string
	BillNumber    string
}

// ParseReceipt extracts receipt fields. Missing fields are left empty,
// except TransportType which falls back to "unknown".
func ParseReceipt(text string) Receipt {
	r := Receipt{
		Amount:        amountPattern.FindString(text),
		Date:          datePattern.FindString(text),
		TransportType: "unknown",
	}
	lower := strings.ToLower(text)
	for _, kw := range transportKeywords {
		if strings.Contains(lower, kw) {
			r.TransportType = kw
			break
		}
	}
	if m := billPattern.FindStringSubmatch(text); m != nil {
		r.BillNumber = strings.TrimSpace(m[1])
	}
	return r
}
