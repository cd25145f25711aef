package square

import (
	"fmt"
	"strconv"
	"strings"
)

// The note field is the out-of-band channel through the gateway: it rides on
// the charge, comes back verbatim on webhook events, and lets the reconciler
// recover the internal payment when the direct mapping write was lost.
//
// Format: "payment_id:<id> wallet:<addr> risk:<strategy> amount:<usd>"

const noteMaxLen = 500

// NoteFields is the structured content of a charge note.
type NoteFields struct {
	PaymentID     string
	WalletAddress string
	Strategy      string
	AmountUSD     float64
}

// BuildNote encodes the fields into the charge note string. Values are
// sanitized: the format is space-delimited, so embedded whitespace would
// corrupt parsing on the way back.
func BuildNote(f NoteFields) string {
	note := fmt.Sprintf("payment_id:%s wallet:%s risk:%s amount:%s",
		sanitizeNoteValue(f.PaymentID),
		sanitizeNoteValue(f.WalletAddress),
		sanitizeNoteValue(f.Strategy),
		strconv.FormatFloat(f.AmountUSD, 'f', -1, 64),
	)
	if len(note) > noteMaxLen {
		note = note[:noteMaxLen]
	}
	return note
}

// ParseNote decodes a webhook note back into its fields. Unknown tokens are
// ignored so the format can grow without breaking old parsers. Returns false
// if no payment id is present.
func ParseNote(note string) (NoteFields, bool) {
	var f NoteFields
	for _, token := range strings.Fields(note) {
		key, value, ok := strings.Cut(token, ":")
		if !ok || value == "" {
			continue
		}
		switch key {
		case "payment_id":
			f.PaymentID = value
		case "wallet":
			f.WalletAddress = value
		case "risk":
			f.Strategy = value
		case "amount":
			if amt, err := strconv.ParseFloat(value, 64); err == nil {
				f.AmountUSD = amt
			}
		}
	}
	return f, f.PaymentID != ""
}

func sanitizeNoteValue(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.' || r == '@':
			return r
		}
		return -1
	}, s)
}
