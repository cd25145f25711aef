package square

import (
	"strings"
	"testing"
)

func TestNoteRoundTrip(t *testing.T) {
	in := NoteFields{
		PaymentID:     "pay_01J8ZT9",
		WalletAddress: "0xAbCd000000000000000000000000000000001234",
		Strategy:      "leveraged",
		AmountUSD:     250.50,
	}

	note := BuildNote(in)
	out, ok := ParseNote(note)
	if !ok {
		t.Fatalf("ParseNote(%q) not ok", note)
	}
	if out.PaymentID != in.PaymentID {
		t.Errorf("PaymentID = %q, want %q", out.PaymentID, in.PaymentID)
	}
	if out.WalletAddress != in.WalletAddress {
		t.Errorf("WalletAddress = %q, want %q", out.WalletAddress, in.WalletAddress)
	}
	if out.Strategy != in.Strategy {
		t.Errorf("Strategy = %q, want %q", out.Strategy, in.Strategy)
	}
	if out.AmountUSD != in.AmountUSD {
		t.Errorf("AmountUSD = %v, want %v", out.AmountUSD, in.AmountUSD)
	}
}

func TestBuildNoteSanitizes(t *testing.T) {
	note := BuildNote(NoteFields{
		PaymentID:     "pay 01\nid",
		WalletAddress: "0x1234",
		Strategy:      "conservative",
		AmountUSD:     10,
	})
	if strings.Contains(note, "\n") {
		t.Errorf("note contains newline: %q", note)
	}
	f, ok := ParseNote(note)
	if !ok {
		t.Fatalf("ParseNote(%q) not ok", note)
	}
	if f.PaymentID != "pay01id" {
		t.Errorf("PaymentID = %q, want sanitized %q", f.PaymentID, "pay01id")
	}
}

func TestParseNote(t *testing.T) {
	tests := []struct {
		name   string
		note   string
		wantOK bool
		wantID string
	}{
		{"full", "payment_id:abc wallet:0x1 risk:conservative amount:100", true, "abc"},
		{"id only", "payment_id:abc", true, "abc"},
		{"unknown tokens ignored", "foo:bar payment_id:abc baz", true, "abc"},
		{"missing id", "wallet:0x1 risk:leveraged", false, ""},
		{"empty", "", false, ""},
		{"free text", "thanks for your purchase", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := ParseNote(tt.note)
			if ok != tt.wantOK {
				t.Fatalf("ParseNote(%q) ok = %v, want %v", tt.note, ok, tt.wantOK)
			}
			if f.PaymentID != tt.wantID {
				t.Errorf("PaymentID = %q, want %q", f.PaymentID, tt.wantID)
			}
		})
	}
}
