package services

import (
	"errors"
	"testing"

	domain "github.com/apostella/api/internal/domain"
)

func TestComposeCompanyShowsAmountsExVAT(t *testing.T) {
	composer := NewQuoteComposer()

	quote, err := composer.Compose(ComposeQuoteCommand{
		CustomerType: domain.CustomerCompany,
		Locale:       "en",
		LineItems: []domain.QuoteLineItem{
			{Description: "Apostille", Quantity: 2, UnitPrice: 950},
			{Description: "Stamp duty - Official fee", Quantity: 1, UnitPrice: 440},
		},
	})
	if err != nil {
		t.Fatalf("Compose error: %v", err)
	}

	if quote.SubtotalExcl != 2340 {
		t.Fatalf("subtotal = %d, want 2340", quote.SubtotalExcl)
	}
	// VAT only on the apostille line, the official fee is exempt.
	if quote.VATAmount != 475 {
		t.Fatalf("vat = %d, want 475", quote.VATAmount)
	}
	if quote.TotalIncl != 2815 {
		t.Fatalf("total = %d, want 2815", quote.TotalIncl)
	}
	if quote.Lines[0].UnitPrice != 950 || quote.Lines[0].Total != 1900 {
		t.Fatalf("company line shows gross amounts: %+v", quote.Lines[0])
	}
	if quote.Lines[1].VATRate != 0 {
		t.Fatalf("official fee line rate = %d, want 0", quote.Lines[1].VATRate)
	}
}

func TestComposePrivateShowsAmountsIncVAT(t *testing.T) {
	composer := NewQuoteComposer()

	quote, err := composer.Compose(ComposeQuoteCommand{
		CustomerType: domain.CustomerPrivate,
		Locale:       "sv",
		LineItems: []domain.QuoteLineItem{
			{Description: "Apostille", Quantity: 2, UnitPrice: 950},
		},
	})
	if err != nil {
		t.Fatalf("Compose error: %v", err)
	}

	if quote.Lines[0].UnitPrice != 1188 {
		t.Fatalf("unit inc VAT = %d, want 1188", quote.Lines[0].UnitPrice)
	}
	if quote.Lines[0].Total != 2375 {
		t.Fatalf("line total inc VAT = %d, want 2375", quote.Lines[0].Total)
	}
	if quote.TotalIncl != 2375 {
		t.Fatalf("total = %d, want 2375", quote.TotalIncl)
	}
}

// Both display modes must derive from the same exclusive amounts, so the
// private total always equals the company subtotal plus VAT.
func TestComposeDisplayModesAgreeOnTotal(t *testing.T) {
	composer := NewQuoteComposer()
	items := []domain.QuoteLineItem{
		{Description: "Apostille", Quantity: 3, UnitPrice: 317},
		{Description: "Notary stamp - Official fee", Quantity: 1, UnitPrice: 440},
		{Description: "Express processing", Quantity: 1, UnitPrice: 500},
	}

	company, err := composer.Compose(ComposeQuoteCommand{CustomerType: domain.CustomerCompany, LineItems: items})
	if err != nil {
		t.Fatalf("company Compose error: %v", err)
	}
	private, err := composer.Compose(ComposeQuoteCommand{CustomerType: domain.CustomerPrivate, LineItems: items})
	if err != nil {
		t.Fatalf("private Compose error: %v", err)
	}

	if company.TotalIncl != private.TotalIncl {
		t.Fatalf("totals diverge: company %d, private %d", company.TotalIncl, private.TotalIncl)
	}
	if private.TotalIncl != company.SubtotalExcl+company.VATAmount {
		t.Fatalf("total %d != subtotal %d + vat %d", private.TotalIncl, company.SubtotalExcl, company.VATAmount)
	}
}

func TestComposeDerivesMissingAmounts(t *testing.T) {
	composer := NewQuoteComposer()

	quote, err := composer.Compose(ComposeQuoteCommand{
		CustomerType: domain.CustomerCompany,
		LineItems: []domain.QuoteLineItem{
			{Description: "Apostille", Quantity: 2, Total: 1900},
		},
	})
	if err != nil {
		t.Fatalf("Compose error: %v", err)
	}
	if quote.Lines[0].UnitPrice != 950 {
		t.Fatalf("derived unit = %d, want 950", quote.Lines[0].UnitPrice)
	}

	if _, err := composer.Compose(ComposeQuoteCommand{
		LineItems: []domain.QuoteLineItem{{Description: "Apostille", UnitPrice: -10}},
	}); !errors.Is(err, ErrQuoteInvalidInput) {
		t.Fatalf("negative amount err = %v, want ErrQuoteInvalidInput", err)
	}
	if _, err := composer.Compose(ComposeQuoteCommand{}); !errors.Is(err, ErrQuoteInvalidInput) {
		t.Fatalf("empty line items err = %v, want ErrQuoteInvalidInput", err)
	}
}

func TestComposeTranslation(t *testing.T) {
	composer := NewQuoteComposer()

	cases := []struct {
		name   string
		locale string
		in     string
		want   string
	}{
		{name: "table hit to swedish", locale: "sv", in: "Embassy legalization", want: "Ambassadlegalisering"},
		{name: "table hit to english", locale: "en", in: "Notarisering", want: "Notarization"},
		{name: "service fee pattern", locale: "sv", in: "Apostella service fee (Apostille)", want: "Apostella serviceavgift (Apostille)"},
		{name: "official fee pattern", locale: "en", in: "Handelskammarens certifiering - Officiell avgift", want: "Chamber of Commerce certification - Official fee"},
		{name: "unknown passes through", locale: "sv", in: "Custom handling", want: "Custom handling"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			quote, err := composer.Compose(ComposeQuoteCommand{
				Locale:    tc.locale,
				LineItems: []domain.QuoteLineItem{{Description: tc.in, UnitPrice: 100}},
			})
			if err != nil {
				t.Fatalf("Compose error: %v", err)
			}
			if got := quote.Lines[0].Description; got != tc.want {
				t.Fatalf("translate(%q, %s) = %q, want %q", tc.in, tc.locale, got, tc.want)
			}
		})
	}
}

func TestComposeLocaleNegotiation(t *testing.T) {
	composer := NewQuoteComposer()
	items := []domain.QuoteLineItem{{Description: "Apostille", UnitPrice: 100}}

	cases := []struct {
		locale string
		want   string
	}{
		{locale: "en-GB", want: "en"},
		{locale: "en", want: "en"},
		{locale: "sv-SE", want: "sv"},
		{locale: "", want: "sv"},
		{locale: "not-a-locale!", want: "sv"},
		{locale: "de", want: "sv"},
	}
	for _, tc := range cases {
		quote, err := composer.Compose(ComposeQuoteCommand{Locale: tc.locale, LineItems: items})
		if err != nil {
			t.Fatalf("Compose(%q) error: %v", tc.locale, err)
		}
		if quote.Locale != tc.want {
			t.Fatalf("locale %q negotiated to %q, want %q", tc.locale, quote.Locale, tc.want)
		}
	}
}

func TestComposeSanitizesMessage(t *testing.T) {
	composer := NewQuoteComposer()

	quote, err := composer.Compose(ComposeQuoteCommand{
		Message:   `Tack! <script>alert("x")</script> <b>Vi återkommer.</b>`,
		LineItems: []domain.QuoteLineItem{{Description: "Apostille", UnitPrice: 100}},
	})
	if err != nil {
		t.Fatalf("Compose error: %v", err)
	}
	if quote.Message != "Tack!  Vi återkommer." {
		t.Fatalf("sanitized message = %q", quote.Message)
	}
}
