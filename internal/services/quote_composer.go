package services

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/language"

	domain "github.com/apostella/api/internal/domain"
)

// ErrQuoteInvalidInput signals malformed quote line items.
var ErrQuoteInvalidInput = errors.New("quote: invalid input")

const (
	localeSwedish = "sv"
	localeEnglish = "en"
)

// descriptionTable maps known line descriptions English to Swedish. The
// reverse direction is derived from it.
var descriptionTable = map[string]string{
	"Apostille":                         "Apostille",
	"Notarization":                      "Notarisering",
	"Embassy legalization":              "Ambassadlegalisering",
	"UD legalization":                   "UD-legalisering",
	"Chamber of Commerce certification": "Handelskammarens certifiering",
	"Certified translation":             "Auktoriserad översättning",
	"Express processing":                "Expresshantering",
	"Document pickup":                   "Dokumenthämtning",
	"Return shipping":                   "Returfrakt",
	"Scanned copies":                    "Skannade kopior",
	"Official fee":                      "Officiell avgift",
	"Service fee":                       "Serviceavgift",
}

var (
	serviceFeePatternEN  = regexp.MustCompile(`^Apostella service fee \((.+)\)$`)
	serviceFeePatternSV  = regexp.MustCompile(`^Apostella serviceavgift \((.+)\)$`)
	officialFeePatternEN = regexp.MustCompile(`^(.+) - Official fee$`)
	officialFeePatternSV = regexp.MustCompile(`^(.+) - Officiell avgift$`)
)

// QuoteComposer renders a priced order into a customer-facing quote: line
// descriptions translated best-effort to the target locale, amounts shown
// per the customer type's VAT display mode, free text sanitized.
type QuoteComposer struct {
	sanitizer *bluemonday.Policy
	matcher   language.Matcher
	reverse   map[string]string
}

// NewQuoteComposer constructs a composer supporting Swedish and English.
func NewQuoteComposer() *QuoteComposer {
	reverse := make(map[string]string, len(descriptionTable))
	for en, sv := range descriptionTable {
		reverse[sv] = en
	}
	return &QuoteComposer{
		sanitizer: bluemonday.StrictPolicy(),
		matcher:   language.NewMatcher([]language.Tag{language.Swedish, language.English}),
		reverse:   reverse,
	}
}

// ComposeQuoteCommand carries the inputs for Compose.
type ComposeQuoteCommand struct {
	LineItems    []domain.QuoteLineItem
	CustomerType domain.CustomerType
	Locale       string
	Message      string
	Currency     string
}

// Compose builds the quote in the display mode for the customer type.
// Company quotes list amounts exclusive of VAT with VAT broken out;
// private quotes list amounts inclusive per line. Both modes derive from
// the same exclusive totals, so the private inclusive total always equals
// the company exclusive subtotal plus VAT.
func (c *QuoteComposer) Compose(cmd ComposeQuoteCommand) (domain.ComposedQuote, error) {
	if len(cmd.LineItems) == 0 {
		return domain.ComposedQuote{}, fmt.Errorf("%w: at least one line item is required", ErrQuoteInvalidInput)
	}
	customerType := cmd.CustomerType
	if customerType == "" {
		customerType = domain.CustomerPrivate
	}
	if customerType != domain.CustomerPrivate && customerType != domain.CustomerCompany {
		return domain.ComposedQuote{}, fmt.Errorf("%w: unknown customer type %q", ErrQuoteInvalidInput, cmd.CustomerType)
	}
	locale := c.negotiateLocale(cmd.Locale)
	currency := strings.TrimSpace(cmd.Currency)
	if currency == "" {
		currency = defaultCurrency
	}

	quote := domain.ComposedQuote{
		CustomerType: customerType,
		Locale:       locale,
		Currency:     currency,
		Message:      strings.TrimSpace(c.sanitizer.Sanitize(cmd.Message)),
	}

	for idx, item := range cmd.LineItems {
		quantity := item.Quantity
		if quantity < 1 {
			quantity = 1
		}
		unitExcl := item.UnitPrice
		totalExcl := item.Total
		if totalExcl == 0 && unitExcl != 0 {
			totalExcl = unitExcl * int64(quantity)
		}
		if unitExcl == 0 && totalExcl != 0 {
			unitExcl = totalExcl / int64(quantity)
		}
		if totalExcl < 0 || unitExcl < 0 {
			return domain.ComposedQuote{}, fmt.Errorf("%w: negative amount on line %d", ErrQuoteInvalidInput, idx)
		}

		rate := vatRateFor(item.Description)
		lineVAT := vatOf(totalExcl, rate)
		quote.SubtotalExcl += totalExcl
		quote.VATAmount += lineVAT

		line := domain.QuoteDisplayLine{
			Description: c.translate(item.Description, locale),
			Quantity:    quantity,
			VATRate:     rate,
		}
		if customerType == domain.CustomerCompany {
			line.UnitPrice = unitExcl
			line.Total = totalExcl
		} else {
			line.UnitPrice = unitExcl + vatOf(unitExcl, rate)
			line.Total = totalExcl + lineVAT
		}
		quote.Lines = append(quote.Lines, line)
	}

	quote.TotalIncl = quote.SubtotalExcl + quote.VATAmount
	return quote, nil
}

func (c *QuoteComposer) negotiateLocale(locale string) string {
	trimmed := strings.TrimSpace(locale)
	if trimmed == "" {
		return localeSwedish
	}
	tag, err := language.Parse(trimmed)
	if err != nil {
		return localeSwedish
	}
	_, index, _ := c.matcher.Match(tag)
	if index == 1 {
		return localeEnglish
	}
	return localeSwedish
}

// translate maps a description into the target locale via the fixed table
// and the templated service fee and official fee patterns. Unmatched
// descriptions pass through unchanged.
func (c *QuoteComposer) translate(description string, locale string) string {
	desc := strings.TrimSpace(description)
	if desc == "" {
		return desc
	}

	table := descriptionTable
	feeSource, feeTarget := serviceFeePatternEN, "Apostella serviceavgift (%s)"
	officialSource, officialTarget := officialFeePatternEN, "%s - Officiell avgift"
	if locale == localeEnglish {
		table = c.reverse
		feeSource, feeTarget = serviceFeePatternSV, "Apostella service fee (%s)"
		officialSource, officialTarget = officialFeePatternSV, "%s - Official fee"
	}

	if translated, ok := table[desc]; ok {
		return translated
	}
	if match := feeSource.FindStringSubmatch(desc); match != nil {
		inner := match[1]
		if translated, ok := table[inner]; ok {
			inner = translated
		}
		return fmt.Sprintf(feeTarget, inner)
	}
	if match := officialSource.FindStringSubmatch(desc); match != nil {
		inner := match[1]
		if translated, ok := table[inner]; ok {
			inner = translated
		}
		return fmt.Sprintf(officialTarget, inner)
	}
	return desc
}

// vatRateFor derives the line's VAT rate from its description: official
// fees pass through government charges and are VAT-exempt, everything else
// carries the standard rate.
func vatRateFor(description string) int {
	desc := strings.TrimSpace(description)
	if officialFeePatternEN.MatchString(desc) || officialFeePatternSV.MatchString(desc) {
		return 0
	}
	lowered := strings.ToLower(desc)
	if strings.HasPrefix(lowered, "official fee") || strings.HasPrefix(lowered, "officiell avgift") {
		return 0
	}
	return standardVATRate
}

// vatOf rounds half up to whole currency units.
func vatOf(amount int64, rate int) int64 {
	if rate == 0 || amount == 0 {
		return 0
	}
	return (amount*int64(rate) + 50) / 100
}
