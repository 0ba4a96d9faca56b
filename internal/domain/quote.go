package domain

// QuoteDisplayLine is one row of a quote rendered for a customer. For
// company customers amounts are exclusive of VAT; for private customers
// they are inclusive.
type QuoteDisplayLine struct {
	Description string
	Quantity    int
	UnitPrice   int64
	Total       int64
	VATRate     int
}

// ComposedQuote is a quote prepared for presentation in one VAT display
// mode. SubtotalExcl, VATAmount and TotalIncl always refer to the same
// underlying order totals regardless of mode.
type ComposedQuote struct {
	Lines        []QuoteDisplayLine
	SubtotalExcl int64
	VATAmount    int64
	TotalIncl    int64
	CustomerType CustomerType
	Locale       string
	Currency     string
	Message      string
}
