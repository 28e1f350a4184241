// Package normalize turns loosely-typed vision model output into canonical document fields.
// Everything here is pure: the same input always yields the same Fields.
package normalize

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"mail-ingest/internal/documents"
)

const (
	DefaultCurrency = "EUR"
	DefaultCountry  = "France"
)

// Fields is the canonical shape extracted from one document.
type Fields struct {
	Type           documents.DocumentType
	Counterparty   documents.Counterparty
	DocumentNumber string
	IssueDate      *time.Time
	DueDate        *time.Time
	LineItems      []documents.LineItem
	TotalPreTax    float64
	TotalTax       float64
	Total          float64
	Currency       string
	PaymentMethod  PaymentMethod
	Category       Category
	Confidence     float64
}

var (
	numberKeys    = []string{"invoiceNumber", "documentNumber", "number", "numero", "reference", "quoteNumber"}
	issueDateKeys = []string{"invoiceDate", "issueDate", "documentDate", "date", "dateFacture"}
	dueDateKeys   = []string{"dueDate", "echeance", "dateEcheance", "paymentDueDate"}
	totalKeys     = []string{"totalTTC", "total", "totalAmount", "totalInclTax", "amountDue", "amount"}
	preTaxKeys    = []string{"totalHT", "subtotal", "totalExclTax", "netAmount", "preTaxTotal"}
	taxKeys       = []string{"totalTVA", "totalTax", "taxAmount", "vatAmount", "tax", "tva"}
)

// Normalize maps a raw extraction onto Fields. Unknown enums fall back to OTHER and
// UNKNOWN, unreadable dates to nil, missing amounts to 0, and totals are made
// non-negative. A missing total is derived from the line items.
func Normalize(raw map[string]any) Fields {
	root := index(raw)
	totals := index(asMap(root.get("totals")))

	f := Fields{
		Type:           documentType(root.str("documentType", "type")),
		Counterparty:   counterparty(root),
		DocumentNumber: strings.TrimSpace(root.str(numberKeys...)),
		IssueDate:      ParseDate(root.str(issueDateKeys...)),
		DueDate:        ParseDate(root.str(dueDateKeys...)),
		LineItems:      lineItems(root.get("lineItems", "items", "lines")),
		Currency:       currency(root.str("currency", "devise")),
		PaymentMethod:  MapPaymentMethod(root.str("paymentMethod", "paymentMode", "modePaiement")),
		Category:       MapCategory(root.str("category", "categorie", "expenseCategory")),
		Confidence:     confidence(root.get("confidence")),
	}

	f.Total = amount(totals, root, totalKeys)
	f.TotalPreTax = amount(totals, root, preTaxKeys)
	f.TotalTax = amount(totals, root, taxKeys)
	if f.TotalTax == 0 {
		f.TotalTax = taxFromBreakdown(root.get("taxBreakdown", "vatBreakdown"))
	}
	deriveTotals(&f)
	return f
}

func deriveTotals(f *Fields) {
	if f.Total == 0 && len(f.LineItems) > 0 {
		var preTax, tax float64
		for _, item := range f.LineItems {
			preTax += item.Total
			tax += item.Total * item.TaxRate / 100
		}
		if f.TotalPreTax == 0 {
			f.TotalPreTax = round2(preTax)
		}
		if f.TotalTax == 0 {
			f.TotalTax = round2(tax)
		}
		f.Total = round2(f.TotalPreTax + f.TotalTax)
	}
	if f.Total == 0 && f.TotalPreTax > 0 {
		f.Total = round2(f.TotalPreTax + f.TotalTax)
	}
	if f.TotalPreTax == 0 && f.Total > 0 && f.TotalTax > 0 && f.TotalTax < f.Total {
		f.TotalPreTax = round2(f.Total - f.TotalTax)
	}
}

func documentType(raw string) documents.DocumentType {
	switch Fold(raw) {
	case "quote", "devis", "estimate", "proforma", "pro forma", "quotation":
		return documents.TypeQuote
	}
	return documents.TypeInvoice
}

func counterparty(root fieldIndex) documents.Counterparty {
	src := index(asMap(root.get("vendor", "supplier", "fournisseur", "seller")))
	name := src.str("name", "companyName", "raisonSociale")
	if name == "" {
		name = root.str("vendorName", "supplierName")
	}
	country := strings.TrimSpace(src.str("country", "pays"))
	if country == "" {
		country = DefaultCountry
	}
	return documents.Counterparty{
		Name:       strings.TrimSpace(name),
		Address:    strings.TrimSpace(src.str("address", "street", "adresse")),
		City:       strings.TrimSpace(src.str("city", "ville")),
		PostalCode: strings.TrimSpace(src.str("postalCode", "zipCode", "codePostal")),
		Country:    country,
		TaxID:      strings.TrimSpace(src.str("siret", "siren", "taxId", "registrationNumber")),
		VATNumber:  strings.TrimSpace(src.str("vatNumber", "tvaIntracom", "numeroTVA")),
	}
}

func lineItems(v any) []documents.LineItem {
	list, ok := v.([]any)
	if !ok {
		return []documents.LineItem{}
	}
	out := make([]documents.LineItem, 0, len(list))
	for _, entry := range list {
		item := index(asMap(entry))
		if len(item) == 0 {
			continue
		}
		qty, ok := ParseAmount(item.get("quantity", "qty", "quantite"))
		if !ok || qty == 0 {
			qty = 1
		}
		unit, _ := ParseAmount(item.get("unitPrice", "price", "prixUnitaire", "unitPriceHT"))
		rate, _ := ParseAmount(item.get("vatRate", "taxRate", "tva", "tauxTVA"))
		total, ok := ParseAmount(item.get("total", "amount", "lineTotal", "totalHT"))
		if !ok {
			total = qty * unit
		}
		out = append(out, documents.LineItem{
			Description: strings.TrimSpace(item.str("description", "label", "designation", "name")),
			Quantity:    math.Abs(qty),
			UnitPrice:   round2(math.Abs(unit)),
			TaxRate:     percent(rate),
			Total:       round2(math.Abs(total)),
		})
	}
	return out
}

func taxFromBreakdown(v any) float64 {
	list, ok := v.([]any)
	if !ok {
		return 0
	}
	var sum float64
	for _, entry := range list {
		row := index(asMap(entry))
		if a, ok := ParseAmount(row.get("amount", "taxAmount", "montant")); ok {
			sum += math.Abs(a)
		}
	}
	return round2(sum)
}

func amount(primary, fallback fieldIndex, keys []string) float64 {
	for _, idx := range []fieldIndex{primary, fallback} {
		v := idx.get(keys...)
		if v == nil {
			continue
		}
		if _, nested := v.(map[string]any); nested {
			continue
		}
		if f, ok := ParseAmount(v); ok {
			return round2(math.Abs(f))
		}
	}
	return 0
}

// percent turns a fractional rate (0.2) into percent (20).
func percent(rate float64) float64 {
	rate = math.Abs(rate)
	if rate > 0 && rate < 1 {
		rate *= 100
	}
	return round2(rate)
}

func confidence(v any) float64 {
	c, ok := ParseAmount(v)
	if !ok {
		return 0
	}
	if c > 1 && c <= 100 {
		c /= 100
	}
	return math.Max(0, math.Min(1, c))
}

var currencySymbols = map[string]string{
	"€": "EUR", "$": "USD", "£": "GBP", "chf": "CHF",
	"euro": "EUR", "euros": "EUR", "dollar": "USD", "dollars": "USD", "livre": "GBP",
}

func currency(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return DefaultCurrency
	}
	if code, ok := currencySymbols[s]; ok {
		return code
	}
	folded := Fold(s)
	if code, ok := currencySymbols[folded]; ok {
		return code
	}
	upper := strings.ToUpper(folded)
	if len(upper) == 3 && strings.Trim(upper, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") == "" {
		return upper
	}
	return DefaultCurrency
}

// fieldIndex is a raw JSON object keyed by folded field name.
type fieldIndex map[string]any

func index(m map[string]any) fieldIndex {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	idx := make(fieldIndex, len(m))
	for _, k := range keys {
		fk := fieldKey(k)
		if _, taken := idx[fk]; !taken {
			idx[fk] = m[k]
		}
	}
	return idx
}

func (idx fieldIndex) get(keys ...string) any {
	for _, k := range keys {
		if v, ok := idx[fieldKey(k)]; ok && v != nil {
			return v
		}
	}
	return nil
}

func (idx fieldIndex) str(keys ...string) string {
	for _, k := range keys {
		switch v := idx[fieldKey(k)].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
