package normalize

import "strings"

// Category is the expense category of an ingested document.
type Category string

const (
	CategoryOfficeSupplies       Category = "OFFICE_SUPPLIES"
	CategorySoftware             Category = "SOFTWARE"
	CategoryTelecom              Category = "TELECOM"
	CategoryTravel               Category = "TRAVEL"
	CategoryMeals                Category = "MEALS"
	CategoryTransport            Category = "TRANSPORT"
	CategoryUtilities            Category = "UTILITIES"
	CategoryRent                 Category = "RENT"
	CategoryInsurance            Category = "INSURANCE"
	CategoryProfessionalServices Category = "PROFESSIONAL_SERVICES"
	CategoryMarketing            Category = "MARKETING"
	CategoryTraining             Category = "TRAINING"
	CategoryEquipment            Category = "EQUIPMENT"
	CategoryBankFees             Category = "BANK_FEES"
	CategoryTaxes                Category = "TAXES"
	CategoryOther                Category = "OTHER"
)

var allCategories = []Category{
	CategoryOfficeSupplies, CategorySoftware, CategoryTelecom, CategoryTravel, CategoryMeals,
	CategoryTransport, CategoryUtilities, CategoryRent, CategoryInsurance,
	CategoryProfessionalServices, CategoryMarketing, CategoryTraining, CategoryEquipment,
	CategoryBankFees, CategoryTaxes, CategoryOther,
}

// PaymentMethod is how the document was (or is to be) paid.
type PaymentMethod string

const (
	PaymentCard         PaymentMethod = "CARD"
	PaymentBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentDirectDebit  PaymentMethod = "DIRECT_DEBIT"
	PaymentCheck        PaymentMethod = "CHECK"
	PaymentCash         PaymentMethod = "CASH"
	PaymentPaypal       PaymentMethod = "PAYPAL"
	PaymentUnknown      PaymentMethod = "UNKNOWN"
)

var allPaymentMethods = []PaymentMethod{
	PaymentCard, PaymentBankTransfer, PaymentDirectDebit, PaymentCheck, PaymentCash, PaymentPaypal, PaymentUnknown,
}

type keyword[T any] struct {
	word  string
	value T
}

// Keyword lists are scanned in order, so more specific phrases come first.
var categoryKeywords = []keyword[Category]{
	{"fournitures de bureau", CategoryOfficeSupplies},
	{"office supplies", CategoryOfficeSupplies},
	{"fournitures", CategoryOfficeSupplies},
	{"papeterie", CategoryOfficeSupplies},
	{"stationery", CategoryOfficeSupplies},
	{"logiciel", CategorySoftware},
	{"software", CategorySoftware},
	{"saas", CategorySoftware},
	{"abonnement", CategorySoftware},
	{"subscription", CategorySoftware},
	{"hebergement", CategorySoftware},
	{"hosting", CategorySoftware},
	{"cloud", CategorySoftware},
	{"telecom", CategoryTelecom},
	{"telephone", CategoryTelecom},
	{"phone", CategoryTelecom},
	{"mobile", CategoryTelecom},
	{"internet", CategoryTelecom},
	{"box", CategoryTelecom},
	{"hotel", CategoryTravel},
	{"voyage", CategoryTravel},
	{"travel", CategoryTravel},
	{"deplacement", CategoryTravel},
	{"avion", CategoryTravel},
	{"airline", CategoryTravel},
	{"flight", CategoryTravel},
	{"restaurant", CategoryMeals},
	{"repas", CategoryMeals},
	{"meal", CategoryMeals},
	{"food", CategoryMeals},
	{"taxi", CategoryTransport},
	{"uber", CategoryTransport},
	{"train", CategoryTransport},
	{"sncf", CategoryTransport},
	{"carburant", CategoryTransport},
	{"fuel", CategoryTransport},
	{"parking", CategoryTransport},
	{"peage", CategoryTransport},
	{"transport", CategoryTransport},
	{"electricite", CategoryUtilities},
	{"electricity", CategoryUtilities},
	{"energie", CategoryUtilities},
	{"energy", CategoryUtilities},
	{"gaz", CategoryUtilities},
	{"eau", CategoryUtilities},
	{"water", CategoryUtilities},
	{"utilities", CategoryUtilities},
	{"loyer", CategoryRent},
	{"rent", CategoryRent},
	{"location", CategoryRent},
	{"assurance", CategoryInsurance},
	{"insurance", CategoryInsurance},
	{"mutuelle", CategoryInsurance},
	{"honoraires", CategoryProfessionalServices},
	{"comptable", CategoryProfessionalServices},
	{"accounting", CategoryProfessionalServices},
	{"avocat", CategoryProfessionalServices},
	{"legal", CategoryProfessionalServices},
	{"conseil", CategoryProfessionalServices},
	{"consulting", CategoryProfessionalServices},
	{"prestation", CategoryProfessionalServices},
	{"services", CategoryProfessionalServices},
	{"publicite", CategoryMarketing},
	{"advertising", CategoryMarketing},
	{"marketing", CategoryMarketing},
	{"formation", CategoryTraining},
	{"training", CategoryTraining},
	{"materiel", CategoryEquipment},
	{"equipement", CategoryEquipment},
	{"equipment", CategoryEquipment},
	{"hardware", CategoryEquipment},
	{"ordinateur", CategoryEquipment},
	{"computer", CategoryEquipment},
	{"frais bancaires", CategoryBankFees},
	{"bank fees", CategoryBankFees},
	{"banque", CategoryBankFees},
	{"bank", CategoryBankFees},
	{"impot", CategoryTaxes},
	{"taxe", CategoryTaxes},
	{"tax", CategoryTaxes},
	{"urssaf", CategoryTaxes},
}

var paymentKeywords = []keyword[PaymentMethod]{
	{"carte bancaire", PaymentCard},
	{"carte bleue", PaymentCard},
	{"credit card", PaymentCard},
	{"debit card", PaymentCard},
	{"carte", PaymentCard},
	{"card", PaymentCard},
	{"cb", PaymentCard},
	{"visa", PaymentCard},
	{"mastercard", PaymentCard},
	{"amex", PaymentCard},
	{"prelevement", PaymentDirectDebit},
	{"direct debit", PaymentDirectDebit},
	{"sepa debit", PaymentDirectDebit},
	{"virement", PaymentBankTransfer},
	{"bank transfer", PaymentBankTransfer},
	{"wire", PaymentBankTransfer},
	{"transfer", PaymentBankTransfer},
	{"sepa", PaymentBankTransfer},
	{"cheque", PaymentCheck},
	{"check", PaymentCheck},
	{"especes", PaymentCash},
	{"cash", PaymentCash},
	{"paypal", PaymentPaypal},
}

// MapCategory maps free-form text onto a Category, defaulting to OTHER.
func MapCategory(raw string) Category {
	return mapEnum(raw, allCategories, categoryKeywords, CategoryOther)
}

// MapPaymentMethod maps free-form text onto a PaymentMethod, defaulting to UNKNOWN.
func MapPaymentMethod(raw string) PaymentMethod {
	return mapEnum(raw, allPaymentMethods, paymentKeywords, PaymentUnknown)
}

func mapEnum[T ~string](raw string, all []T, keywords []keyword[T], fallback T) T {
	folded := Fold(raw)
	if folded == "" {
		return fallback
	}
	asConst := strings.ToUpper(strings.ReplaceAll(folded, " ", "_"))
	for _, v := range all {
		if string(v) == asConst {
			return v
		}
	}
	padded := " " + folded + " "
	for _, kw := range keywords {
		if strings.Contains(padded, " "+kw.word+" ") {
			return kw.value
		}
	}
	return fallback
}
