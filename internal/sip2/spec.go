package sip2

// Code is a two-character SIP2 message identifier.
type Code string

const (
	CodeSCStatus         Code = "99"
	CodeACSStatus        Code = "98"
	CodeLogin            Code = "93"
	CodeLoginResp        Code = "94"
	CodeItemInfo         Code = "17"
	CodeItemInfoResp     Code = "18"
	CodePatronStatus     Code = "23"
	CodePatronStatusResp Code = "24"
	CodePatronInfo       Code = "63"
	CodePatronInfoResp   Code = "64"
	CodeFeePaid          Code = "37"
	CodeFeePaidResp      Code = "38"
	CodeRequestACSResend Code = "97"
	CodeRequestSCResend  Code = "96"
)

// ProtocolVersion is reported in ACS status responses.
const ProtocolVersion = "2.00"

// FixedFieldSpec describes one positional fixed-width field.
type FixedFieldSpec struct {
	Label  string
	Length int
}

var (
	FFDate              = &FixedFieldSpec{Label: "transaction date", Length: 18}
	FFOK                = &FixedFieldSpec{Label: "ok", Length: 1}
	FFUIDAlgo           = &FixedFieldSpec{Label: "uid algorithm", Length: 1}
	FFPWDAlgo           = &FixedFieldSpec{Label: "pwd algorithm", Length: 1}
	FFStatusCode        = &FixedFieldSpec{Label: "status code", Length: 1}
	FFMaxPrintWidth     = &FixedFieldSpec{Label: "max print width", Length: 3}
	FFProtocolVersion   = &FixedFieldSpec{Label: "protocol version", Length: 4}
	FFOnlineStatus      = &FixedFieldSpec{Label: "on-line status", Length: 1}
	FFCheckinOK         = &FixedFieldSpec{Label: "checkin ok", Length: 1}
	FFCheckoutOK        = &FixedFieldSpec{Label: "checkout ok", Length: 1}
	FFACSRenewalPolicy  = &FixedFieldSpec{Label: "acs renewal policy", Length: 1}
	FFStatusUpdateOK    = &FixedFieldSpec{Label: "status update ok", Length: 1}
	FFOfflineOK         = &FixedFieldSpec{Label: "offline ok", Length: 1}
	FFTimeoutPeriod     = &FixedFieldSpec{Label: "timeout period", Length: 3}
	FFRetriesAllowed    = &FixedFieldSpec{Label: "retries allowed", Length: 3}
	FFLanguage          = &FixedFieldSpec{Label: "language", Length: 3}
	FFPatronStatus      = &FixedFieldSpec{Label: "patron status", Length: 14}
	FFSummary           = &FixedFieldSpec{Label: "summary", Length: 10}
	FFHoldItemsCount    = &FixedFieldSpec{Label: "hold items count", Length: 4}
	FFOverdueItemsCount = &FixedFieldSpec{Label: "overdue items count", Length: 4}
	FFChargedItemsCount = &FixedFieldSpec{Label: "charged items count", Length: 4}
	FFFineItemsCount    = &FixedFieldSpec{Label: "fine items count", Length: 4}
	FFRecallItemsCount  = &FixedFieldSpec{Label: "recall items count", Length: 4}
	FFUnavailHoldsCount = &FixedFieldSpec{Label: "unavailable holds count", Length: 4}
	FFCirculationStatus = &FixedFieldSpec{Label: "circulation status", Length: 2}
	FFSecurityMarker    = &FixedFieldSpec{Label: "security marker", Length: 2}
	FFFeeType           = &FixedFieldSpec{Label: "fee type", Length: 2}
	FFPaymentType       = &FixedFieldSpec{Label: "payment type", Length: 2}
	FFCurrencyType      = &FixedFieldSpec{Label: "currency type", Length: 3}
	FFPaymentAccepted   = &FixedFieldSpec{Label: "payment accepted", Length: 1}
)

// Variable field tags used by the gateway.
const (
	TagPatronID         = "AA"
	TagItemID           = "AB"
	TagTerminalPassword = "AC"
	TagPatronPassword   = "AD"
	TagPersonalName     = "AE"
	TagScreenMessage    = "AF"
	TagPrintLine        = "AG"
	TagDueDate          = "AH"
	TagTitleID          = "AJ"
	TagLibraryName      = "AM"
	TagTerminalLocation = "AN"
	TagInstitutionID    = "AO"
	TagCurrentLocation  = "AP"
	TagPermLocation     = "AQ"
	TagHomeAddress      = "BD"
	TagEmail            = "BE"
	TagHomePhone        = "BF"
	TagOwner            = "BG"
	TagCurrencyType     = "BH"
	TagTransactionID    = "BK"
	TagValidPatron      = "BL"
	TagFeeAmount        = "BV"
	TagSupportedMsgs    = "BX"
	TagHoldQueueLength  = "CF"
	TagFeeIdentifier    = "CG"
	TagMediaType        = "CK"
	TagLoginUserID      = "CN"
	TagLoginPassword    = "CO"
	TagLocationCode     = "CP"
	TagValidPatronPwd   = "CQ"
	TagDestination      = "CT"
	TagCallNumber       = "CS"
	TagPatronProfile    = "PC"
	TagSequenceNumber   = "AY"
	TagChecksum         = "AZ"
	// Envisionware register extensions on fee paid.
	TagRegisterLogin = "OR"
	TagCheckNumber   = "RN"
)

// Spec describes one message code and its fixed field layout.
type Spec struct {
	Code   Code
	Label  string
	Fields []*FixedFieldSpec
}

var (
	MSCStatus = &Spec{Code: CodeSCStatus, Label: "SC Status", Fields: []*FixedFieldSpec{
		FFStatusCode, FFMaxPrintWidth, FFProtocolVersion,
	}}
	MACSStatus = &Spec{Code: CodeACSStatus, Label: "ACS Status", Fields: []*FixedFieldSpec{
		FFOnlineStatus, FFCheckinOK, FFCheckoutOK, FFACSRenewalPolicy, FFStatusUpdateOK,
		FFOfflineOK, FFTimeoutPeriod, FFRetriesAllowed, FFDate, FFProtocolVersion,
	}}
	MLogin     = &Spec{Code: CodeLogin, Label: "Login Request", Fields: []*FixedFieldSpec{FFUIDAlgo, FFPWDAlgo}}
	MLoginResp = &Spec{Code: CodeLoginResp, Label: "Login Response", Fields: []*FixedFieldSpec{FFOK}}
	MItemInfo  = &Spec{Code: CodeItemInfo, Label: "Item Information", Fields: []*FixedFieldSpec{FFDate}}
	MItemInfoResp = &Spec{Code: CodeItemInfoResp, Label: "Item Information Response", Fields: []*FixedFieldSpec{
		FFCirculationStatus, FFSecurityMarker, FFFeeType, FFDate,
	}}
	MPatronStatus     = &Spec{Code: CodePatronStatus, Label: "Patron Status Request", Fields: []*FixedFieldSpec{FFLanguage, FFDate}}
	MPatronStatusResp = &Spec{Code: CodePatronStatusResp, Label: "Patron Status Response", Fields: []*FixedFieldSpec{
		FFPatronStatus, FFLanguage, FFDate,
	}}
	MPatronInfo = &Spec{Code: CodePatronInfo, Label: "Patron Information", Fields: []*FixedFieldSpec{
		FFLanguage, FFDate, FFSummary,
	}}
	MPatronInfoResp = &Spec{Code: CodePatronInfoResp, Label: "Patron Information Response", Fields: []*FixedFieldSpec{
		FFPatronStatus, FFLanguage, FFDate, FFHoldItemsCount, FFOverdueItemsCount,
		FFChargedItemsCount, FFFineItemsCount, FFRecallItemsCount, FFUnavailHoldsCount,
	}}
	MFeePaid = &Spec{Code: CodeFeePaid, Label: "Fee Paid", Fields: []*FixedFieldSpec{
		FFDate, FFFeeType, FFPaymentType, FFCurrencyType,
	}}
	MFeePaidResp = &Spec{Code: CodeFeePaidResp, Label: "Fee Paid Response", Fields: []*FixedFieldSpec{
		FFPaymentAccepted, FFDate,
	}}
	MRequestACSResend = &Spec{Code: CodeRequestACSResend, Label: "Request ACS Resend"}
	MRequestSCResend  = &Spec{Code: CodeRequestSCResend, Label: "Request SC Resend"}
)

var specsByCode = map[Code]*Spec{}

func init() {
	for _, s := range []*Spec{
		MSCStatus, MACSStatus, MLogin, MLoginResp, MItemInfo, MItemInfoResp,
		MPatronStatus, MPatronStatusResp, MPatronInfo, MPatronInfoResp,
		MFeePaid, MFeePaidResp, MRequestACSResend, MRequestSCResend,
	} {
		specsByCode[s.Code] = s
	}
}

// LookupSpec returns the spec for code, if the gateway knows it.
func LookupSpec(code Code) (*Spec, bool) {
	s, ok := specsByCode[code]
	return s, ok
}

// unknownSpec stands in for codes outside the handled subset.
func unknownSpec(code Code) *Spec {
	return &Spec{Code: code, Label: "Unknown"}
}
