package session

import (
	"errors"

	"github.com/danmuck/sip2gate/internal/backend"
	"github.com/danmuck/sip2gate/internal/payment"
	"github.com/danmuck/sip2gate/internal/sip2"
)

var (
	ErrProtocol    = errors.New("session: protocol error")
	ErrAuth        = errors.New("session: not authenticated")
	ErrNotFound    = errors.New("session: not found")
	ErrOverpayment = errors.New("session: overpayment")
	ErrBackend     = errors.New("session: backend failure")
	ErrIO          = errors.New("session: io failure")
)

// kind folds package-level errors into the session taxonomy.
func kind(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAuth):
		return ErrAuth
	case errors.Is(err, ErrNotFound), errors.Is(err, payment.ErrNotFound),
		errors.Is(err, payment.ErrNothingToPay):
		return ErrNotFound
	case errors.Is(err, ErrOverpayment), errors.Is(err, payment.ErrOverpayment):
		return ErrOverpayment
	case errors.Is(err, ErrProtocol), errors.Is(err, payment.ErrInvalidAmount):
		return ErrProtocol
	case errors.Is(err, ErrIO):
		return ErrIO
	default:
		return ErrBackend
	}
}

// outcome labels err for metrics.
func outcome(err error) string {
	switch kind(err) {
	case nil:
		return "ok"
	case ErrAuth:
		return "auth"
	case ErrNotFound:
		return "not_found"
	case ErrOverpayment:
		return "overpayment"
	case ErrProtocol:
		return "protocol"
	case ErrIO:
		return "io"
	default:
		return "backend"
	}
}

// screenMessage is the AF text shown to the patron for err.
func screenMessage(err error) string {
	switch {
	case errors.Is(err, payment.ErrOverpayment), errors.Is(err, ErrOverpayment):
		return "Overpayment not allowed"
	case errors.Is(err, payment.ErrNothingToPay):
		return "No transactions to pay"
	case errors.Is(err, payment.ErrInvalidAmount):
		return "Invalid payment amount"
	case errors.Is(err, payment.ErrNotFound):
		return "Transaction not found"
	case errors.Is(err, errPatronNotFound):
		return "Patron not found"
	case errors.Is(err, ErrNotFound):
		return "Not found"
	case errors.Is(err, ErrAuth):
		return "Terminal not logged in"
	case errors.Is(err, ErrProtocol):
		return "Invalid request"
	}
	var ev *backend.Event
	if errors.As(err, &ev) {
		return "System error: " + ev.TextCode
	}
	return "System unavailable"
}

// failureResponse builds the most specific negative reply the protocol
// allows for req. Codes without one get a 96.
func (s *Session) failureResponse(req *sip2.Message, err error) *sip2.Message {
	msg := screenMessage(err)
	date := sip2.DateNow()
	institution := s.institution()

	var (
		resp     *sip2.Message
		buildErr error
	)
	switch req.Code() {
	case sip2.CodeLogin:
		resp, buildErr = sip2.FromValues(sip2.MLoginResp, []string{"0"}, nil)

	case sip2.CodeSCStatus:
		resp, buildErr = sip2.FromValues(sip2.MACSStatus, []string{
			"N", "N", "N", "N", "N", "N", "000", "000", date, sip2.ProtocolVersion,
		}, nil)
		if resp != nil {
			resp.AddField(sip2.TagSupportedMsgs, supportedMessages())
		}

	case sip2.CodeItemInfo:
		barcode, _ := req.FieldValue(sip2.TagItemID)
		resp, buildErr = sip2.FromValues(sip2.MItemInfoResp, []string{"01", "00", "01", date}, [][2]string{
			{sip2.TagItemID, barcode},
			{sip2.TagTitleID, ""},
			{sip2.TagScreenMessage, msg},
		})

	case sip2.CodePatronStatus:
		barcode, _ := req.FieldValue(sip2.TagPatronID)
		resp, buildErr = sip2.FromValues(sip2.MPatronStatusResp, []string{blankStatus, languageOf(req), date}, [][2]string{
			{sip2.TagInstitutionID, institution},
			{sip2.TagPatronID, barcode},
			{sip2.TagPersonalName, ""},
			{sip2.TagValidPatron, "N"},
			{sip2.TagValidPatronPwd, "N"},
			{sip2.TagScreenMessage, msg},
		})

	case sip2.CodePatronInfo:
		barcode, _ := req.FieldValue(sip2.TagPatronID)
		zero := sip2.Count(0)
		resp, buildErr = sip2.FromValues(sip2.MPatronInfoResp, []string{
			blankStatus, languageOf(req), date, zero, zero, zero, zero, zero, zero,
		}, [][2]string{
			{sip2.TagInstitutionID, institution},
			{sip2.TagPatronID, barcode},
			{sip2.TagPersonalName, ""},
			{sip2.TagValidPatron, "N"},
			{sip2.TagValidPatronPwd, "N"},
			{sip2.TagScreenMessage, msg},
		})

	case sip2.CodeFeePaid:
		barcode, _ := req.FieldValue(sip2.TagPatronID)
		resp, buildErr = sip2.FromValues(sip2.MFeePaidResp, []string{"0", date}, [][2]string{
			{sip2.TagPatronID, barcode},
			{sip2.TagInstitutionID, institution},
			{sip2.TagScreenMessage, msg},
		})

	default:
		return requestResend()
	}

	if buildErr != nil {
		return requestResend()
	}
	return resp
}

func requestResend() *sip2.Message {
	return sip2.NewMessage(sip2.MRequestSCResend, nil, nil)
}
