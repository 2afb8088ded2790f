package session

import (
	"context"
	"fmt"
	"strconv"

	"github.com/danmuck/sip2gate/internal/account"
	logs "github.com/danmuck/sip2gate/internal/logging"
	"github.com/danmuck/sip2gate/internal/observability"
	"github.com/danmuck/sip2gate/internal/payment"
	"github.com/danmuck/sip2gate/internal/sip2"
)

// Index of the payment type in the 37 fixed fields.
const feePaidPayType = 2

// feePaidRequest decodes a 37 into a payment request. PatronID is filled
// in after the patron lookup.
func feePaidRequest(req *sip2.Message) (payment.Request, error) {
	amount, ok := req.FieldValue(sip2.TagFeeAmount)
	if !ok {
		return payment.Request{}, fmt.Errorf("%w: fee paid without %s", ErrProtocol, sip2.TagFeeAmount)
	}
	out := payment.Request{
		Amount:     amount,
		SIPPayType: req.FixedValue(feePaidPayType),
	}
	if raw, ok := req.FieldValue(sip2.TagFeeIdentifier); ok && raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return payment.Request{}, fmt.Errorf("%w: transaction %q", payment.ErrNotFound, raw)
		}
		out.TransactionID = &id
	}
	if login, ok := req.FieldValue(sip2.TagRegisterLogin); ok {
		out.RegisterLogin = &login
	}
	out.CheckNumber, _ = req.FieldValue(sip2.TagCheckNumber)
	return out, nil
}

func (s *Session) handleFeePaid(ctx context.Context, req *sip2.Message, acct account.Account) (*sip2.Message, error) {
	barcode, err := patronBarcode(req)
	if err != nil {
		return nil, err
	}
	preq, err := feePaidRequest(req)
	if err != nil {
		return nil, err
	}

	var result payment.Result
	err = s.withAuth(ctx, acct, func(ctx context.Context) error {
		p, err := s.findPatron(ctx, barcode)
		if err != nil {
			return err
		}
		preq.PatronID = p.id
		result, err = payment.NewEngine(payment.NewBackendLedger(s.editor)).Pay(ctx, preq)
		return err
	})
	observability.RecordPayment(outcome(err))
	if err != nil {
		return nil, err
	}

	logs.Infof("session.Session.handleFeePaid sesid=%d patron=%d total=%s", s.id, preq.PatronID, result.Allocation.Total().StringFixed(2))
	resp, err := sip2.FromValues(sip2.MFeePaidResp, []string{"1", sip2.DateNow()}, [][2]string{
		{sip2.TagPatronID, barcode},
		{sip2.TagInstitutionID, acct.Institution},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if id, ok := req.FieldValue(sip2.TagFeeIdentifier); ok {
		resp.AddField(sip2.TagTransactionID, id)
	}
	resp.AddField(sip2.TagScreenMessage, "Payment accepted")
	return resp, nil
}
