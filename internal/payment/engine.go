package payment

import (
	"context"
	"errors"
	"fmt"

	logs "github.com/danmuck/sip2gate/internal/logging"
	"github.com/shopspring/decimal"
)

// Ledger is the backend surface the engine needs.
type Ledger interface {
	Transaction(ctx context.Context, id int64) (*Transaction, error)
	OpenTransactions(ctx context.Context, patronID int64) ([]Transaction, error)
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Pay(ctx context.Context, w Write) error
}

// Write is the single backend write that records an allocation.
type Write struct {
	PatronID    int64
	Note        string
	PaymentType string
	CheckNumber string
	Payments    []Payment
}

// Request is a decoded fee-paid request.
type Request struct {
	PatronID int64
	Amount   string
	// TransactionID is set when the terminal names one transaction.
	TransactionID *int64
	SIPPayType    string
	RegisterLogin *string
	CheckNumber   string
}

type Result struct {
	Allocation Allocation
	Note       string
}

type Engine struct {
	ledger Ledger
}

func NewEngine(l Ledger) *Engine {
	return &Engine{ledger: l}
}

// Pay allocates and applies req. Any error means nothing was written.
func (e *Engine) Pay(ctx context.Context, req Request) (Result, error) {
	tendered, err := ParseAmount(req.Amount)
	if err != nil {
		return Result{}, err
	}

	alloc, err := e.allocate(ctx, req, tendered)
	if err != nil {
		return Result{}, err
	}

	note := RegisterLoginNote(deref(req.RegisterLogin), req.RegisterLogin != nil)
	if req.CheckNumber != "" {
		note = fmt.Sprintf("%s; check %s", note, req.CheckNumber)
	}

	w := Write{
		PatronID:    req.PatronID,
		Note:        note,
		PaymentType: PaymentType(req.SIPPayType),
		CheckNumber: req.CheckNumber,
		Payments:    alloc.Payments,
	}
	if err := e.apply(ctx, w); err != nil {
		return Result{}, err
	}
	logs.Infof("payment.Engine.Pay patron=%d tendered=%s payments=%d type=%s", req.PatronID, tendered, len(alloc.Payments), w.PaymentType)
	return Result{Allocation: alloc, Note: note}, nil
}

func (e *Engine) allocate(ctx context.Context, req Request, tendered decimal.Decimal) (Allocation, error) {
	if req.TransactionID != nil {
		xact, err := e.ledger.Transaction(ctx, *req.TransactionID)
		if err != nil {
			return Allocation{}, backendErr("load transaction", err)
		}
		return AllocateTargeted(xact, req.PatronID, tendered)
	}

	xacts, err := e.ledger.OpenTransactions(ctx, req.PatronID)
	if err != nil {
		return Allocation{}, backendErr("load open transactions", err)
	}
	return AllocateUntargeted(xacts, tendered)
}

func (e *Engine) apply(ctx context.Context, w Write) error {
	if err := e.ledger.Begin(ctx); err != nil {
		return backendErr("begin", err)
	}
	if err := e.ledger.Pay(ctx, w); err != nil {
		if rbErr := e.ledger.Rollback(ctx); rbErr != nil {
			logs.Warnf("payment.Engine.apply rollback err=%v", rbErr)
		}
		return backendErr("pay", err)
	}
	if err := e.ledger.Commit(ctx); err != nil {
		if rbErr := e.ledger.Rollback(ctx); rbErr != nil {
			logs.Warnf("payment.Engine.apply rollback err=%v", rbErr)
		}
		return backendErr("commit", err)
	}
	return nil
}

// backendErr wraps err as ErrBackend; the cause stays matchable.
func backendErr(op string, err error) error {
	if errors.Is(err, ErrBackend) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrBackend, op, err)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
