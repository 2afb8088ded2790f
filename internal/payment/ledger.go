package payment

import (
	"context"
	"fmt"

	"github.com/danmuck/sip2gate/internal/backend"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// BackendLedger reads and writes transactions through a backend editor.
type BackendLedger struct {
	editor *backend.Editor
}

func NewBackendLedger(e *backend.Editor) *BackendLedger {
	return &BackendLedger{editor: e}
}

func (l *BackendLedger) Transaction(ctx context.Context, id int64) (*Transaction, error) {
	row, found, err := l.editor.Retrieve(ctx, "mbts", id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	x, err := transactionFrom(row)
	if err != nil {
		return nil, err
	}
	return &x, nil
}

func (l *BackendLedger) OpenTransactions(ctx context.Context, patronID int64) ([]Transaction, error) {
	res, err := l.editor.Request(ctx, backend.MethodPatronXacts, patronID)
	if err != nil {
		return nil, err
	}
	rows := res.Array()
	out := make([]Transaction, 0, len(rows))
	for _, row := range rows {
		x, err := transactionFrom(row)
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, nil
}

func (l *BackendLedger) Begin(ctx context.Context) error {
	return l.editor.Begin(ctx)
}

func (l *BackendLedger) Commit(ctx context.Context) error {
	return l.editor.Commit(ctx)
}

func (l *BackendLedger) Rollback(ctx context.Context) error {
	return l.editor.Rollback(ctx)
}

func (l *BackendLedger) Pay(ctx context.Context, w Write) error {
	pairs := make([][2]any, 0, len(w.Payments))
	for _, p := range w.Payments {
		pairs = append(pairs, [2]any{p.TransactionID, p.Amount.StringFixed(2)})
	}
	args := map[string]any{
		"userid":       w.PatronID,
		"note":         w.Note,
		"payment_type": w.PaymentType,
		"payments":     pairs,
	}
	if w.CheckNumber != "" {
		args["check_number"] = w.CheckNumber
	}
	_, err := l.editor.Request(ctx, backend.MethodPayment, args)
	return err
}

func transactionFrom(row gjson.Result) (Transaction, error) {
	bal, err := decimal.NewFromString(row.Get("balance_owed").String())
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: balance_owed %q", backend.ErrBadResponse, row.Get("balance_owed").String())
	}
	return Transaction{
		ID:          row.Get("id").Int(),
		PatronID:    row.Get("usr").Int(),
		BalanceOwed: bal,
	}, nil
}
