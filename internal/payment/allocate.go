// Package payment turns a fee-paid request into payments against a
// patron's open transactions.
package payment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("payment: invalid amount")
	ErrNotFound      = errors.New("payment: transaction not found")
	ErrOverpayment   = errors.New("payment: overpayment not allowed")
	ErrNothingToPay  = errors.New("payment: no transactions to pay")
	ErrBackend       = errors.New("payment: backend failure")
)

// Transaction is a billable transaction with its current balance.
type Transaction struct {
	ID          int64
	PatronID    int64
	BalanceOwed decimal.Decimal
}

type Payment struct {
	TransactionID int64
	Amount        decimal.Decimal
}

// Allocation is the planned split of a tendered amount.
type Allocation struct {
	Payments  []Payment
	Remaining decimal.Decimal
}

func (a Allocation) Total() decimal.Decimal {
	total := decimal.Zero
	for _, p := range a.Payments {
		total = total.Add(p.Amount)
	}
	return total
}

// ParseAmount reads a tendered amount. Zero, negative and unparseable
// values are rejected.
func ParseAmount(raw string) (decimal.Decimal, error) {
	amt, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if !amt.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAmount, amt)
	}
	return amt, nil
}

// AllocateTargeted pays tendered against one transaction. xact is nil when
// the transaction does not exist.
func AllocateTargeted(xact *Transaction, patronID int64, tendered decimal.Decimal) (Allocation, error) {
	if xact == nil || xact.PatronID != patronID {
		return Allocation{}, ErrNotFound
	}
	if tendered.GreaterThan(xact.BalanceOwed) {
		return Allocation{}, fmt.Errorf("%w: %s > %s on %d", ErrOverpayment, tendered, xact.BalanceOwed, xact.ID)
	}
	return Allocation{
		Payments:  []Payment{{TransactionID: xact.ID, Amount: tendered}},
		Remaining: decimal.Zero,
	}, nil
}

// AllocateUntargeted walks xacts in the given order, paying each positive
// balance in full until tendered runs out. Money left over after every
// balance is covered is an overpayment and the whole plan is discarded.
func AllocateUntargeted(xacts []Transaction, tendered decimal.Decimal) (Allocation, error) {
	if len(xacts) == 0 {
		return Allocation{}, ErrNothingToPay
	}

	remaining := tendered
	var payments []Payment
	for _, x := range xacts {
		if !x.BalanceOwed.IsPositive() {
			continue
		}
		pay := decimal.Min(x.BalanceOwed, remaining)
		payments = append(payments, Payment{TransactionID: x.ID, Amount: pay})
		remaining = remaining.Sub(pay)
		if remaining.IsZero() {
			break
		}
	}

	if remaining.IsPositive() {
		return Allocation{}, fmt.Errorf("%w: %s left after all balances", ErrOverpayment, remaining)
	}
	return Allocation{Payments: payments, Remaining: remaining}, nil
}

// RegisterLoginNote builds the payment note from an optional register
// login. A Windows-style DOMAIN\user keeps only the user part.
func RegisterLoginNote(login string, present bool) string {
	if !present {
		return "VIA SIP2"
	}
	if i := strings.LastIndex(login, `\`); i >= 0 {
		login = login[i+1:]
	}
	return fmt.Sprintf("Via SIP2: Register login '%s'", login)
}

const (
	TypeCash       = "cash_payment"
	TypeCreditCard = "credit_card_payment"
)

// PaymentType maps the SIP2 payment type fixed field to a backend type.
func PaymentType(sipType string) string {
	switch sipType {
	case "01", "02":
		return TypeCreditCard
	default:
		return TypeCash
	}
}
