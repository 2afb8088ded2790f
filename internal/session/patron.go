package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/sip2gate/internal/account"
	"github.com/danmuck/sip2gate/internal/backend"
	"github.com/danmuck/sip2gate/internal/payment"
	"github.com/danmuck/sip2gate/internal/sip2"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

var errPatronNotFound = fmt.Errorf("%w: patron", ErrNotFound)

const currencyUSD = "USD"

var cardFlesh = map[string]any{
	"flesh": 3,
	"flesh_fields": map[string]any{
		"ac": []string{"usr"},
		"au": []string{"profile", "home_ou", "mailing_address"},
	},
}

type patron struct {
	id         int64
	barcode    string
	name       string
	email      string
	phone      string
	address    string
	profile    string
	homeLib    string
	active     bool
	barred     bool
	expired    bool
	cardActive bool
}

func patronFrom(card gjson.Result, now time.Time) patron {
	usr := card.Get("usr")
	p := patron{
		id:         usr.Get("id").Int(),
		barcode:    card.Get("barcode").String(),
		name:       strings.TrimSpace(usr.Get("first_given_name").String() + " " + usr.Get("family_name").String()),
		email:      usr.Get("email").String(),
		phone:      usr.Get("day_phone").String(),
		address:    usr.Get("mailing_address.street1").String(),
		profile:    usr.Get("profile.name").String(),
		homeLib:    usr.Get("home_ou.shortname").String(),
		active:     truthy(usr.Get("active")),
		barred:     truthy(usr.Get("barred")),
		cardActive: truthy(card.Get("active")),
	}
	if raw := usr.Get("expire_date").String(); raw != "" {
		for _, layout := range backendDateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				p.expired = t.Before(now)
				break
			}
		}
	}
	return p
}

// blocked reports whether the patron has lost circulation privileges.
func (p patron) blocked() bool {
	return p.barred || !p.active || p.expired
}

// status renders the 14-position patron status.
func (p patron) status() string {
	denied := sip2.SpaceBool(p.blocked())
	return strings.Repeat(denied, 4) + sip2.SpaceBool(!p.cardActive) + blankStatus[5:]
}

// truthy accepts the backend's "t"/"f" booleans as well as JSON ones.
func truthy(v gjson.Result) bool {
	if v.Type == gjson.String {
		return v.String() == "t"
	}
	return v.Bool()
}

func (s *Session) findPatron(ctx context.Context, barcode string) (patron, error) {
	rows, err := s.editor.Search(ctx, "ac", map[string]any{"barcode": barcode}, cardFlesh)
	if err != nil {
		return patron{}, err
	}
	if len(rows) == 0 {
		return patron{}, fmt.Errorf("%w: barcode %q", errPatronNotFound, barcode)
	}
	return patronFrom(rows[0], time.Now()), nil
}

func (s *Session) balanceOwed(ctx context.Context, patronID int64) (decimal.Decimal, error) {
	res, err := s.editor.Request(ctx, backend.MethodFinesSummary, patronID)
	if err != nil {
		return decimal.Zero, err
	}
	raw := res.Get("balance_owed").String()
	if raw == "" {
		return decimal.Zero, nil
	}
	bal, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: balance_owed %q", backend.ErrBadResponse, raw)
	}
	return bal, nil
}

// checkPatronPassword returns nil when the terminal sent no password.
func (s *Session) checkPatronPassword(ctx context.Context, req *sip2.Message, patronID int64) (*bool, error) {
	pwd, ok := req.FieldValue(sip2.TagPatronPassword)
	if !ok {
		return nil, nil
	}
	res, err := s.editor.Request(ctx, backend.MethodVerifyPassword, patronID, pwd)
	if err != nil {
		return nil, err
	}
	valid := res.Int() == 1 || res.Bool()
	return &valid, nil
}

type patronSummary struct {
	patron   patron
	balance  decimal.Decimal
	pwdValid *bool
}

func (s *Session) summarizePatron(ctx context.Context, req *sip2.Message, barcode string) (patronSummary, error) {
	p, err := s.findPatron(ctx, barcode)
	if err != nil {
		return patronSummary{}, err
	}
	bal, err := s.balanceOwed(ctx, p.id)
	if err != nil {
		return patronSummary{}, err
	}
	valid, err := s.checkPatronPassword(ctx, req, p.id)
	if err != nil {
		return patronSummary{}, err
	}
	return patronSummary{patron: p, balance: bal, pwdValid: valid}, nil
}

func patronBarcode(req *sip2.Message) (string, error) {
	barcode, ok := req.FieldValue(sip2.TagPatronID)
	if !ok || barcode == "" {
		return "", fmt.Errorf("%w: %s without %s", ErrProtocol, req.Code(), sip2.TagPatronID)
	}
	return barcode, nil
}

func (s *Session) handlePatronStatus(ctx context.Context, req *sip2.Message, acct account.Account) (*sip2.Message, error) {
	barcode, err := patronBarcode(req)
	if err != nil {
		return nil, err
	}

	var sum patronSummary
	err = s.withAuth(ctx, acct, func(ctx context.Context) error {
		var err error
		sum, err = s.summarizePatron(ctx, req, barcode)
		return err
	})
	if err != nil {
		return nil, err
	}

	resp, err := sip2.FromValues(sip2.MPatronStatusResp, []string{sum.patron.status(), languageOf(req), sip2.DateNow()}, [][2]string{
		{sip2.TagInstitutionID, acct.Institution},
		{sip2.TagPatronID, barcode},
		{sip2.TagPersonalName, sum.patron.name},
		{sip2.TagValidPatron, "Y"},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if sum.pwdValid != nil {
		resp.AddField(sip2.TagValidPatronPwd, sip2.YN(*sum.pwdValid))
	}
	resp.AddField(sip2.TagCurrencyType, currencyUSD)
	resp.AddField(sip2.TagFeeAmount, sum.balance.StringFixed(2))
	return resp, nil
}

type patronCounts struct {
	holds      int64
	holdsReady int64
	overdue    int64
	chargedOut int64
	fineItems  int
}

func (s *Session) countPatron(ctx context.Context, patronID int64) (patronCounts, error) {
	var c patronCounts

	circ, err := s.editor.Request(ctx, backend.MethodCheckedOutCount, patronID)
	if err != nil {
		return c, err
	}
	c.overdue = circ.Get("overdue").Int()
	c.chargedOut = circ.Get("out").Int() + c.overdue

	holds, err := s.editor.Request(ctx, backend.MethodHoldCount, patronID)
	if err != nil {
		return c, err
	}
	c.holds = holds.Get("total").Int()
	c.holdsReady = holds.Get("ready").Int()

	xacts, err := payment.NewBackendLedger(s.editor).OpenTransactions(ctx, patronID)
	if err != nil {
		return c, err
	}
	for _, x := range xacts {
		if x.BalanceOwed.IsPositive() {
			c.fineItems++
		}
	}
	return c, nil
}

func (s *Session) handlePatronInfo(ctx context.Context, req *sip2.Message, acct account.Account) (*sip2.Message, error) {
	barcode, err := patronBarcode(req)
	if err != nil {
		return nil, err
	}

	var (
		sum    patronSummary
		counts patronCounts
	)
	err = s.withAuth(ctx, acct, func(ctx context.Context) error {
		var err error
		if sum, err = s.summarizePatron(ctx, req, barcode); err != nil {
			return err
		}
		counts, err = s.countPatron(ctx, sum.patron.id)
		return err
	})
	if err != nil {
		return nil, err
	}

	p := sum.patron
	resp, err := sip2.FromValues(sip2.MPatronInfoResp, []string{
		p.status(), languageOf(req), sip2.DateNow(),
		sip2.Count(int(counts.holds)),
		sip2.Count(int(counts.overdue)),
		sip2.Count(int(counts.chargedOut)),
		sip2.Count(counts.fineItems),
		sip2.Count(0),
		sip2.Count(int(counts.holds - counts.holdsReady)),
	}, [][2]string{
		{sip2.TagInstitutionID, acct.Institution},
		{sip2.TagPatronID, barcode},
		{sip2.TagPersonalName, p.name},
		{sip2.TagValidPatron, "Y"},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if sum.pwdValid != nil {
		resp.AddField(sip2.TagValidPatronPwd, sip2.YN(*sum.pwdValid))
	}
	resp.AddField(sip2.TagCurrencyType, currencyUSD)
	resp.AddField(sip2.TagFeeAmount, sum.balance.StringFixed(2))
	resp.AddField(sip2.TagEmail, p.email)
	resp.AddField(sip2.TagHomePhone, p.phone)
	resp.AddField(sip2.TagHomeAddress, p.address)
	resp.AddField(sip2.TagPatronProfile, p.profile)
	if p.homeLib != "" {
		resp.AddField(sip2.TagPermLocation, p.homeLib)
	}
	return resp, nil
}
