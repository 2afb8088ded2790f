package backendtest

import (
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/sip2gate/internal/backend"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

type Patron struct {
	ID         int64
	Barcode    string
	Password   string
	First      string
	Last       string
	Email      string
	Phone      string
	Address    string
	Profile    string
	HomeLib    string
	Expire     string
	Active     bool
	Barred     bool
	CardActive bool
	Out        int
	Overdue    int
	Lost       int
	Holds      int
	HoldsReady int
}

type Copy struct {
	ID         int64
	Barcode    string
	Title      string
	CallNumber string
	Location   string
	CircLib    string
	MediaType  string
	Price      string
	StatusID   int
	HoldQueue  int
	DueDate    string
}

type Xact struct {
	ID          int64
	PatronID    int64
	BalanceOwed string
}

// PaymentCall is one accepted payment write.
type PaymentCall struct {
	PatronID    int64
	Note        string
	PaymentType string
	CheckNumber string
	Payments    [][2]string
}

// Library is an in-memory backend with staff logins, patrons, copies and
// billable transactions.
type Library struct {
	Staff   map[string]int64
	Patrons []Patron
	Copies  []Copy
	Xacts   []Xact

	// FailPayment makes the payment write return an event.
	FailPayment bool
	// PaymentDelay holds the payment write before it is applied.
	PaymentDelay time.Duration

	mu        sync.Mutex
	tokens    map[string]int64
	nextToken int
	payments  []PaymentCall
	logins    int
	commits   int
	rollbacks int
}

func NewLibrary() *Library {
	return &Library{
		Staff:  map[string]int64{"admin": 1},
		tokens: make(map[string]int64),
	}
}

// ExpireSessions invalidates every issued token.
func (l *Library) ExpireSessions() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = make(map[string]int64)
}

func (l *Library) Payments() []PaymentCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PaymentCall, len(l.payments))
	copy(out, l.payments)
	return out
}

func (l *Library) Logins() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.logins
}

func (l *Library) Commits() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commits
}

func (l *Library) Rollbacks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rollbacks
}

// Install registers every method the gateway uses on s.
func (l *Library) Install(s *Server) {
	s.Handle(backend.SearchMethod("au"), l.searchStaff)
	s.Handle(backend.MethodSessionCreate, l.createSession)
	s.Handle(backend.MethodSessionRetrieve, l.authed(func(p []gjson.Result) any {
		return map[string]any{"id": l.tokenUser(p[0].String())}
	}))
	s.Handle(backend.SearchMethod("ac"), l.authed(l.searchCards))
	s.Handle(backend.SearchMethod("acp"), l.authed(l.searchCopies))
	s.Handle(backend.RetrieveMethod("mbts"), l.authed(l.retrieveXact))
	s.Handle(backend.MethodPatronXacts, l.authed(l.patronXacts))
	s.Handle(backend.MethodFinesSummary, l.authed(l.finesSummary))
	s.Handle(backend.MethodCheckedOutCount, l.authed(l.checkedOut))
	s.Handle(backend.MethodHoldCount, l.authed(l.holdCount))
	s.Handle(backend.MethodCopyHoldQueue, l.authed(l.copyHoldQueue))
	s.Handle(backend.MethodVerifyPassword, l.authed(l.verifyPassword))
	s.Handle(backend.MethodXactBegin, l.authed(func([]gjson.Result) any { return 1 }))
	s.Handle(backend.MethodXactCommit, l.authed(func([]gjson.Result) any {
		l.mu.Lock()
		l.commits++
		l.mu.Unlock()
		return 1
	}))
	s.Handle(backend.MethodXactRollback, l.authed(func([]gjson.Result) any {
		l.mu.Lock()
		l.rollbacks++
		l.mu.Unlock()
		return 1
	}))
	s.Handle(backend.MethodPayment, l.authed(l.pay))
}

func (l *Library) authed(h Handler) Handler {
	return func(params []gjson.Result) any {
		if len(params) == 0 {
			return Event(backend.TextCodeNoSession)
		}
		l.mu.Lock()
		_, ok := l.tokens[params[0].String()]
		l.mu.Unlock()
		if !ok {
			return Event(backend.TextCodeNoSession)
		}
		return h(params)
	}
}

func (l *Library) tokenUser(token string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokens[token]
}

func (l *Library) searchStaff(params []gjson.Result) any {
	if len(params) < 2 {
		return []any{}
	}
	name := params[1].Get("usrname").String()
	id, ok := l.Staff[name]
	if !ok {
		return []any{}
	}
	return []any{map[string]any{"id": id, "usrname": name}}
}

func (l *Library) createSession(params []gjson.Result) any {
	uid := params[0].Get("user_id").Int()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextToken++
	l.logins++
	token := fmt.Sprintf("tok-%d", l.nextToken)
	l.tokens[token] = uid
	return map[string]any{"authtoken": token, "authtime": 3600}
}

func (l *Library) patronByID(id int64) (Patron, bool) {
	for _, p := range l.Patrons {
		if p.ID == id {
			return p, true
		}
	}
	return Patron{}, false
}

func (l *Library) searchCards(params []gjson.Result) any {
	barcode := params[1].Get("barcode").String()
	for _, p := range l.Patrons {
		if p.Barcode != barcode {
			continue
		}
		return []any{map[string]any{
			"id":      p.ID,
			"barcode": p.Barcode,
			"active":  tf(p.CardActive),
			"usr": map[string]any{
				"id":               p.ID,
				"first_given_name": p.First,
				"family_name":      p.Last,
				"email":            p.Email,
				"day_phone":        p.Phone,
				"active":           tf(p.Active),
				"barred":           tf(p.Barred),
				"expire_date":      p.Expire,
				"profile":          map[string]any{"name": p.Profile},
				"home_ou":          map[string]any{"shortname": p.HomeLib},
				"mailing_address":  map[string]any{"street1": p.Address},
			},
		}}
	}
	return []any{}
}

func (l *Library) searchCopies(params []gjson.Result) any {
	barcode := params[1].Get("barcode").String()
	for _, c := range l.Copies {
		if c.Barcode != barcode {
			continue
		}
		return []any{map[string]any{
			"id":            c.ID,
			"barcode":       c.Barcode,
			"price":         c.Price,
			"circ_modifier": c.MediaType,
			"status":        map[string]any{"id": c.StatusID},
			"location":      map[string]any{"name": c.Location},
			"circ_lib":      map[string]any{"shortname": c.CircLib},
			"due_date":      c.DueDate,
			"call_number": map[string]any{
				"label": c.CallNumber,
				"record": map[string]any{
					"simple_record": map[string]any{"title": c.Title},
				},
			},
		}}
	}
	return []any{}
}

func (l *Library) copyHoldQueue(params []gjson.Result) any {
	id := params[1].Int()
	for _, c := range l.Copies {
		if c.ID == id {
			return c.HoldQueue
		}
	}
	return 0
}

func (l *Library) retrieveXact(params []gjson.Result) any {
	id := params[1].Int()
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, x := range l.Xacts {
		if x.ID == id {
			return xactJSON(x)
		}
	}
	return nil
}

func (l *Library) patronXacts(params []gjson.Result) any {
	uid := params[1].Int()
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []any{}
	for _, x := range l.Xacts {
		if x.PatronID == uid {
			out = append(out, xactJSON(x))
		}
	}
	return out
}

func (l *Library) finesSummary(params []gjson.Result) any {
	uid := params[1].Int()
	l.mu.Lock()
	defer l.mu.Unlock()
	total := decimal.Zero
	for _, x := range l.Xacts {
		if x.PatronID == uid {
			total = total.Add(amount(x.BalanceOwed))
		}
	}
	return map[string]any{"balance_owed": total.StringFixed(2)}
}

func (l *Library) checkedOut(params []gjson.Result) any {
	p, _ := l.patronByID(params[1].Int())
	return map[string]any{"out": p.Out, "overdue": p.Overdue, "lost": p.Lost}
}

func (l *Library) holdCount(params []gjson.Result) any {
	p, _ := l.patronByID(params[1].Int())
	return map[string]any{"total": p.Holds, "ready": p.HoldsReady}
}

func (l *Library) verifyPassword(params []gjson.Result) any {
	p, ok := l.patronByID(params[1].Int())
	if ok && p.Password != "" && p.Password == params[2].String() {
		return 1
	}
	return 0
}

func (l *Library) pay(params []gjson.Result) any {
	time.Sleep(l.PaymentDelay)
	if l.FailPayment {
		return Event("PAYMENT_FAILED")
	}
	args := params[1]
	call := PaymentCall{
		PatronID:    args.Get("userid").Int(),
		Note:        args.Get("note").String(),
		PaymentType: args.Get("payment_type").String(),
		CheckNumber: args.Get("check_number").String(),
	}
	for _, pair := range args.Get("payments").Array() {
		call.Payments = append(call.Payments, [2]string{pair.Get("0").String(), pair.Get("1").String()})
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, pair := range call.Payments {
		for i := range l.Xacts {
			if fmt.Sprint(l.Xacts[i].ID) == pair[0] {
				left := amount(l.Xacts[i].BalanceOwed).Sub(amount(pair[1]))
				l.Xacts[i].BalanceOwed = left.StringFixed(2)
			}
		}
	}
	l.payments = append(l.payments, call)
	return map[string]any{"payments": len(call.Payments)}
}

func xactJSON(x Xact) map[string]any {
	return map[string]any{"id": x.ID, "usr": x.PatronID, "balance_owed": x.BalanceOwed}
}

func tf(b bool) string {
	if b {
		return "t"
	}
	return "f"
}

func amount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
