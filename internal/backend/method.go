package backend

import (
	"fmt"
	"strings"
)

type paramKind uint8

const (
	paramAny paramKind = iota
	paramZero
	paramExactly
	paramAtLeast
	paramRange
)

// ParamCount is the number of parameters a backend method accepts.
type ParamCount struct {
	kind paramKind
	lo   int
	hi   int
}

func AnyParams() ParamCount { return ParamCount{kind: paramAny} }
func ZeroParams() ParamCount { return ParamCount{kind: paramZero} }
func Exactly(n int) ParamCount { return ParamCount{kind: paramExactly, lo: n, hi: n} }
func AtLeast(n int) ParamCount { return ParamCount{kind: paramAtLeast, lo: n} }
func Range(lo, hi int) ParamCount { return ParamCount{kind: paramRange, lo: lo, hi: hi} }

// Matches reports whether count params satisfy p. Range bounds are
// inclusive.
func (p ParamCount) Matches(count int) bool {
	switch p.kind {
	case paramAny:
		return true
	case paramZero:
		return count == 0
	case paramExactly:
		return count == p.lo
	case paramAtLeast:
		return count >= p.lo
	case paramRange:
		return p.lo <= count && count <= p.hi
	default:
		return false
	}
}

func (p ParamCount) String() string {
	switch p.kind {
	case paramAny:
		return "Any"
	case paramZero:
		return "Zero"
	case paramExactly:
		return fmt.Sprintf("Exactly %d", p.lo)
	case paramAtLeast:
		return fmt.Sprintf("AtLeast %d", p.lo)
	case paramRange:
		return fmt.Sprintf("Range %d..%d", p.lo, p.hi)
	default:
		return "Unknown"
	}
}

// MethodDef describes one backend API the gateway calls.
type MethodDef struct {
	Name   string
	Params ParamCount
	Desc   string
}

func (d MethodDef) Check(count int) error {
	if !d.Params.Matches(count) {
		return fmt.Errorf("%w: %s takes %s, got %d", ErrParamCount, d.Name, d.Params, count)
	}
	return nil
}

const (
	MethodSessionCreate   = "open-ils.auth_internal.session.create"
	MethodSessionRetrieve = "open-ils.auth.session.retrieve"
	MethodXactBegin       = "open-ils.pcrud.transaction.begin"
	MethodXactCommit      = "open-ils.pcrud.transaction.commit"
	MethodXactRollback    = "open-ils.pcrud.transaction.rollback"
	MethodPatronXacts     = "open-ils.actor.user.transactions.have_balance"
	MethodPayment         = "open-ils.circ.money.payment"
	MethodVerifyPassword  = "open-ils.actor.verify_user_password"
	MethodFinesSummary    = "open-ils.actor.user.fines.summary"
	MethodCheckedOutCount = "open-ils.actor.user.checked_out.count"
	MethodHoldCount       = "open-ils.circ.hold.user.count"
	MethodCopyHoldQueue   = "open-ils.circ.copy.hold_queue.count"
	pcrudSearchPrefix     = "open-ils.pcrud.search."
	pcrudRetrievePrefix   = "open-ils.pcrud.retrieve."
	pcrudAtomicSuffix     = ".atomic"
)

var methodDefs = map[string]MethodDef{
	MethodSessionCreate:   {Name: MethodSessionCreate, Params: Exactly(1), Desc: "internal staff login"},
	MethodSessionRetrieve: {Name: MethodSessionRetrieve, Params: Exactly(1), Desc: "verify an authtoken"},
	MethodXactBegin:       {Name: MethodXactBegin, Params: Exactly(1), Desc: "open a write transaction"},
	MethodXactCommit:      {Name: MethodXactCommit, Params: Exactly(1), Desc: "commit the open transaction"},
	MethodXactRollback:    {Name: MethodXactRollback, Params: Exactly(1), Desc: "roll back the open transaction"},
	MethodPatronXacts:     {Name: MethodPatronXacts, Params: Exactly(2), Desc: "open transactions with a balance"},
	MethodPayment:         {Name: MethodPayment, Params: Range(2, 3), Desc: "apply payments"},
	MethodVerifyPassword:  {Name: MethodVerifyPassword, Params: Exactly(3), Desc: "check a patron password"},
	MethodFinesSummary:    {Name: MethodFinesSummary, Params: Exactly(2), Desc: "patron balance summary"},
	MethodCheckedOutCount: {Name: MethodCheckedOutCount, Params: Exactly(2), Desc: "patron circulation counts"},
	MethodHoldCount:       {Name: MethodHoldCount, Params: Exactly(2), Desc: "patron hold counts"},
	MethodCopyHoldQueue:   {Name: MethodCopyHoldQueue, Params: Exactly(2), Desc: "holds targeting a copy"},
}

// LookupMethod returns the definition for name. pcrud search and retrieve
// methods are matched by prefix.
func LookupMethod(name string) (MethodDef, bool) {
	if def, ok := methodDefs[name]; ok {
		return def, true
	}
	switch {
	case strings.HasPrefix(name, pcrudSearchPrefix):
		return MethodDef{Name: name, Params: Range(2, 3), Desc: "pcrud search"}, true
	case strings.HasPrefix(name, pcrudRetrievePrefix):
		return MethodDef{Name: name, Params: Range(2, 3), Desc: "pcrud retrieve"}, true
	}
	return MethodDef{}, false
}

// Service is the backend service a method belongs to.
func Service(method string) string {
	parts := strings.SplitN(method, ".", 3)
	if len(parts) < 2 {
		return method
	}
	return parts[0] + "." + parts[1]
}

func SearchMethod(class string) string {
	return pcrudSearchPrefix + class + pcrudAtomicSuffix
}

func RetrieveMethod(class string) string {
	return pcrudRetrievePrefix + class
}
