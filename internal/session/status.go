package session

import (
	"fmt"

	"github.com/danmuck/sip2gate/internal/auth"
	logs "github.com/danmuck/sip2gate/internal/logging"
	"github.com/danmuck/sip2gate/internal/sip2"
)

// Positions follow the BX supported-messages layout.
const (
	bxPatronStatus = iota
	bxCheckout
	bxCheckin
	bxBlockPatron
	bxSCStatus
	bxResend
	bxLogin
	bxPatronInfo
	bxEndSession
	bxFeePaid
	bxItemInfo
	bxItemStatusUpdate
	bxPatronEnable
	bxHold
	bxRenew
	bxRenewAll
	bxWidth
)

var supported = map[int]bool{
	bxPatronStatus: true,
	bxSCStatus:     true,
	bxResend:       true,
	bxLogin:        true,
	bxPatronInfo:   true,
	bxFeePaid:      true,
	bxItemInfo:     true,
}

func supportedMessages() string {
	b := make([]byte, bxWidth)
	for i := range b {
		b[i] = sip2.YN(supported[i])[0]
	}
	return string(b)
}

// blankStatus is a patron status with no flags set.
const blankStatus = "              "

const unknownLanguage = "000"

func languageOf(req *sip2.Message) string {
	lang := req.FixedValue(0)
	if len(lang) != 3 {
		return unknownLanguage
	}
	return lang
}

func (s *Session) handleSCStatus(req *sip2.Message) (*sip2.Message, error) {
	acct, err := s.liveAccount()
	if err != nil && !s.cfg.SCStatusBeforeLogin {
		return nil, err
	}

	resp, buildErr := sip2.FromValues(sip2.MACSStatus, []string{
		"Y", "Y", "Y", "Y", "N", "N", "999", "999", sip2.DateNow(), sip2.ProtocolVersion,
	}, nil)
	if buildErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, buildErr)
	}
	if err == nil {
		resp.AddField(sip2.TagInstitutionID, acct.Institution)
	}
	resp.AddField(sip2.TagSupportedMsgs, supportedMessages())
	return resp, nil
}

func (s *Session) handleLogin(req *sip2.Message) (*sip2.Message, error) {
	username, _ := req.FieldValue(sip2.TagLoginUserID)
	password, _ := req.FieldValue(sip2.TagLoginPassword)

	acct, err := auth.StoreValidator{Store: s.accounts}.Validate(username, password)
	if err != nil {
		s.logout()
		return nil, fmt.Errorf("%w: login %q: %w", ErrAuth, username, err)
	}

	if s.account == nil || s.account.Username != acct.Username {
		s.editor.ClearAuthToken()
	}
	s.account = &acct
	s.conn.SetFraming(acct.Framing)
	logs.Infof("session.Session.handleLogin sesid=%d username=%q institution=%q framing=%s", s.id, acct.Username, acct.Institution, acct.Framing)

	return sip2.FromValues(sip2.MLoginResp, []string{"1"}, nil)
}

// handleResend repeats the last response, or asks the terminal to resend
// when there is nothing to repeat.
func (s *Session) handleResend() (*sip2.Message, error) {
	if s.last == nil {
		return requestResend(), nil
	}
	return s.last, nil
}
