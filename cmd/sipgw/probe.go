package main

import (
	"fmt"
	"io"
	"time"

	"github.com/danmuck/sip2gate/internal/sip2"
	"github.com/spf13/cobra"
)

type probeOptions struct {
	addr           string
	username       string
	password       string
	location       string
	patron         string
	patronPassword string
	item           string
	timeout        time.Duration
}

func newProbeCmd() *cobra.Command {
	var opts probeOptions
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Log in to a running gateway and exercise the supported messages.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := sip2.Dial(opts.addr, opts.timeout)
			if err != nil {
				return err
			}
			defer conn.Close()
			return probe(cmd.OutOrStdout(), conn, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", "127.0.0.1:6001", "gateway address")
	f.StringVar(&opts.username, "user", "", "SIP login user (CN)")
	f.StringVar(&opts.password, "password", "", "SIP login password (CO)")
	f.StringVar(&opts.location, "location", "", "terminal location (CP)")
	f.StringVar(&opts.patron, "patron", "", "patron barcode for 23/63")
	f.StringVar(&opts.patronPassword, "patron-password", "", "patron password (AD)")
	f.StringVar(&opts.item, "item", "", "item barcode for 17")
	f.DurationVar(&opts.timeout, "timeout", 10*time.Second, "dial and per-response timeout")
	return cmd
}

// probe sends login, status and the optional lookups, printing every
// exchange. It stops at the first failed login.
func probe(out io.Writer, conn *sip2.Conn, opts probeOptions) error {
	date := sip2.DateNow()
	steps := []struct {
		name  string
		build func() (*sip2.Message, error)
		skip  bool
	}{
		{name: "login", build: func() (*sip2.Message, error) {
			fields := [][2]string{{sip2.TagLoginUserID, opts.username}, {sip2.TagLoginPassword, opts.password}}
			if opts.location != "" {
				fields = append(fields, [2]string{sip2.TagLocationCode, opts.location})
			}
			return sip2.FromValues(sip2.MLogin, []string{"0", "0"}, fields)
		}},
		{name: "sc status", build: func() (*sip2.Message, error) {
			return sip2.FromValues(sip2.MSCStatus, []string{"0", "080", sip2.ProtocolVersion}, nil)
		}},
		{name: "item info", skip: opts.item == "", build: func() (*sip2.Message, error) {
			return sip2.FromValues(sip2.MItemInfo, []string{date}, [][2]string{{sip2.TagItemID, opts.item}})
		}},
		{name: "patron status", skip: opts.patron == "", build: func() (*sip2.Message, error) {
			return patronRequest(sip2.MPatronStatus, []string{"000", date}, opts)
		}},
		{name: "patron info", skip: opts.patron == "", build: func() (*sip2.Message, error) {
			return patronRequest(sip2.MPatronInfo, []string{"000", date, "          "}, opts)
		}},
	}

	for i, step := range steps {
		if step.skip {
			continue
		}
		req, err := step.build()
		if err != nil {
			return fmt.Errorf("build %s: %w", step.name, err)
		}
		req.Seq = i
		fmt.Fprintf(out, "> %s\n", req)
		if err := conn.Send(req); err != nil {
			return fmt.Errorf("send %s: %w", step.name, err)
		}
		resp, err := conn.RecvWithTimeout(opts.timeout)
		if err != nil {
			return fmt.Errorf("recv %s: %w", step.name, err)
		}
		if resp == nil {
			return fmt.Errorf("recv %s: no response within %s", step.name, opts.timeout)
		}
		fmt.Fprintf(out, "< %s\n", resp)
		if req.Code() == sip2.CodeLogin && resp.FixedValue(0) != "1" {
			return fmt.Errorf("login rejected for %q", opts.username)
		}
	}
	return nil
}

func patronRequest(spec *sip2.Spec, fixed []string, opts probeOptions) (*sip2.Message, error) {
	msg, err := sip2.FromValues(spec, fixed, [][2]string{{sip2.TagPatronID, opts.patron}})
	if err != nil {
		return nil, err
	}
	if opts.patronPassword != "" {
		msg.AddField(sip2.TagPatronPassword, opts.patronPassword)
	}
	return msg, nil
}
