package lookup

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/foxcpp/go-mockdns"
	"github.com/miekg/dns"
)

// scriptedExchanger answers each query type with a canned reply.
type scriptedExchanger struct {
	rcode   int
	answers map[uint16][]string // qtype -> zone-format records
	err     error
}

func (s *scriptedExchanger) ExchangeContext(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, time.Duration, error) {
	if s.err != nil {
		return nil, 0, s.err
	}
	reply := new(dns.Msg)
	reply.SetRcode(m, s.rcode)
	for _, txt := range s.answers[m.Question[0].Qtype] {
		rr, err := dns.NewRR(txt)
		if err != nil {
			panic(err)
		}
		reply.Answer = append(reply.Answer, rr)
	}
	return reply, 0, nil
}

func TestClientResolveMX(t *testing.T) {
	exch := &scriptedExchanger{
		rcode: dns.RcodeSuccess,
		answers: map[uint16][]string{
			dns.TypeMX: {
				"acme.example. 1800 IN MX 20 backup.mail.example.",
				"acme.example. 1800 IN MX 10 mx1.mail.example.",
				"acme.example. 900 IN MX 10 mx1.mail.example.",
			},
		},
	}
	c := NewClientWithExchanger([]string{"127.0.0.53:53"}, exch)

	res, err := c.ResolveMX(context.Background(), "acme.example")
	if err != nil {
		t.Fatalf("ResolveMX failed: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("got %d records, want 2 (duplicate host dropped): %+v", len(res.Records), res.Records)
	}
	if res.Records[0].Host != "mx1.mail.example" || res.Records[0].Pref != 10 {
		t.Errorf("first record = %+v, want mx1.mail.example pref 10", res.Records[0])
	}
	if res.Records[1].Host != "backup.mail.example" {
		t.Errorf("second record = %+v, want backup.mail.example", res.Records[1])
	}
	if res.TTL != 900*time.Second {
		t.Errorf("TTL = %v, want smallest record TTL 900s", res.TTL)
	}
}

func TestClientNXDomain(t *testing.T) {
	c := NewClientWithExchanger([]string{"127.0.0.53:53"},
		&scriptedExchanger{rcode: dns.RcodeNameError})

	_, err := c.ResolveMX(context.Background(), "nxdomain.invalid")
	if !errors.Is(err, ErrNoDomain) {
		t.Fatalf("err = %v, want ErrNoDomain", err)
	}
}

func TestClientServfailIsTemporary(t *testing.T) {
	c := NewClientWithExchanger([]string{"127.0.0.53:53"},
		&scriptedExchanger{rcode: dns.RcodeServerFailure})

	_, err := c.ResolveMX(context.Background(), "flaky.example")
	if !errors.Is(err, ErrDNSTemporary) {
		t.Fatalf("err = %v, want ErrDNSTemporary", err)
	}
}

func TestClientNullMX(t *testing.T) {
	exch := &scriptedExchanger{
		rcode: dns.RcodeSuccess,
		answers: map[uint16][]string{
			dns.TypeMX: {"nomail.example. 3600 IN MX 0 ."},
		},
	}
	c := NewClientWithExchanger([]string{"127.0.0.53:53"}, exch)

	_, err := c.ResolveMX(context.Background(), "nomail.example")
	if !errors.Is(err, ErrNullMX) {
		t.Fatalf("err = %v, want ErrNullMX", err)
	}
}

func TestClientFallsBackToA(t *testing.T) {
	exch := &scriptedExchanger{
		rcode: dns.RcodeSuccess,
		answers: map[uint16][]string{
			dns.TypeA: {"bare.example. 600 IN A 192.0.2.10"},
		},
	}
	c := NewClientWithExchanger([]string{"127.0.0.53:53"}, exch)

	res, err := c.ResolveMX(context.Background(), "bare.example")
	if err != nil {
		t.Fatalf("ResolveMX failed: %v", err)
	}
	if len(res.Records) != 1 || !res.Records[0].Implicit {
		t.Fatalf("records = %+v, want single implicit record", res.Records)
	}
	if res.Records[0].Host != "bare.example" {
		t.Errorf("fallback host = %q, want the domain itself", res.Records[0].Host)
	}
}

func TestStdResolver(t *testing.T) {
	r := &mockdns.Resolver{Zones: map[string]mockdns.Zone{
		"corp.example.": {
			MX: []net.MX{
				{Host: "mx2.corp.example.", Pref: 20},
				{Host: "mx1.corp.example.", Pref: 5},
			},
		},
		"bare.example.": {
			A: []string{"192.0.2.11"},
		},
	}}
	s := &StdResolver{R: r}
	ctx := context.Background()

	res, err := s.ResolveMX(ctx, "corp.example")
	if err != nil {
		t.Fatalf("ResolveMX failed: %v", err)
	}
	if len(res.Records) != 2 || res.Records[0].Host != "mx1.corp.example" {
		t.Fatalf("records = %+v, want mx1 first", res.Records)
	}

	res, err = s.ResolveMX(ctx, "bare.example")
	if err != nil {
		t.Fatalf("fallback ResolveMX failed: %v", err)
	}
	if len(res.Records) != 1 || !res.Records[0].Implicit {
		t.Fatalf("records = %+v, want single implicit fallback", res.Records)
	}

	_, err = s.ResolveMX(ctx, "gone.example")
	if !errors.Is(err, ErrNoDomain) {
		t.Fatalf("err = %v, want ErrNoDomain for missing zone", err)
	}
}
