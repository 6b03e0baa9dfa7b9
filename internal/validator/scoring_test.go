package validator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"mailreach/internal/lookup"
	"mailreach/internal/models"
	"mailreach/internal/store"
	"mailreach/internal/syntax"
)

func TestFastConfidence(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		provider string
		wantMin  float64
		wantMax  float64
	}{
		// ── Consumer stacks ─────────────────────────────────────────────────
		{
			name:     "Gmail Personal Address",
			email:    "john.doe@gmail.com",
			provider: lookup.ProviderGmail,
			wantMin:  0.85,
			wantMax:  0.85,
		},
		{
			name:     "Gmail Role Account",
			email:    "support@gmail.com",
			provider: lookup.ProviderGmail,
			wantMin:  0.75,
			wantMax:  0.75,
		},
		{
			name:     "Yahoo Personal Address",
			email:    "jane@yahoo.com",
			provider: lookup.ProviderYahoo,
			wantMin:  0.50,
			wantMax:  0.50,
		},
		{
			name:     "Hotmail B2C Personal Address",
			email:    "jane@hotmail.com",
			provider: lookup.ProviderHotmailB2C,
			wantMin:  0.50,
			wantMax:  0.50,
		},

		// ── Corporate stacks ────────────────────────────────────────────────
		{
			name:     "Google Workspace Personal Address",
			email:    "jane.doe@corp.test",
			provider: lookup.ProviderGoogleWS,
			wantMin:  0.80,
			wantMax:  0.80,
		},
		{
			name:     "Microsoft 365 Personal Address",
			email:    "jane.doe@corp.test",
			provider: lookup.ProviderM365,
			wantMin:  0.65,
			wantMax:  0.65,
		},
		{
			name:     "Proofpoint Gateway",
			email:    "jane.doe@corp.test",
			provider: lookup.ProviderProofpoint,
			wantMin:  0.35,
			wantMax:  0.35,
		},
		{
			name:     "Generic Corporate MX",
			email:    "jane.doe@corp.test",
			provider: lookup.ProviderGeneric,
			wantMin:  0.30,
			wantMax:  0.30,
		},

		// ── Degenerate cases ────────────────────────────────────────────────
		{
			name:     "Unclassified Provider",
			email:    "jane.doe@obscure.test",
			provider: lookup.ProviderUnknown,
			wantMin:  0.0,
			wantMax:  0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := syntax.Parse(tt.email)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.email, err)
			}
			got := FastConfidence(addr, lookup.ProviderByTag(tt.provider))
			if got < tt.wantMin-1e-9 || got > tt.wantMax+1e-9 {
				t.Errorf("FastConfidence = %.2f, want [%.2f, %.2f]", got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

// Only consumer Gmail may clear the default fast gate. Every other provider
// must keep its best-case address below 0.85 so it reaches SMTP.
func TestFastConfidenceGateOnlyGmail(t *testing.T) {
	addr, err := syntax.Parse("jane.doe@example.test")
	if err != nil {
		t.Fatal(err)
	}
	addr.Free = true // best case for the free-provider bump

	tags := []string{
		lookup.ProviderGmail, lookup.ProviderGoogleWS, lookup.ProviderM365,
		lookup.ProviderHotmailB2C, lookup.ProviderYahoo, lookup.ProviderICloud,
		lookup.ProviderProofpoint, lookup.ProviderMimecast, lookup.ProviderBarracuda,
		lookup.ProviderGeneric, lookup.ProviderUnknown,
	}
	for _, tag := range tags {
		got := FastConfidence(addr, lookup.ProviderByTag(tag))
		if tag == lookup.ProviderGmail {
			if got < 0.85 {
				t.Errorf("gmail confidence = %.2f, want >= 0.85", got)
			}
			continue
		}
		if got >= 0.85 {
			t.Errorf("%s confidence = %.2f, want < 0.85", tag, got)
		}
	}
}

func TestApplyProbe(t *testing.T) {
	tests := []struct {
		name      string
		email     string
		state     models.CatchAllState
		class     lookup.ReplyClass
		code      int
		wantReach models.Reachability
		wantStat  models.Status
		wantErr   string
		wantDeliv *bool
	}{
		// ── Accepts ─────────────────────────────────────────────────────────
		{
			name:      "Accept On Strict Domain",
			email:     "jane.doe@corp.test",
			state:     models.CatchAllNo,
			class:     lookup.ClassAccept,
			code:      250,
			wantReach: models.ReachabilitySafe,
			wantStat:  models.StatusDeliverable,
			wantDeliv: models.Bool(true),
		},
		{
			name:      "Accept On Catch-All Domain",
			email:     "jane.doe@corp.test",
			state:     models.CatchAllYes,
			class:     lookup.ClassAccept,
			code:      250,
			wantReach: models.ReachabilityRisky,
			wantStat:  models.StatusCatchAll,
			wantErr:   models.ReasonCatchAll,
		},
		{
			name:      "Accept For Role Account",
			email:     "support@corp.test",
			state:     models.CatchAllNo,
			class:     lookup.ClassAccept,
			code:      250,
			wantReach: models.ReachabilityRisky,
			wantStat:  models.StatusDeliverable,
			wantErr:   models.ReasonRoleAccount,
			wantDeliv: models.Bool(true),
		},

		// ── Rejections ──────────────────────────────────────────────────────
		{
			name:      "Mailbox Unknown",
			email:     "gone@corp.test",
			state:     models.CatchAllNo,
			class:     lookup.ClassMailboxUnknown,
			code:      550,
			wantReach: models.ReachabilityInvalid,
			wantStat:  models.StatusUndeliverable,
			wantErr:   models.ReasonMailboxUnknown,
			wantDeliv: models.Bool(false),
		},
		{
			name:      "Mailbox Disabled",
			email:     "old@corp.test",
			state:     models.CatchAllNo,
			class:     lookup.ClassMailboxDisabled,
			code:      550,
			wantReach: models.ReachabilityInvalid,
			wantStat:  models.StatusUndeliverable,
			wantErr:   models.ReasonMailboxDisabled,
			wantDeliv: models.Bool(false),
		},
		{
			name:      "Mailbox Full Still Exists",
			email:     "packed@corp.test",
			state:     models.CatchAllNo,
			class:     lookup.ClassMailboxFull,
			code:      452,
			wantReach: models.ReachabilityRisky,
			wantStat:  models.StatusDeliverable,
			wantErr:   models.ReasonMailboxFull,
			wantDeliv: models.Bool(true),
		},

		// ── Soft and screened replies ───────────────────────────────────────
		{
			name:      "Greylisted",
			email:     "jane@corp.test",
			state:     models.CatchAllNo,
			class:     lookup.ClassGreylist,
			code:      451,
			wantReach: models.ReachabilityUnknown,
			wantStat:  models.StatusGreylisted,
			wantErr:   models.ReasonGreylist,
		},
		{
			name:      "Policy Block",
			email:     "jane@corp.test",
			state:     models.CatchAllNo,
			class:     lookup.ClassPolicyBlock,
			code:      554,
			wantReach: models.ReachabilityUnknown,
			wantStat:  models.StatusUnknown,
			wantErr:   models.ReasonPolicyBlock,
		},
		{
			name:      "Unmatched 5xx Stays Unknown",
			email:     "jane@corp.test",
			state:     models.CatchAllNo,
			class:     lookup.ClassAmbiguous,
			code:      554,
			wantReach: models.ReachabilityUnknown,
			wantStat:  models.StatusUnknown,
		},
	}

	v := New(Deps{Store: store.NewMemory()}, Options{TieredEnabled: true})
	facts := models.DomainFacts{
		Domain:    "corp.test",
		MXRecords: []models.MX{{Host: "mx.corp.test", Pref: 10}},
		Provider:  lookup.ProviderGeneric,
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := syntax.Parse(tt.email)
			if err != nil {
				t.Fatal(err)
			}
			r := lookup.ProbeResult{
				Classification: lookup.Classification{Class: tt.class, Code: tt.code, Message: "reply"},
				Email:          addr.Normalized,
				MXHost:         "mx.corp.test",
			}
			got := v.applyProbe(addr, facts, tt.state, r)

			if got.Reachability != tt.wantReach {
				t.Errorf("reachability = %s, want %s", got.Reachability, tt.wantReach)
			}
			if got.Status != tt.wantStat {
				t.Errorf("status = %s, want %s", got.Status, tt.wantStat)
			}
			if got.Error != tt.wantErr {
				t.Errorf("error = %q, want %q", got.Error, tt.wantErr)
			}
			if (got.Deliverable == nil) != (tt.wantDeliv == nil) {
				t.Fatalf("deliverable = %v, want %v", got.Deliverable, tt.wantDeliv)
			}
			if got.Deliverable != nil && *got.Deliverable != *tt.wantDeliv {
				t.Errorf("deliverable = %v, want %v", *got.Deliverable, *tt.wantDeliv)
			}
			if got.SmtpCode != tt.code {
				t.Errorf("smtp code = %d, want %d", got.SmtpCode, tt.code)
			}
			if got.Tier != models.TierSMTP {
				t.Errorf("tier = %s, want %s", got.Tier, models.TierSMTP)
			}
			if wantCatchAll := tt.state == models.CatchAllYes; got.CatchAll != wantCatchAll {
				t.Errorf("catch_all = %v, want %v", got.CatchAll, wantCatchAll)
			}
		})
	}
}

func TestSmtpInconclusive(t *testing.T) {
	tests := []struct {
		name  string
		r     lookup.ProbeResult
		state models.CatchAllState
		want  bool
	}{
		{"accept strict", reply(lookup.ClassAccept, 250), models.CatchAllNo, false},
		{"accept catch-all", reply(lookup.ClassAccept, 250), models.CatchAllYes, true},
		{"mailbox unknown", reply(lookup.ClassMailboxUnknown, 550), models.CatchAllNo, false},
		{"mailbox full", reply(lookup.ClassMailboxFull, 452), models.CatchAllNo, false},
		{"greylist", reply(lookup.ClassGreylist, 451), models.CatchAllNo, true},
		{"policy block", reply(lookup.ClassPolicyBlock, 554), models.CatchAllNo, true},
		{"ambiguous", reply(lookup.ClassAmbiguous, 550), models.CatchAllNo, true},
		{"transport error", lookup.ProbeResult{Err: errors.New("reset")}, models.CatchAllNo, true},
	}
	for _, tt := range tests {
		if got := smtpInconclusive(tt.r, tt.state); got != tt.want {
			t.Errorf("%s: smtpInconclusive = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{lookup.ErrOverloaded, models.ReasonOverloaded},
		{fmt.Errorf("wrapped: %w", lookup.ErrOverloaded), models.ReasonOverloaded},
		{context.DeadlineExceeded, models.ReasonTimeout},
		{context.Canceled, models.ReasonTimeout},
		{lookup.ErrUnreachable, models.ReasonUnreachable},
		{errors.New("connection reset"), models.ReasonUnreachable},
	}
	for _, tt := range tests {
		if got := failureReason(tt.err); got != tt.want {
			t.Errorf("failureReason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func reply(class lookup.ReplyClass, code int) lookup.ProbeResult {
	return lookup.ProbeResult{Classification: lookup.Classification{Class: class, Code: code, Message: "reply"}}
}
