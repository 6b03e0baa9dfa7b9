package validator

import (
	"context"
	"errors"
	"math"

	"mailreach/internal/lookup"
	"mailreach/internal/models"
)

// Fast-tier confidence model. The provider prior captures what the domain's
// mail stack alone tells us; the adjustments below fold in what the address
// adds. With the shipped thresholds only consumer Gmail clears the 0.85
// gate (0.45 prior + 0.30 provider + 0.10 personal): Google rejects unknown
// RCPTs reliably enough that a syntactically valid, non-role address there
// is deliverable with near-certainty. Everything else goes to SMTP.
const (
	BumpGoogle    = 0.30 // strict RCPT behavior, no consumer catch-alls
	BumpMicrosoft = 0.20 // strict for 365 tenants without catch-all rules
	BumpFree      = 0.10 // other free providers validate at signup
	BumpPersonal  = 0.10 // not a role account, not disposable

	PenaltyDisposable = 0.20
	PenaltyUnknown    = 0.10 // no provider classification at all
)

// FastConfidence scores deliverability before any SMTP conversation.
// The result is clamped to [0, 1].
func FastConfidence(addr models.Address, prov lookup.Provider) float64 {
	confidence := prov.Prior

	switch prov.Tag {
	case lookup.ProviderGmail, lookup.ProviderGoogleWS:
		confidence += BumpGoogle
	case lookup.ProviderM365:
		confidence += BumpMicrosoft
	default:
		if addr.Free {
			confidence += BumpFree
		}
	}
	if !addr.Role && !addr.Disposable {
		confidence += BumpPersonal
	}
	if addr.Disposable {
		confidence -= PenaltyDisposable
	}
	if prov.Tag == lookup.ProviderUnknown {
		confidence -= PenaltyUnknown
	}

	return math.Max(0, math.Min(1, confidence))
}

// applyProbe maps one SMTP conversation outcome onto a verdict. The catch-all
// state is consulted only for accepts: a 250 from a domain that accepts
// everything proves nothing about the mailbox.
func (v *Verifier) applyProbe(addr models.Address, facts models.DomainFacts, state models.CatchAllState, r lookup.ProbeResult) *models.Verdict {
	verdict := v.newVerdict(addr, facts, models.TierSMTP)
	verdict.CatchAll = state == models.CatchAllYes

	if r.Err != nil {
		verdict.Reachability = models.ReachabilityUnknown
		verdict.Status = models.StatusUnknown
		verdict.Error = failureReason(r.Err)
		return verdict
	}
	if r.MXHost != "" {
		verdict.MXHost = r.MXHost
	}
	verdict.SmtpCode = r.Code
	verdict.SmtpMessage = r.Message

	switch r.Class {
	case lookup.ClassAccept:
		switch {
		case state == models.CatchAllYes:
			verdict.Reachability = models.ReachabilityRisky
			verdict.Status = models.StatusCatchAll
			verdict.Error = models.ReasonCatchAll
		case addr.Role:
			// The server accepts, but role addresses are shared inboxes:
			// deliverable, still a poor outreach target.
			verdict.Reachability = models.ReachabilityRisky
			verdict.Status = models.StatusDeliverable
			verdict.Deliverable = models.Bool(true)
			verdict.Error = models.ReasonRoleAccount
		default:
			verdict.Reachability = models.ReachabilitySafe
			verdict.Status = models.StatusDeliverable
			verdict.Deliverable = models.Bool(true)
		}
	case lookup.ClassMailboxUnknown, lookup.ClassMailboxDisabled:
		verdict.Reachability = models.ReachabilityInvalid
		verdict.Status = models.StatusUndeliverable
		verdict.Deliverable = models.Bool(false)
		verdict.Error = r.Reason()
	case lookup.ClassMailboxFull:
		// Over quota still means the mailbox exists.
		verdict.Reachability = models.ReachabilityRisky
		verdict.Status = models.StatusDeliverable
		verdict.Deliverable = models.Bool(true)
		verdict.Error = models.ReasonMailboxFull
	case lookup.ClassGreylist:
		verdict.Reachability = models.ReachabilityUnknown
		verdict.Status = models.StatusGreylisted
		verdict.Error = models.ReasonGreylist
	default:
		// Policy screens, relay refusals and replies no dictionary entry
		// matched. An unmatched 5xx is deliberately not treated as proof
		// of a missing mailbox.
		verdict.Reachability = models.ReachabilityUnknown
		verdict.Status = models.StatusUnknown
		verdict.Error = r.Reason()
	}
	return verdict
}

// smtpInconclusive reports whether the SMTP tier failed to prove anything:
// soft failures, policy screens, network errors, and accepts that a
// catch-all domain makes meaningless.
func smtpInconclusive(r lookup.ProbeResult, state models.CatchAllState) bool {
	if r.Err != nil {
		return true
	}
	switch r.Class {
	case lookup.ClassAccept:
		return state == models.CatchAllYes
	case lookup.ClassMailboxUnknown, lookup.ClassMailboxDisabled, lookup.ClassMailboxFull:
		return false
	default:
		return true
	}
}

// failureReason maps a probe transport error onto a verdict reason code.
func failureReason(err error) string {
	switch {
	case errors.Is(err, lookup.ErrOverloaded):
		return models.ReasonOverloaded
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return models.ReasonTimeout
	default:
		return models.ReasonUnreachable
	}
}

func probeOutcome(r lookup.ProbeResult) string {
	if r.Err != nil {
		return "error"
	}
	return string(r.Class)
}
