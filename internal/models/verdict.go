package models

import "time"

type Reachability string
type Status string
type Tier string
type CatchAllState string

const (
	ReachabilitySafe    Reachability = "safe"
	ReachabilityRisky   Reachability = "risky"
	ReachabilityInvalid Reachability = "invalid"
	ReachabilityUnknown Reachability = "unknown"

	StatusDeliverable   Status = "deliverable"
	StatusUndeliverable Status = "undeliverable"
	StatusCatchAll      Status = "catch_all"
	StatusGreylisted    Status = "greylisted"
	StatusRiskyEnriched Status = "risky_enriched"
	StatusUnknown       Status = "unknown"

	TierCache    Tier = "cache"
	TierFast     Tier = "fast"
	TierSMTP     Tier = "smtp"
	TierPattern  Tier = "pattern"
	TierEnrich   Tier = "enrichment"
	TierReverify Tier = "re-verify"

	CatchAllUnknown     CatchAllState = "unknown"
	CatchAllYes         CatchAllState = "yes"
	CatchAllNo          CatchAllState = "no"
	CatchAllUnreachable CatchAllState = "unreachable"
)

// Reason codes recorded in Verdict.Error. These are classification outcomes,
// not Go errors: the pipeline answers with a verdict even when a tier failed.
const (
	ReasonMailboxUnknown  = "mailbox_unknown"
	ReasonMailboxFull     = "mailbox_full"
	ReasonMailboxDisabled = "mailbox_disabled"
	ReasonPolicyBlock     = "policy_block"
	ReasonGreylist        = "greylist"
	ReasonRelayDenied     = "relay_denied"
	ReasonSyntax          = "syntax"
	ReasonDisposable      = "disposable_domain"
	ReasonNXDomain        = "nxdomain"
	ReasonNullMX          = "null_mx"
	ReasonNoMX            = "no_mx"
	ReasonParkedMX        = "parked_mx"
	ReasonDNSTemporary    = "dns_temporary"
	ReasonUnreachable     = "unreachable"
	ReasonProbeUnreliable = "probe_unreliable"
	ReasonCatchAll        = "catch_all"
	ReasonTimeout         = "timeout"
	ReasonOverloaded      = "overloaded"
	ReasonEnrichedNoProof = "enriched_unconfirmed"
	ReasonRoleAccount     = "role_account"
)

// Verdict is the persisted decision record for one normalized address.
// A verdict with ReachabilitySafe must either carry SmtpCode == 250 or have
// been produced by a tier whose contract asserts deliverability (a cached
// prior 250, a fast-tier provider guarantee, or enrichment plus re-probe).
type Verdict struct {
	Email        string       `json:"email"`
	Normalized   string       `json:"normalized"`
	Reachability Reachability `json:"reachability"`
	Status       Status       `json:"status"`
	Deliverable  *bool        `json:"is_deliverable"`
	CatchAll     bool         `json:"is_catch_all"`
	Disposable   bool         `json:"is_disposable"`
	Role         bool         `json:"is_role"`
	Free         bool         `json:"is_free"`
	MXHost       string       `json:"mx_host,omitempty"`
	SmtpCode     int          `json:"smtp_code"`
	SmtpMessage  string       `json:"smtp_message,omitempty"`
	Provider     string       `json:"provider,omitempty"`
	Domain       string       `json:"domain"`
	VerifiedAt   time.Time    `json:"verified_at"`
	Error        string       `json:"error,omitempty"`
	Tier         Tier         `json:"tier"`
}

// Bool is a convenience for the nullable Deliverable field.
func Bool(v bool) *bool { return &v }

// MX is one mail exchange target after resolution, ordered by Pref ascending.
// Synthetic A/AAAA fallback records carry Pref 0 and Implicit true.
type MX struct {
	Host     string `json:"host"`
	Pref     uint16 `json:"pref"`
	Implicit bool   `json:"implicit,omitempty"`
}

// DomainFacts is the per-domain ephemeral record shared across requests.
// Each attribute expires independently; zero time means never checked.
type DomainFacts struct {
	Domain       string        `json:"domain"`
	MXRecords    []MX          `json:"mx_records"`
	Provider     string        `json:"provider"`
	Prior        float64       `json:"prior"`
	CatchAll     CatchAllState `json:"catch_all"`
	MXCheckedAt  time.Time     `json:"mx_checked_at"`
	CatchAllAt   time.Time     `json:"catch_all_checked_at"`
	ProviderAt   time.Time     `json:"provider_checked_at"`
	ResolveError string        `json:"resolve_error,omitempty"`
}

// PersonHint is optional caller-supplied context for pattern and enrichment.
type PersonHint struct {
	First   string `json:"first,omitempty"`
	Last    string `json:"last,omitempty"`
	Company string `json:"company,omitempty"`
}

// Candidate is what an enrichment capability returns for a hit.
type Candidate struct {
	Source     string  `json:"source"`
	Name       string  `json:"name,omitempty"`
	Title      string  `json:"title,omitempty"`
	Confidence float64 `json:"confidence"`
}

// StoreStats is the aggregate exposed by the verdict store and /stats.
type StoreStats struct {
	Total          int64                  `json:"total"`
	ByReachability map[Reachability]int64 `json:"by_reachability"`
	CatchAll       int64                  `json:"catch_all"`
}
