package lookup

import (
	"strings"

	"mailreach/internal/models"
)

// Provider describes the mail infrastructure behind a domain and how much an
// RCPT TO acceptance from it can be trusted before any probing happens.
type Provider struct {
	Tag   string
	Prior float64

	// SkipCatchAll marks consumer stacks that never run domain catch-alls;
	// probing them wastes a conversation.
	SkipCatchAll bool

	// ProbeUnreliable marks stacks whose RCPT accepts everything (Microsoft
	// consumer MTAs). The SMTP tier marks these risky instead of probing.
	ProbeUnreliable bool

	// Corporate marks infrastructure where the pattern tier is allowed to
	// assert deliverability for strong name patterns.
	Corporate bool
}

const (
	ProviderGmail      = "gmail"
	ProviderGoogleWS   = "google_workspace"
	ProviderM365       = "microsoft365"
	ProviderHotmailB2C = "hotmail_b2c"
	ProviderYahoo      = "yahoo"
	ProviderICloud     = "icloud"
	ProviderProofpoint = "proofpoint"
	ProviderMimecast   = "mimecast"
	ProviderBarracuda  = "barracuda"
	ProviderGeneric    = "generic"
	ProviderUnknown    = "unknown"
)

// Microsoft consumer mailbox domains route through the B2C Outlook stack even
// before MX inspection.
var microsoftConsumerDomains = map[string]struct{}{
	"hotmail.com": {}, "outlook.com": {}, "live.com": {}, "msn.com": {},
	"hotmail.co.uk": {}, "hotmail.fr": {}, "hotmail.de": {}, "outlook.de": {},
}

var providers = map[string]Provider{
	ProviderGmail:      {Tag: ProviderGmail, Prior: 0.45, SkipCatchAll: true},
	ProviderGoogleWS:   {Tag: ProviderGoogleWS, Prior: 0.40, Corporate: true},
	ProviderM365:       {Tag: ProviderM365, Prior: 0.35, Corporate: true},
	ProviderHotmailB2C: {Tag: ProviderHotmailB2C, Prior: 0.30, SkipCatchAll: true, ProbeUnreliable: true},
	ProviderYahoo:      {Tag: ProviderYahoo, Prior: 0.30, SkipCatchAll: true},
	ProviderICloud:     {Tag: ProviderICloud, Prior: 0.30, SkipCatchAll: true},
	ProviderProofpoint: {Tag: ProviderProofpoint, Prior: 0.25, Corporate: true},
	ProviderMimecast:   {Tag: ProviderMimecast, Prior: 0.25, Corporate: true},
	ProviderBarracuda:  {Tag: ProviderBarracuda, Prior: 0.25, Corporate: true},
	ProviderGeneric:    {Tag: ProviderGeneric, Prior: 0.20, Corporate: true},
	ProviderUnknown:    {Tag: ProviderUnknown, Prior: 0},
}

// ProviderByTag returns the registry entry for a stored tag, falling back to
// the unknown bucket for tags written by older versions.
func ProviderByTag(tag string) Provider {
	if p, ok := providers[tag]; ok {
		return p
	}
	return providers[ProviderUnknown]
}

// ClassifyProvider is a pure function from a domain and its resolved MX set to
// the provider identity. MX suffixes win over the domain itself; an empty MX
// set yields the unknown bucket with a zero prior.
func ClassifyProvider(domain string, mxs []models.MX) Provider {
	domain = strings.ToLower(domain)

	if _, ok := microsoftConsumerDomains[domain]; ok {
		return providers[ProviderHotmailB2C]
	}

	for _, mx := range mxs {
		host := strings.TrimSuffix(strings.ToLower(mx.Host), ".")

		switch {
		case hasSuffix(host, ".pphosted.com") || hasSuffix(host, ".ppe-hosted.com"):
			return providers[ProviderProofpoint]
		case hasSuffix(host, ".mimecast.com"):
			return providers[ProviderMimecast]
		case hasSuffix(host, ".barracudanetworks.com"):
			return providers[ProviderBarracuda]
		case hasSuffix(host, ".olc.protection.outlook.com"):
			return providers[ProviderHotmailB2C]
		case hasSuffix(host, ".mail.protection.outlook.com") || hasSuffix(host, ".protection.outlook.com"):
			return providers[ProviderM365]
		case hasSuffix(host, ".google.com") || hasSuffix(host, ".googlemail.com"):
			if IsFreeDomain(domain) {
				return providers[ProviderGmail]
			}
			return providers[ProviderGoogleWS]
		case hasSuffix(host, ".yahoodns.net"):
			return providers[ProviderYahoo]
		case hasSuffix(host, ".mail.icloud.com") || hasSuffix(host, ".icloud.com"):
			return providers[ProviderICloud]
		}
	}

	if len(mxs) == 0 {
		return providers[ProviderUnknown]
	}
	return providers[ProviderGeneric]
}

// hasSuffix also accepts the bare apex of a dotted suffix, so "google.com"
// matches ".google.com".
func hasSuffix(host, suffix string) bool {
	return strings.HasSuffix(host, suffix) || host == strings.TrimPrefix(suffix, ".")
}
