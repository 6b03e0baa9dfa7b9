package lookup

import "strings"

// Known burner/disposable providers. Addresses on these domains are
// undeliverable for any campaign purpose and are rejected without SMTP.
var disposableDomains = map[string]struct{}{
	"temp-mail.org": {}, "10minutemail.com": {}, "guerrillamail.com": {},
	"mailinator.com": {}, "yopmail.com": {}, "throwawaymail.com": {},
	"tempmail.net": {}, "sharklasers.com": {}, "dispostable.com": {},
	"getnada.com": {}, "maildrop.cc": {}, "fakeinbox.com": {},
	"mintemail.com": {}, "mytemp.email": {}, "mohmal.com": {},
	"trashmail.com": {}, "trashmail.me": {}, "tempinbox.com": {},
	"spamgourmet.com": {}, "mailnesia.com": {}, "mailcatch.com": {},
	"tempr.email": {}, "discard.email": {}, "spam4.me": {},
	"grr.la": {}, "guerrillamailblock.com": {}, "pokemail.net": {},
	"emailondeck.com": {}, "burnermail.io": {}, "meltmail.com": {},
	"33mail.com": {}, "anonbox.net": {}, "mailexpire.com": {},
	"tempmailo.com": {}, "moakt.com": {}, "tmpmail.org": {},
}

// Free consumer mailbox providers. Membership feeds the is_free flag and the
// fast-tier confidence adjustments.
var freeDomains = map[string]struct{}{
	"gmail.com": {}, "googlemail.com": {}, "yahoo.com": {}, "ymail.com": {},
	"hotmail.com": {}, "outlook.com": {}, "live.com": {}, "msn.com": {},
	"aol.com": {}, "icloud.com": {}, "me.com": {}, "mac.com": {},
	"mail.com": {}, "gmx.com": {}, "gmx.net": {}, "gmx.de": {},
	"protonmail.com": {}, "proton.me": {}, "pm.me": {},
	"zoho.com": {}, "yandex.com": {}, "yandex.ru": {},
	"comcast.net": {}, "verizon.net": {}, "att.net": {},
	"web.de": {}, "orange.fr": {}, "free.fr": {}, "wanadoo.fr": {},
	"libero.it": {}, "seznam.cz": {}, "wp.pl": {}, "o2.pl": {},
	"mail.ru": {}, "qq.com": {}, "163.com": {}, "126.com": {},
}

// Providers whose local parts alias: dots are ignored and +tag suffixes are
// delivered to the base mailbox. Value is the canonical domain.
var aliasingDomains = map[string]string{
	"gmail.com":      "gmail.com",
	"googlemail.com": "gmail.com",
}

// MX targets that indicate the domain is parked at a registrar and cannot
// receive mail regardless of what DNS says.
var parkedMXHosts = []string{
	"secureserver.net",
	"parking.reg.ru",
	"namecheap.com",
	"domaincontrol.com",
	"h-email.net",
	"parklogic.com",
}

// Generic function mailboxes. A role account can be deliverable, but it is
// never a person, which the pattern and fast tiers care about.
var roleLocals = map[string]bool{
	"admin": true, "administrator": true, "support": true, "info": true,
	"sales": true, "contact": true, "help": true, "office": true,
	"marketing": true, "jobs": true, "careers": true, "billing": true,
	"abuse": true, "postmaster": true, "noreply": true, "no-reply": true,
	"donotreply": true, "do-not-reply": true, "webmaster": true,
	"hostmaster": true, "hr": true, "team": true, "hello": true,
	"mail": true, "email": true, "enquiries": true, "inquiries": true,
	"security": true, "legal": true, "privacy": true, "press": true,
	"media": true, "newsletter": true, "notifications": true,
	"accounts": true, "accounting": true, "finance": true, "orders": true,
	"service": true, "services": true, "root": true, "sysadmin": true,
	"feedback": true, "recruiting": true, "partnerships": true,
}

// IsDisposableDomain reports whether the domain is a known burner provider.
func IsDisposableDomain(domain string) bool {
	_, ok := disposableDomains[strings.ToLower(domain)]
	return ok
}

// IsFreeDomain reports whether the domain is a consumer mailbox provider.
func IsFreeDomain(domain string) bool {
	_, ok := freeDomains[strings.ToLower(domain)]
	return ok
}

// IsRoleLocal reports whether the local part is a generic function mailbox.
func IsRoleLocal(local string) bool {
	return roleLocals[strings.ToLower(local)]
}

// AliasingDomain returns the canonical domain for providers with local-part
// aliasing (dots and +tags ignored), and whether the domain is one of them.
func AliasingDomain(domain string) (string, bool) {
	canon, ok := aliasingDomains[strings.ToLower(domain)]
	return canon, ok
}

// IsParkedMX reports whether an MX target points at a registrar parking
// service.
func IsParkedMX(mxHost string) bool {
	host := strings.ToLower(mxHost)
	for _, parked := range parkedMXHosts {
		if strings.Contains(host, parked) {
			return true
		}
	}
	return false
}
