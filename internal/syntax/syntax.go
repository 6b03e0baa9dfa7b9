// Package syntax normalizes raw email input into the canonical Address used
// as the verdict key, and computes the static classification flags (role,
// free, disposable). Everything here is deterministic and does no I/O.
package syntax

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"

	"mailreach/internal/lookup"
	"mailreach/internal/models"
)

// ErrSyntax marks input that fails the practical RFC 5322 subset. It is the
// only condition the pipeline reports as an error instead of a verdict.
var ErrSyntax = errors.New("invalid email syntax")

const (
	maxAddressLen = 254
	maxLocalLen   = 64
	maxLabelLen   = 63
)

// atext per RFC 5321, plus dot which we validate positionally below.
const localSpecials = "!#$%&'*+/=?^_`{|}~.-"

// Parse normalizes raw input and classifies it. The returned error wraps
// ErrSyntax for malformed input; the Address is still populated with the
// partial split so callers can echo it back.
func Parse(raw string) (models.Address, error) {
	addr := models.Address{Raw: raw}

	s := strings.TrimSpace(raw)
	s = norm.NFC.String(s)
	s = strings.ToLower(s)

	if s == "" {
		return addr, fmt.Errorf("%w: empty input", ErrSyntax)
	}
	if len(s) > maxAddressLen {
		return addr, fmt.Errorf("%w: longer than %d characters", ErrSyntax, maxAddressLen)
	}
	if strings.Count(s, "@") != 1 {
		return addr, fmt.Errorf("%w: must contain exactly one @", ErrSyntax)
	}

	at := strings.Index(s, "@")
	local, domain := s[:at], s[at+1:]
	addr.Local, addr.Domain = local, domain

	if err := checkLocal(local); err != nil {
		return addr, err
	}
	if err := checkDomain(domain); err != nil {
		return addr, err
	}

	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return addr, fmt.Errorf("%w: domain %q is not a valid IDNA name", ErrSyntax, domain)
	}

	// Aliasing providers deliver a.b+tag@ and ab@ to the same mailbox, so the
	// verdict key must collapse them.
	if canon, ok := lookup.AliasingDomain(domain); ok {
		if i := strings.Index(local, "+"); i >= 0 {
			local = local[:i]
		}
		local = strings.ReplaceAll(local, ".", "")
		domain = canon
		ascii = canon
		if local == "" {
			return addr, fmt.Errorf("%w: local part is only alias decoration", ErrSyntax)
		}
	}

	addr.Local = local
	addr.Domain = domain
	addr.ASCIIDomain = ascii
	addr.Normalized = local + "@" + domain
	addr.SyntaxOK = true
	addr.Role = lookup.IsRoleLocal(local)
	addr.Free = lookup.IsFreeDomain(domain)
	addr.Disposable = lookup.IsDisposableDomain(domain)
	return addr, nil
}

func checkLocal(local string) error {
	if local == "" {
		return fmt.Errorf("%w: empty local part", ErrSyntax)
	}
	if len(local) > maxLocalLen {
		return fmt.Errorf("%w: local part longer than %d characters", ErrSyntax, maxLocalLen)
	}
	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") {
		return fmt.Errorf("%w: local part starts or ends with a dot", ErrSyntax)
	}
	if strings.Contains(local, "..") {
		return fmt.Errorf("%w: local part contains consecutive dots", ErrSyntax)
	}
	for _, r := range local {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case strings.ContainsRune(localSpecials, r):
		case r > 127:
			// Internationalized locals pass through; SMTPUTF8 servers decide.
		default:
			return fmt.Errorf("%w: local part contains %q", ErrSyntax, r)
		}
	}
	return nil
}

func checkDomain(domain string) error {
	if domain == "" {
		return fmt.Errorf("%w: empty domain", ErrSyntax)
	}
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return fmt.Errorf("%w: domain %q has no TLD", ErrSyntax, domain)
	}
	for _, label := range labels {
		if label == "" {
			return fmt.Errorf("%w: empty label in domain %q", ErrSyntax, domain)
		}
		if len(label) > maxLabelLen {
			return fmt.Errorf("%w: label %q longer than %d characters", ErrSyntax, label, maxLabelLen)
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return fmt.Errorf("%w: label %q starts or ends with a hyphen", ErrSyntax, label)
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z':
			case r >= '0' && r <= '9':
			case r == '-':
			case r > 127:
			default:
				return fmt.Errorf("%w: domain contains %q", ErrSyntax, r)
			}
		}
	}
	tld := labels[len(labels)-1]
	if len([]rune(tld)) < 2 {
		return fmt.Errorf("%w: TLD %q too short", ErrSyntax, tld)
	}
	for _, r := range tld {
		if (r < 'a' || r > 'z') && r <= 127 {
			return fmt.Errorf("%w: TLD %q is not alphabetic", ErrSyntax, tld)
		}
	}
	return nil
}
