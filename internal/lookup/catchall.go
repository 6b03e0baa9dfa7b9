package lookup

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"mailreach/internal/models"
)

var catchAllFirstNames = []string{"alex", "michael", "sarah", "david", "emma", "chris", "jessica", "matthew", "amanda", "daniel"}
var catchAllLastNames = []string{"smith", "jones", "taylor", "brown", "williams", "wilson", "johnson", "davis", "miller", "martin"}

// randomLocal builds a mailbox name that looks human but cannot plausibly
// exist: name.name.hex, always at least 16 characters. Name-shaped probes
// avoid the pattern filters some gateways apply to obvious gibberish.
func randomLocal() string {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		return "michael.smith.90a1f3"
	}
	first := catchAllFirstNames[int(b[0])%len(catchAllFirstNames)]
	last := catchAllLastNames[int(b[1])%len(catchAllLastNames)]
	return first + "." + last + "." + hex.EncodeToString(b[2:])
}

// ProbeCatchAll asks the domain's MX whether a mailbox that cannot exist is
// accepted. Acceptance means every RCPT will succeed there and a 250 proves
// nothing about any particular address.
//
// The state is only decided from a completed RCPT round-trip: 2xx is yes,
// 5xx is no, a deferral is unreachable. Overload and cancellation surface as
// errors so the caller does not cache them.
func (p *Prober) ProbeCatchAll(ctx context.Context, facts models.DomainFacts) (models.CatchAllState, error) {
	ghost := randomLocal() + "@" + facts.Domain
	r, err := p.Probe(ctx, facts, ghost)
	if err != nil {
		if errors.Is(err, ErrOverloaded) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return models.CatchAllUnknown, err
		}
		if errors.Is(err, ErrUnreachable) {
			return models.CatchAllUnreachable, nil
		}
		return models.CatchAllUnknown, err
	}
	switch {
	case r.Code/100 == 2:
		return models.CatchAllYes, nil
	case r.Code/100 == 5:
		return models.CatchAllNo, nil
	default:
		return models.CatchAllUnreachable, nil
	}
}
