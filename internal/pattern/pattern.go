// Package pattern estimates how likely a local part is to be a real person's
// mailbox from its shape alone, optionally sharpened by known name hints.
// It never touches the network; the dispatcher decides what the estimate is
// worth for a given provider.
package pattern

import (
	"strings"
	"unicode"

	"mailreach/internal/models"
)

// Shape is the recognized naming convention of a local part.
type Shape string

const (
	ShapeFirstDotLast Shape = "first.last"
	ShapeFirstLast    Shape = "firstlast"
	ShapeInitialLast  Shape = "f.last"
	ShapeFirst        Shape = "first"
	ShapeFirstDigits  Shape = "first_digits"
	ShapeRandom       Shape = "random"
)

// Hint match outcomes.
const (
	HintNone          = ""
	HintExact         = "exact"
	HintPartial       = "partial"
	HintContradiction = "contradiction"
)

// Base confidence per shape. Corporate mailboxes overwhelmingly follow the
// first.last family; bare given names are common at small companies; trailing
// digits usually mean a freemail import; gibberish means machine-generated.
var shapeConfidence = map[Shape]float64{
	ShapeFirstDotLast: 0.90,
	ShapeFirstLast:    0.85,
	ShapeInitialLast:  0.80,
	ShapeFirst:        0.75,
	ShapeFirstDigits:  0.50,
	ShapeRandom:       0.10,
}

// Estimate is the pattern verdict for one local part.
type Estimate struct {
	Shape      Shape
	Confidence float64
	HintMatch  string
}

// Score classifies the local part's shape and applies name hints when given:
// an exact convention match floors the confidence at 0.95, a partial match at
// 0.80, and a contradiction caps it at 0.20.
func Score(local string, hint models.PersonHint) Estimate {
	shape := classifyShape(local)
	est := Estimate{Shape: shape, Confidence: shapeConfidence[shape], HintMatch: HintNone}

	first := cleanName(hint.First)
	last := cleanName(hint.Last)
	if first == "" && last == "" {
		return est
	}

	switch matchHint(local, first, last) {
	case HintExact:
		est.HintMatch = HintExact
		if est.Confidence < 0.95 {
			est.Confidence = 0.95
		}
	case HintPartial:
		est.HintMatch = HintPartial
		if est.Confidence < 0.80 {
			est.Confidence = 0.80
		}
	case HintContradiction:
		est.HintMatch = HintContradiction
		if est.Confidence > 0.20 {
			est.Confidence = 0.20
		}
	}
	return est
}

func classifyShape(local string) Shape {
	tokens := splitTokens(local)
	switch len(tokens) {
	case 0:
		return ShapeRandom
	case 1:
		return classifySingle(tokens[0])
	case 2:
		if isAlpha(tokens[0]) && isAlpha(tokens[1]) {
			if runeLen(tokens[0]) == 1 && runeLen(tokens[1]) >= 2 {
				return ShapeInitialLast
			}
			if runeLen(tokens[0]) >= 2 && runeLen(tokens[1]) >= 2 {
				return ShapeFirstDotLast
			}
		}
		return classifyNoisy(tokens)
	default:
		// first.middle.last and friends read as the dotted convention.
		for _, tok := range tokens {
			if !isAlpha(tok) {
				return classifyNoisy(tokens)
			}
		}
		return ShapeFirstDotLast
	}
}

func classifySingle(tok string) Shape {
	if isAlpha(tok) {
		if runeLen(tok) < 2 || looksRandom(tok) {
			return ShapeRandom
		}
		if runeLen(tok) > 8 {
			return ShapeFirstLast
		}
		return ShapeFirst
	}
	if head, ok := alphaWithDigitTail(tok); ok {
		if looksRandom(head) {
			return ShapeRandom
		}
		return ShapeFirstDigits
	}
	return ShapeRandom
}

// classifyNoisy handles token sets with digits or symbols mixed in. A digit
// tail on an otherwise clean convention keeps a weak score; anything else is
// treated as machine-generated.
func classifyNoisy(tokens []string) Shape {
	last := tokens[len(tokens)-1]
	allAlphaButLast := true
	for _, tok := range tokens[:len(tokens)-1] {
		if !isAlpha(tok) {
			allAlphaButLast = false
			break
		}
	}
	if allAlphaButLast {
		if isDigits(last) {
			return ShapeFirstDigits
		}
		if _, ok := alphaWithDigitTail(last); ok {
			return ShapeFirstDigits
		}
	}
	return ShapeRandom
}

func matchHint(local, first, last string) string {
	if first != "" && last != "" {
		initial := string([]rune(first)[0])
		exact := []string{
			first + "." + last,
			first + last,
			initial + "." + last,
			last + "." + first,
			first + "_" + last,
			first + "-" + last,
		}
		for _, form := range exact {
			if local == form {
				return HintExact
			}
		}
	}
	if containsName(local, first) || containsName(local, last) {
		return HintPartial
	}
	if first != "" && last != "" && hasAlpha(local) {
		return HintContradiction
	}
	return HintNone
}

// containsName requires at least three characters so single letters and
// particles do not count as evidence.
func containsName(local, name string) bool {
	return runeLen(name) >= 3 && strings.Contains(local, name)
}

func cleanName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func splitTokens(local string) []string {
	return strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func hasAlpha(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// alphaWithDigitTail splits forms like jane2024 into their letter head.
func alphaWithDigitTail(s string) (string, bool) {
	i := 0
	runes := []rune(s)
	for i < len(runes) && unicode.IsLetter(runes[i]) {
		i++
	}
	if i == 0 || i == len(runes) {
		return "", false
	}
	for _, r := range runes[i:] {
		if !unicode.IsDigit(r) {
			return "", false
		}
	}
	return string(runes[:i]), true
}

func runeLen(s string) int { return len([]rune(s)) }

// looksRandom flags locals that no human would choose as a name: very long
// strings, hex blobs, and vowelless or consonant-jammed sequences. Non-ASCII
// letters are assumed to be names in another script.
func looksRandom(s string) bool {
	for _, r := range s {
		if r > 127 {
			return false
		}
	}
	n := runeLen(s)
	if n >= 20 {
		return true
	}
	vowels := 0
	run := 0
	maxRun := 0
	for _, r := range s {
		if strings.ContainsRune("aeiouy", r) {
			vowels++
			run = 0
		} else {
			run++
			if run > maxRun {
				maxRun = run
			}
		}
	}
	if n >= 6 && vowels == 0 {
		return true
	}
	if maxRun >= 5 {
		return true
	}
	if n >= 10 && isHexString(s) {
		return true
	}
	return false
}

func isHexString(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}
