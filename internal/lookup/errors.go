package lookup

import (
	"regexp"

	"mailreach/internal/models"
)

// ReplyClass is the outcome of classifying one SMTP reply. Classification is
// a pure function of (code, text): same reply, same class, always.
type ReplyClass string

const (
	ClassAccept          ReplyClass = "accept"
	ClassMailboxUnknown  ReplyClass = "mailbox_unknown"
	ClassMailboxFull     ReplyClass = "mailbox_full"
	ClassMailboxDisabled ReplyClass = "mailbox_disabled"
	ClassPolicyBlock     ReplyClass = "policy_block"
	ClassGreylist        ReplyClass = "greylist"
	ClassRelayDenied     ReplyClass = "relay_denied"
	ClassAmbiguous       ReplyClass = "ambiguous"
)

// Classification carries the class plus the raw reply it was derived from.
type Classification struct {
	Class     ReplyClass
	Code      int
	Message   string
	Permanent bool
}

func compileAll(exprs []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile("(?i)"+e))
	}
	return out
}

// Mailbox-does-not-exist replies. English first, then French, German,
// Spanish, Italian, Portuguese, Dutch, Polish, Czech.
var mailboxUnknownPatterns = compileAll([]string{
	`user unknown`,
	`unknown user`,
	`user not found`,
	`no such user`,
	`mailbox not found`,
	`mailbox unavailable`,
	`recipient not found`,
	`recipient rejected`,
	`recipient unknown`,
	`unknown recipient`,
	`address rejected`,
	`address unknown`,
	`does not exist`,
	`doesn't exist`,
	`no mailbox`,
	`invalid address`,
	`invalid recipient`,
	`invalid mailbox`,
	`undeliverable`,
	`bad destination`,
	`unknown address`,
	`account .* not found`,
	`no such account`,
	`mailbox .* does not exist`,
	`email address .* not found`,
	`is not a valid mailbox`,
	`not our customer`,
	`no such recipient`,
	`verification failed`,
	`recipient address denied`,
	// French
	`utilisateur inconnu`,
	`adresse .* introuvable`,
	`destinataire inconnu`,
	`bo[iî]te .* introuvable`,
	`n'existe pas`,
	// German
	`postfach nicht gefunden`,
	`benutzer nicht gefunden`,
	`empf[aä]nger .* unbekannt`,
	`unbekannter empf[aä]nger`,
	`existiert nicht`,
	// Spanish
	`usuario desconocido`,
	`destinatario desconocido`,
	`buz[oó]n no encontrado`,
	`no existe`,
	`direcci[oó]n .* inv[aá]lida`,
	// Italian
	`utente sconosciuto`,
	`destinatario sconosciuto`,
	`casella .* non trovata`,
	`non esiste`,
	// Portuguese
	`usu[aá]rio desconhecido`,
	`caixa .* n[aã]o encontrada`,
	// Dutch
	`gebruiker onbekend`,
	`bestaat niet`,
	// Polish
	`u[zż]ytkownik nieznany`,
	`skrzynka .* nie istnieje`,
	`odbiorca nieznany`,
	`nie istnieje`,
	// Czech
	`u[zž]ivatel nenalezen`,
	`adresa nenalezena`,
	`p[rř][ií]jemce nenalezen`,
	`neexistuje`,
})

// Weaker mailbox vocabulary: enough to treat an otherwise-unmatched 550/551/
// 553 as a mailbox verdict, not enough to classify on its own.
var mailboxWordPattern = regexp.MustCompile(`(?i)mailbox|recipient|user|address|account|postfach|destinataire|buz[oó]n|casella|skrzynka`)

// Sending-IP reputation blocks. These say nothing about the target mailbox.
var policyBlockPatterns = compileAll([]string{
	`spamhaus`,
	`proofpoint`,
	`cloudmark`,
	`barracuda`,
	`sorbs`,
	`spamcop`,
	`blocked.*ip`,
	`ip.*blocked`,
	`blacklist`,
	`blocklist`,
	`denied.*ip`,
	`ip.*denied`,
	`reject.*ip`,
	`listed.*rbl`,
	`rbl.*listed`,
	`dnsbl`,
	`your ip .* has been .* blocked`,
	`connection .* refused`,
	`access denied`,
	`not allowed to send`,
	`service refused`,
	`spam detected`,
	`poor reputation`,
})

var greylistPatterns = compileAll([]string{
	`try again later`,
	`temporarily rejected`,
	`please try again`,
	`temporary.*failure`,
	`temporary.*error`,
	`greylisted`,
	`greylist`,
	`too many connections`,
	`rate limit`,
	`come back later`,
	`defer.*connection`,
	`resource temporarily unavailable`,
	`service temporarily unavailable`,
	`retry later`,
	`zkuste to pozd[eě]ji`, // Czech
	`sp[aä]ter .* erneut`,  // German
})

var mailboxFullPatterns = compileAll([]string{
	`mailbox full`,
	`mailbox .* full`,
	`over.*quota`,
	`quota exceeded`,
	`insufficient.*storage`,
	`not enough space`,
	`user .* over .* quota`,
	`exceeded.*storage`,
	`bo[iî]te .* pleine`,  // French
	`postfach .* voll`,    // German
	`buz[oó]n .* lleno`,   // Spanish
	`casella .* piena`,    // Italian
	`caixa .* cheia`,      // Portuguese
	`skrzynka .* pe[lł]na`, // Polish
})

var mailboxDisabledPatterns = compileAll([]string{
	`account .* disabled`,
	`account .* suspended`,
	`account .* deactivated`,
	`account .* locked`,
	`account has been disabled`,
	`mailbox .* disabled`,
	`mailbox .* inactive`,
	`mailbox disabled`,
	`user .* disabled`,
	`temporarily disabled`,
	`compte .* d[eé]sactiv[eé]`, // French
	`konto .* deaktiviert`,      // German
	`cuenta .* desactivada`,     // Spanish
})

var relayDeniedPatterns = compileAll([]string{
	`relay not permitted`,
	`relaying denied`,
	`relay access denied`,
	`unable to relay`,
	`relay.*rejected`,
	`open relay`,
})

func matchAny(message string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(message) {
			return true
		}
	}
	return false
}

// ClassifyReply maps one SMTP reply to its dictionary class.
//
// Order matters: relay denials and reputation blocks shield everything else,
// because both produce rejection text that says nothing about the target
// mailbox. Relay runs first since its vocabulary is a strict subset of the
// block vocabulary ("relay access denied" vs "access denied"). Only then do
// the temporary (4xx) and permanent (5xx) vocabularies apply.
func ClassifyReply(code int, message string) Classification {
	c := Classification{Code: code, Message: message, Permanent: code >= 500}

	switch {
	case code >= 200 && code < 300:
		c.Class = ClassAccept
		return c

	case matchAny(message, relayDeniedPatterns):
		c.Class = ClassRelayDenied
		return c

	case matchAny(message, policyBlockPatterns):
		c.Class = ClassPolicyBlock
		return c
	}

	if code >= 400 && code < 500 {
		switch {
		case matchAny(message, greylistPatterns):
			c.Class = ClassGreylist
		case matchAny(message, mailboxFullPatterns):
			c.Class = ClassMailboxFull
		default:
			// Bare 4xx from a probing conversation is almost always a
			// greylisting defence.
			c.Class = ClassGreylist
		}
		return c
	}

	if code >= 500 && code < 600 {
		switch {
		case matchAny(message, mailboxDisabledPatterns):
			c.Class = ClassMailboxDisabled
		case matchAny(message, mailboxFullPatterns):
			c.Class = ClassMailboxFull
		case matchAny(message, mailboxUnknownPatterns):
			c.Class = ClassMailboxUnknown
		case (code == 550 || code == 551 || code == 553) && mailboxWordPattern.MatchString(message):
			c.Class = ClassMailboxUnknown
		default:
			c.Class = ClassAmbiguous
		}
		return c
	}

	c.Class = ClassAmbiguous
	return c
}

// Reason returns the verdict reason code recorded for this class.
func (c Classification) Reason() string {
	switch c.Class {
	case ClassMailboxUnknown:
		return models.ReasonMailboxUnknown
	case ClassMailboxFull:
		return models.ReasonMailboxFull
	case ClassMailboxDisabled:
		return models.ReasonMailboxDisabled
	case ClassPolicyBlock:
		return models.ReasonPolicyBlock
	case ClassGreylist:
		return models.ReasonGreylist
	case ClassRelayDenied:
		return models.ReasonRelayDenied
	default:
		return ""
	}
}
