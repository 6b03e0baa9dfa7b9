package lookup

import "testing"

func TestClassifyReply(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		message string
		want    ReplyClass
	}{
		// ── Accepts ──────────────────────────────────────────────────────────
		{"plain 250", 250, "2.1.5 OK", ClassAccept},
		{"251 forward", 251, "user not local; will forward", ClassAccept},

		// ── Mailbox unknown, across languages ───────────────────────────────
		{"english user unknown", 550, "5.1.1 user unknown", ClassMailboxUnknown},
		{"english no such user", 550, "No such user here", ClassMailboxUnknown},
		{"english recipient rejected", 554, "Recipient rejected", ClassMailboxUnknown},
		{"french utilisateur inconnu", 550, "Utilisateur inconnu", ClassMailboxUnknown},
		{"french n'existe pas", 550, "Cette adresse n'existe pas", ClassMailboxUnknown},
		{"german postfach", 550, "Postfach nicht gefunden", ClassMailboxUnknown},
		{"german empfaenger", 550, "Empfänger ist unbekannt", ClassMailboxUnknown},
		{"spanish usuario", 550, "Usuario desconocido", ClassMailboxUnknown},
		{"spanish buzon", 550, "Buzón no encontrado", ClassMailboxUnknown},
		{"italian utente", 550, "Utente sconosciuto", ClassMailboxUnknown},
		{"portuguese usuario", 550, "Usuário desconhecido", ClassMailboxUnknown},
		{"dutch gebruiker", 550, "Gebruiker onbekend", ClassMailboxUnknown},
		{"polish uzytkownik", 550, "Użytkownik nieznany", ClassMailboxUnknown},
		{"czech uzivatel", 550, "Uživatel nenalezen", ClassMailboxUnknown},

		// ── 550/551/553 with weak mailbox vocabulary ─────────────────────────
		{"bare 550 with mailbox word", 550, "mailbox rejected by server", ClassMailboxUnknown},
		{"bare 551 with user word", 551, "user relocated", ClassMailboxUnknown},

		// ── Unmatched 5xx stays ambiguous ────────────────────────────────────
		{"bare 550 no vocabulary", 550, "transaction failed", ClassAmbiguous},
		{"bare 554 no vocabulary", 554, "rejected", ClassAmbiguous},
		{"552 size", 552, "message size exceeds limit", ClassAmbiguous},

		// ── Full mailbox ─────────────────────────────────────────────────────
		{"full 5xx", 552, "mailbox full", ClassMailboxFull},
		{"quota 5xx", 550, "user is over quota", ClassMailboxFull},
		{"full 4xx", 452, "insufficient system storage", ClassMailboxFull},
		{"french pleine", 552, "boîte aux lettres pleine", ClassMailboxFull},
		{"german voll", 552, "Postfach ist voll", ClassMailboxFull},

		// ── Disabled wins over unknown on 5xx ────────────────────────────────
		{"disabled account", 550, "account has been disabled", ClassMailboxDisabled},
		{"suspended account", 550, "account is suspended for abuse", ClassMailboxDisabled},
		{"french desactive", 550, "compte a été désactivé", ClassMailboxDisabled},

		// ── Policy blocks shield everything, any code ────────────────────────
		{"spamhaus 5xx", 554, "Service unavailable; Client host listed at spamhaus", ClassPolicyBlock},
		{"blacklist 4xx", 421, "your IP is on our blacklist, user unknown", ClassPolicyBlock},
		{"access denied", 550, "Recipient address rejected: Access denied", ClassPolicyBlock},
		{"rbl listed", 554, "connection rejected, rbl: listed at dnsbl.example", ClassPolicyBlock},

		// ── Relay denials are mailbox-agnostic ───────────────────────────────
		{"relaying denied", 550, "relaying denied", ClassRelayDenied},
		{"relay access", 554, "Relay access denied", ClassRelayDenied},

		// ── Greylisting ──────────────────────────────────────────────────────
		{"explicit greylist", 451, "Greylisted, please try again in 300 seconds", ClassGreylist},
		{"try again later", 450, "try again later", ClassGreylist},
		{"rate limit", 421, "rate limit exceeded for your network", ClassGreylist},
		{"bare 4xx defaults to greylist", 450, "requested action aborted", ClassGreylist},
		{"czech greylist", 451, "Docasna chyba, zkuste to později", ClassGreylist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyReply(tt.code, tt.message)
			if got.Class != tt.want {
				t.Errorf("ClassifyReply(%d, %q) = %s, want %s",
					tt.code, tt.message, got.Class, tt.want)
			}
			// Classification must be a pure function of its inputs.
			again := ClassifyReply(tt.code, tt.message)
			if again.Class != got.Class {
				t.Errorf("classification not deterministic: %s then %s", got.Class, again.Class)
			}
		})
	}
}

func TestClassificationPermanence(t *testing.T) {
	if c := ClassifyReply(550, "user unknown"); !c.Permanent {
		t.Error("550 not marked permanent")
	}
	if c := ClassifyReply(451, "greylisted"); c.Permanent {
		t.Error("451 marked permanent")
	}
}

func TestClassificationReasonCodes(t *testing.T) {
	tests := []struct {
		class ReplyClass
		code  int
		msg   string
		want  string
	}{
		{ClassMailboxUnknown, 550, "user unknown", "mailbox_unknown"},
		{ClassGreylist, 451, "greylisted", "greylist"},
		{ClassPolicyBlock, 554, "listed at spamhaus", "policy_block"},
		{ClassRelayDenied, 550, "relaying denied", "relay_denied"},
		{ClassAmbiguous, 554, "no", ""},
	}
	for _, tt := range tests {
		c := ClassifyReply(tt.code, tt.msg)
		if c.Class != tt.class {
			t.Fatalf("setup: ClassifyReply(%d, %q) = %s, want %s", tt.code, tt.msg, c.Class, tt.class)
		}
		if got := c.Reason(); got != tt.want {
			t.Errorf("Reason() for %s = %q, want %q", tt.class, got, tt.want)
		}
	}
}
