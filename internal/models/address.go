package models

// Address is the canonical form of an input email after normalization.
// Normalized is the verdict key: two inputs with equal Normalized forms are
// the same address for caching and storage purposes.
type Address struct {
	Raw        string `json:"raw"`
	Local      string `json:"local"`
	Domain     string `json:"domain"`
	Normalized string `json:"normalized"`

	// ASCIIDomain is the punycoded lookup form of Domain, used for DNS and
	// SMTP while Normalized keeps the readable Unicode form.
	ASCIIDomain string `json:"-"`

	SyntaxOK   bool `json:"syntax_ok"`
	Role       bool `json:"is_role"`
	Free       bool `json:"is_free"`
	Disposable bool `json:"is_disposable"`
}
