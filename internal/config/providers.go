package config

import "strings"

// Provider is the connection preset of a well-known mail provider.
type Provider struct {
	Name     string
	Domains  []string
	IMAPHost string
	IMAPPort int
	IMAPTLS  bool
	SMTPHost string
	SMTPPort int
	SMTPTLS  bool
}

// Known provider presets. Implicit TLS on the mailbox port, STARTTLS
// submission on 587.
var providers = []Provider{
	{
		Name:     "Gmail",
		Domains:  []string{"gmail.com"},
		IMAPHost: "imap.gmail.com",
		IMAPPort: 993,
		IMAPTLS:  true,
		SMTPHost: "smtp.gmail.com",
		SMTPPort: 587,
		SMTPTLS:  false,
	},
	{
		Name:     "Outlook",
		Domains:  []string{"outlook.com", "hotmail.com"},
		IMAPHost: "outlook.office365.com",
		IMAPPort: 993,
		IMAPTLS:  true,
		SMTPHost: "smtp.office365.com",
		SMTPPort: 587,
		SMTPTLS:  false,
	},
	{
		Name:     "Yahoo",
		Domains:  []string{"yahoo.com"},
		IMAPHost: "imap.mail.yahoo.com",
		IMAPPort: 993,
		IMAPTLS:  true,
		SMTPHost: "smtp.mail.yahoo.com",
		SMTPPort: 587,
		SMTPTLS:  false,
	},
}

// DetectProvider returns the preset matching the domain of the given
// address, or nil for unknown providers.
func DetectProvider(address string) *Provider {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return nil
	}
	domain := strings.ToLower(address[at+1:])

	for i := range providers {
		for _, d := range providers[i].Domains {
			if domain == d {
				return &providers[i]
			}
		}
	}
	return nil
}
