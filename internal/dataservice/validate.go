package dataservice

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxFieldLength = 1000
	maxNameLength  = 50
)

var (
	scriptBlockRe  = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	tagRe          = regexp.MustCompile(`<[^>]*>`)
	jsSchemeRe     = regexp.MustCompile(`(?i)javascript:`)
	eventHandlerRe = regexp.MustCompile(`(?i)on\w+=`)

	referralIDRe = regexp.MustCompile(`^\d{7}$`)
	walletRe     = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

	contactPatterns = map[string]*regexp.Regexp{
		MessengerEmail:     regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`),
		MessengerTelegram:  regexp.MustCompile(`^(@[a-zA-Z0-9_]{5,32}|\+\d{10,15})$`),
		MessengerWhatsApp:  regexp.MustCompile(`^\+\d{10,15}$`),
		MessengerViber:     regexp.MustCompile(`^\+\d{10,15}$`),
		MessengerInstagram: regexp.MustCompile(`^@[a-zA-Z0-9_.]{1,30}$`),
		MessengerFacebook:  regexp.MustCompile(`.{3,}`),
		MessengerTikTok:    regexp.MustCompile(`^@?[a-zA-Z0-9_.]{1,24}$`),
		MessengerTwitter:   regexp.MustCompile(`^@?[a-zA-Z0-9_]{1,15}$`),
	}
)

// Sanitize strips markup and script vectors from untrusted text and caps its length.
func Sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = scriptBlockRe.ReplaceAllString(s, "")
	s = tagRe.ReplaceAllString(s, "")
	s = jsSchemeRe.ReplaceAllString(s, "")
	s = eventHandlerRe.ReplaceAllString(s, "")
	return truncate(s, maxFieldLength)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// ValidContact reports whether contact is well formed for messenger. Unknown
// messengers accept any contact of at least three characters.
func ValidContact(messenger, contact string) bool {
	if re, ok := contactPatterns[messenger]; ok {
		return re.MatchString(contact)
	}
	return utf8.RuneCountInString(contact) >= 3
}

func (in RegisterInput) sanitized() RegisterInput {
	ref := in.ReferrerID
	if ref == "" {
		ref = in.ReferralID
	}
	return RegisterInput{
		Name:          Sanitize(in.Name),
		Messenger:     strings.ToLower(Sanitize(in.Messenger)),
		Contact:       Sanitize(in.Contact),
		ReferrerID:    Sanitize(ref),
		WalletAddress: strings.ToLower(Sanitize(in.WalletAddress)),
	}
}

// validateRegistration returns every failed check. Name moderation failures
// are reported as validation messages.
func (s *Service) validateRegistration(in RegisterInput) []string {
	var msgs []string
	for _, f := range []struct{ name, value string }{
		{"name", in.Name}, {"messenger", in.Messenger}, {"contact", in.Contact},
	} {
		if strings.TrimSpace(f.value) == "" {
			msgs = append(msgs, fmt.Sprintf("field %s is required", f.name))
		}
	}

	if in.Name != "" {
		if utf8.RuneCountInString(in.Name) > maxNameLength {
			msgs = append(msgs, fmt.Sprintf("name must not exceed %d characters", maxNameLength))
		}
		if res := s.moderator.Check(in.Name); !res.IsValid {
			msgs = append(msgs, res.Errors...)
		}
	}

	if in.Contact != "" && in.Messenger != "" && !ValidContact(in.Messenger, in.Contact) {
		msgs = append(msgs, fmt.Sprintf("invalid contact format for %s", in.Messenger))
	}
	if in.ReferrerID != "" && !referralIDRe.MatchString(in.ReferrerID) {
		msgs = append(msgs, "referral id must contain 7 digits")
	}
	if in.WalletAddress != "" && !walletRe.MatchString(in.WalletAddress) {
		msgs = append(msgs, "invalid wallet address")
	}
	return msgs
}
