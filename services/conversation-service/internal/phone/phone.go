// Package phone canonicalizes subscriber numbers received from the messaging
// channel and produces the lookup variants used against historic records.
package phone

import (
	"strings"
	"unicode"
)

// TransportPrefix marks a WhatsApp address in provider payloads
// ("whatsapp:+5491123456789").
const TransportPrefix = "whatsapp:"

// Normalizer applies one country's dialing convention. Mobile numbers in that
// country carry MobilePrefix right after the country code, but older records
// may have been stored without it.
type Normalizer struct {
	CountryCode  string
	MobilePrefix string
}

func NewNormalizer(countryCode, mobilePrefix string) *Normalizer {
	countryCode = Normalize(countryCode)
	if countryCode == "" {
		countryCode = "54"
	}
	return &Normalizer{CountryCode: countryCode, MobilePrefix: Normalize(mobilePrefix)}
}

// Normalize strips every non-digit character.
func Normalize(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Canonical returns the digits-only key: country code, mobile prefix, national
// number. Numbers written internationally ("+..." or "00...") for another
// country are kept as dialed. It returns "" when phone has no digits.
func (n *Normalizer) Canonical(phone string) string {
	raw := strings.TrimSpace(FromTransport(phone))
	d := Normalize(raw)
	international := strings.HasPrefix(raw, "+") || strings.HasPrefix(d, "00")
	d = strings.TrimPrefix(d, "00")
	d = strings.TrimLeft(d, "0")
	if d == "" {
		return ""
	}
	if international && !strings.HasPrefix(d, n.CountryCode) {
		return d
	}

	national := d
	if strings.HasPrefix(d, n.CountryCode) {
		national = d[len(n.CountryCode):]
	}
	if n.MobilePrefix != "" && !strings.HasPrefix(national, n.MobilePrefix) {
		national = n.MobilePrefix + national
	}
	return n.CountryCode + national
}

// Format returns the dialable form, "+" followed by the canonical digits.
func (n *Normalizer) Format(phone string) string {
	c := n.Canonical(phone)
	if c == "" {
		return ""
	}
	return "+" + c
}

// Patterns lists the spellings a stored number may have: the raw input, the
// canonical form with and without "+", and both again without the mobile
// prefix. Order is stable and duplicates are removed.
func (n *Normalizer) Patterns(phone string) []string {
	canonical := n.Canonical(phone)
	candidates := []string{strings.TrimSpace(FromTransport(phone))}
	if canonical != "" {
		legacy := n.withoutMobilePrefix(canonical)
		candidates = append(candidates, "+"+canonical, canonical, legacy, "+"+legacy)
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func (n *Normalizer) withoutMobilePrefix(canonical string) string {
	national, ok := strings.CutPrefix(canonical, n.CountryCode)
	if !ok || n.MobilePrefix == "" {
		return canonical
	}
	return n.CountryCode + strings.TrimPrefix(national, n.MobilePrefix)
}

func ToTransport(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" || strings.HasPrefix(phone, TransportPrefix) {
		return phone
	}
	return TransportPrefix + phone
}

func FromTransport(addr string) string {
	return strings.TrimPrefix(strings.TrimSpace(addr), TransportPrefix)
}
