// Package domainmatch maps sender addresses to known stores.
package domainmatch

import (
	"net/mail"
	"strings"

	"golang.org/x/net/publicsuffix"

	"saledrop-pipeline/internal/models"
)

// ExtractAddress pulls the bare address out of a From header such as
// "Brand <news@brand.com>". Unparseable input is returned trimmed.
func ExtractAddress(from string) string {
	from = strings.TrimSpace(from)
	if addr, err := mail.ParseAddress(from); err == nil {
		return strings.ToLower(addr.Address)
	}
	if start := strings.LastIndex(from, "<"); start >= 0 {
		if end := strings.Index(from[start:], ">"); end > 0 {
			return strings.ToLower(strings.TrimSpace(from[start+1 : start+end]))
		}
	}
	return strings.ToLower(from)
}

// Candidates returns the lookup keys for an address, most specific first:
// full host, registered domain (eTLD+1) and the bare root label.
// Duplicates collapse, so "a@brand.com" yields ["brand.com", "brand"].
func Candidates(address string) []string {
	address = ExtractAddress(address)
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return nil
	}
	host := strings.TrimSuffix(address[at+1:], ".")
	host = strings.TrimPrefix(host, "www.")

	out := []string{host}
	registered, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return out
	}
	if registered != host {
		out = append(out, registered)
	}

	suffix, _ := publicsuffix.PublicSuffix(registered)
	if root := strings.TrimSuffix(registered, "."+suffix); root != "" && root != registered {
		out = append(out, root)
	}
	return out
}

// Match returns the first store whose domain set contains a candidate of
// address. Candidates are tried in order, so a store listing the full host
// wins over one listing only the registered domain.
func Match(address string, stores []models.Store) *models.Store {
	for _, candidate := range Candidates(address) {
		for i := range stores {
			if stores[i].HasDomain(candidate) {
				return &stores[i]
			}
		}
	}
	return nil
}
