// Package validator checks user input before it reaches the service.
package validator

import (
	"net/netip"
	"net/url"
	"slices"
	"strings"

	"github.com/darkodi/shorts/internal/encoder"
	"github.com/darkodi/shorts/internal/errors"
)

// MaxShortIDLength bounds the path segment accepted as a short id
const MaxShortIDLength = 16

// DefaultMaxURLLength is the longest long URL accepted by default
const DefaultMaxURLLength = 2048

// URLValidator validates long URLs and short ids
type URLValidator struct {
	maxLength       int
	schemes         []string
	blockedDomains  []string
	blockPrivateIPs bool
}

// NewURLValidator accepts http and https URLs up to DefaultMaxURLLength
// and rejects hosts on loopback or private networks.
func NewURLValidator() *URLValidator {
	return &URLValidator{
		maxLength:       DefaultMaxURLLength,
		schemes:         []string{"http", "https"},
		blockPrivateIPs: true,
	}
}

// ValidateURL returns nil when rawURL may be shortened
func (v *URLValidator) ValidateURL(rawURL string) *errors.AppError {
	if strings.TrimSpace(rawURL) == "" {
		return errors.MissingField("long_url")
	}
	if len(rawURL) > v.maxLength {
		return errors.InvalidURL("URL exceeds maximum length")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.InvalidURL("URL could not be parsed")
	}
	if !slices.Contains(v.schemes, strings.ToLower(u.Scheme)) {
		return errors.InvalidURL("URL must use http or https scheme")
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case host == "":
		return errors.InvalidURL("URL must have a valid host")
	case v.blocked(host):
		return errors.InvalidURL("This domain is not allowed")
	case v.blockPrivateIPs && isPrivateHost(host):
		return errors.InvalidURL("URLs pointing to private IPs are not allowed")
	}

	return nil
}

// ValidShortID reports whether id can be a short id at all. Anything else is
// answered with 404 without touching either store.
func (v *URLValidator) ValidShortID(id string) bool {
	return len(id) <= MaxShortIDLength && encoder.IsValid(id)
}

// blocked matches a domain and all of its subdomains
func (v *URLValidator) blocked(host string) bool {
	return slices.ContainsFunc(v.blockedDomains, func(d string) bool {
		return host == d || strings.HasSuffix(host, "."+d)
	})
}

func isPrivateHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		// DNS names are not resolved
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast()
}

// ============================================================
// CONFIGURATION METHODS
// ============================================================

// WithMaxLength sets maximum URL length
func (v *URLValidator) WithMaxLength(length int) *URLValidator {
	v.maxLength = length
	return v
}

// WithBlockedDomains adds domains to block list
func (v *URLValidator) WithBlockedDomains(domains ...string) *URLValidator {
	for _, d := range domains {
		v.blockedDomains = append(v.blockedDomains, strings.ToLower(d))
	}
	return v
}

// WithAllowPrivateIPs allows private IP addresses
func (v *URLValidator) WithAllowPrivateIPs() *URLValidator {
	v.blockPrivateIPs = false
	return v
}
