package quota

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"

	"github.com/umputun/shortcast/pkg/domain"
)

// Rule maps error fingerprints to an error class. Provider limits the rule to one provider,
// empty matches any. A rule matches if any keyword is a substring of the lowercased error text
// or the pattern matches it.
type Rule struct {
	Provider string
	Keywords []string
	Pattern  *regexp.Regexp
	Class    domain.ErrorClass
}

// Classifier applies rules in order, the first match wins
type Classifier struct {
	rules []Rule
}

// DefaultRules is the fingerprint table for the supported providers.
// Quota rules precede rate rules since providers report daily quota with 403/429 codes too.
func DefaultRules() []Rule {
	return []Rule{
		{Provider: domain.ProviderUpload, Keywords: []string{"quotaexceeded", "dailylimitexceeded", "uploadlimitexceeded",
			"exceeded the number of videos"}, Class: domain.ClassQuota},
		{Keywords: []string{"insufficient_quota", "quota exceeded", "exceeded your current quota", "quota exhausted",
			"out of quota", "billing hard limit", "monthly limit"}, Class: domain.ClassQuota},
		{Keywords: []string{"invalid_grant", "unauthorized", "unauthenticated", "invalid api key", "incorrect api key",
			"invalid_api_key", "token expired", "token has been expired or revoked", "auth expired", "forbidden",
			"permission denied", "autherror"}, Pattern: regexp.MustCompile(`\b(401|403)\b`), Class: domain.ClassAuth},
		{Keywords: []string{"rate limit", "rate_limit", "ratelimit", "too many requests", "slow down", "limit reached",
			"userratelimitexceeded"}, Pattern: regexp.MustCompile(`\b429\b`), Class: domain.ClassRateLimited},
		{Keywords: []string{"quota"}, Class: domain.ClassQuota},
		{Keywords: []string{"timeout", "timed out", "deadline exceeded", "connection reset", "connection refused",
			"broken pipe", "unexpected eof", "temporarily unavailable", "service unavailable", "bad gateway",
			"internal server error", "no such host", "tls handshake", "server overloaded", "backenderror"},
			Pattern: regexp.MustCompile(`\b(500|502|503|504)\b`), Class: domain.ClassTransient},
		{Keywords: []string{"limit"}, Class: domain.ClassRateLimited},
	}
}

// NewClassifier makes a classifier with given rules, DefaultRules if none
func NewClassifier(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Classify returns the error class of a provider error, permanent if nothing matches
func (c *Classifier) Classify(provider string, err error) domain.ErrorClass {
	if err == nil {
		return ""
	}

	// typed errors first
	switch {
	case errors.Is(err, domain.ErrQuotaExhausted):
		return domain.ClassQuota
	case errors.Is(err, domain.ErrAuthExpired):
		return domain.ClassAuth
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ClassTransient
	}
	switch domain.CategoryOf(err) {
	case domain.CatQuota:
		return domain.ClassQuota
	case domain.CatAuth:
		return domain.ClassAuth
	case domain.CatRateLimited:
		return domain.ClassRateLimited
	case domain.CatTransient:
		return domain.ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ClassTransient
	}

	text := strings.ToLower(err.Error())
	for _, r := range c.rules {
		if r.Provider != "" && r.Provider != provider {
			continue
		}
		if r.matches(text) {
			return r.Class
		}
	}
	return domain.ClassPermanent
}

// For returns a classification function bound to a provider, usable as a retry classifier
func (c *Classifier) For(provider string) func(error) domain.ErrorClass {
	return func(err error) domain.ErrorClass { return c.Classify(provider, err) }
}

func (r Rule) matches(text string) bool {
	for _, k := range r.Keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return r.Pattern != nil && r.Pattern.MatchString(text)
}
