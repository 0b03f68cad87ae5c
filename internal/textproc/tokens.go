package textproc

import (
	"net/mail"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

var (
	tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)
	folder       = cases.Fold()
	stopwords    = map[string]struct{}{
		"a": {}, "about": {}, "all": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
		"been": {}, "but": {}, "by": {}, "can": {}, "do": {}, "for": {}, "from": {}, "fw": {}, "fwd": {},
		"has": {}, "have": {}, "hello": {}, "hi": {}, "if": {}, "in": {}, "is": {}, "it": {}, "its": {},
		"me": {}, "my": {}, "no": {}, "not": {}, "of": {}, "on": {}, "or": {}, "our": {}, "re": {},
		"regards": {}, "so": {}, "thank": {}, "thanks": {}, "that": {}, "the": {}, "their": {}, "them": {},
		"there": {}, "these": {}, "they": {}, "this": {}, "to": {}, "us": {}, "was": {}, "we": {},
		"were": {}, "what": {}, "when": {}, "which": {}, "who": {}, "will": {}, "with": {}, "you": {},
		"your": {},
	}
)

// Fold returns the case-folded form of s, suitable for case-insensitive comparison.
func Fold(s string) string {
	return folder.String(s)
}

// ContainsFold reports whether substr occurs in s, ignoring case.
func ContainsFold(s, substr string) bool {
	return strings.Contains(Fold(s), Fold(substr))
}

// Tokenize folds text and splits it into letter/digit runs. Duplicates are kept.
func Tokenize(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return tokenPattern.FindAllString(Fold(text), -1)
}

// MeaningfulTokens tokenizes text and drops stopwords and single non-digit characters.
// Token frequency is preserved.
func MeaningfulTokens(text string) []string {
	return filterTokens(Tokenize(text))
}

// UniqueTokens returns the meaningful tokens of text with duplicates removed, preserving order.
func UniqueTokens(text string) []string {
	return dedupeTokens(MeaningfulTokens(text))
}

// SenderDomain extracts the lower-cased domain from a sender such as
// "Jane Doe <jane@mail.example.com>". It returns "" when no domain is present.
func SenderDomain(sender string) string {
	address := strings.TrimSpace(sender)
	if parsed, err := mail.ParseAddress(address); err == nil {
		address = parsed.Address
	}

	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}

	domain := strings.ToLower(address[at+1:])
	return strings.Trim(domain, "<>. ")
}

// SenderAddress extracts the lower-cased bare address from a sender header value.
func SenderAddress(sender string) string {
	address := strings.TrimSpace(sender)
	if parsed, err := mail.ParseAddress(address); err == nil {
		address = parsed.Address
	}
	return strings.ToLower(strings.Trim(address, "<> "))
}

// DomainMatches reports whether domain equals pattern or is a subdomain of it.
func DomainMatches(domain, pattern string) bool {
	domain = strings.ToLower(domain)
	pattern = strings.ToLower(strings.TrimPrefix(pattern, "@"))
	if domain == "" || pattern == "" {
		return false
	}
	return domain == pattern || strings.HasSuffix(domain, "."+pattern)
}

func filterTokens(tokens []string) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if len(token) == 0 {
			continue
		}
		if len(token) == 1 && (token[0] < '0' || token[0] > '9') {
			continue
		}
		if _, isStopword := stopwords[token]; isStopword {
			continue
		}
		result = append(result, token)
	}
	return result
}

func dedupeTokens(tokens []string) []string {
	if len(tokens) == 0 {
		return tokens
	}

	seen := make(map[string]struct{}, len(tokens))
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, exists := seen[token]; exists {
			continue
		}
		seen[token] = struct{}{}
		result = append(result, token)
	}
	return result
}
