// Package rules evaluates ordered pattern rules against an email's text fields.
package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"

	"mailrank/internal/models"
	"mailrank/internal/textproc"
)

// DefaultConfidence is the fixed confidence assigned by a rule that does not set its own
const DefaultConfidence = 0.95

// Field names a text field a rule can inspect
type Field string

// Field constants
const (
	FieldSender  Field = "sender"
	FieldSubject Field = "subject"
	FieldBody    Field = "body"
)

var allFields = []Field{FieldSender, FieldSubject, FieldBody}

// Rule is a single labeling rule. A rule fires when any keyword or pattern matches one of
// its fields, or when the sender domain matches one of SenderDomains.
type Rule struct {
	Name          string   `yaml:"name" json:"name"`
	Category      string   `yaml:"category" json:"category"`
	Confidence    float64  `yaml:"confidence" json:"confidence"`
	Fields        []Field  `yaml:"fields" json:"fields,omitempty"`
	Keywords      []string `yaml:"keywords" json:"keywords,omitempty"`
	Patterns      []string `yaml:"patterns" json:"patterns,omitempty"`
	SenderDomains []string `yaml:"sender_domains" json:"sender_domains,omitempty"`
}

// Match is a category produced by a firing rule
type Match struct {
	Category   string
	Confidence float64
	Rule       string
}

type compiledRule struct {
	Rule
	fields   []Field
	keywords []string
	patterns []*regexp.Regexp
}

// Engine holds a compiled, immutable rule list. It is safe for concurrent use.
type Engine struct {
	rules       []compiledRule
	fingerprint string
}

// New compiles rules in order. Rules with a zero confidence get DefaultConfidence.
func New(rules []Rule) (*Engine, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for i, rule := range rules {
		cr, err := compile(rule)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, rule.Name, err)
		}
		compiled = append(compiled, cr)
	}

	fingerprint, err := fingerprintRules(compiled)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint rules: %w", err)
	}

	return &Engine{rules: compiled, fingerprint: fingerprint}, nil
}

// MustDefault returns an engine over DefaultRules and panics if they do not compile
func MustDefault() *Engine {
	engine, err := New(DefaultRules())
	if err != nil {
		panic(err)
	}
	return engine
}

func compile(rule Rule) (compiledRule, error) {
	if rule.Name == "" {
		return compiledRule{}, fmt.Errorf("rule name is required")
	}
	if !models.IsValidCategory(rule.Category) {
		return compiledRule{}, fmt.Errorf("unknown category %q", rule.Category)
	}
	if rule.Confidence == 0 {
		rule.Confidence = DefaultConfidence
	}
	if rule.Confidence < 0 || rule.Confidence > 1 {
		return compiledRule{}, fmt.Errorf("confidence %v outside [0,1]", rule.Confidence)
	}
	if len(rule.Keywords) == 0 && len(rule.Patterns) == 0 && len(rule.SenderDomains) == 0 {
		return compiledRule{}, fmt.Errorf("rule has no keywords, patterns or sender domains")
	}

	cr := compiledRule{Rule: rule, fields: rule.Fields}
	if len(cr.fields) == 0 {
		cr.fields = allFields
	}
	for _, f := range cr.fields {
		if f != FieldSender && f != FieldSubject && f != FieldBody {
			return compiledRule{}, fmt.Errorf("unknown field %q", f)
		}
	}

	for _, kw := range rule.Keywords {
		if kw == "" {
			continue
		}
		cr.keywords = append(cr.keywords, textproc.Fold(kw))
	}
	for _, p := range rule.Patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return compiledRule{}, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		cr.patterns = append(cr.patterns, re)
	}

	return cr, nil
}

// Classify returns the categories of all firing rules, in rule order. A category fired by
// more than one rule appears once with the confidence of the first rule that fired it.
// An empty result means no rule fired.
func (e *Engine) Classify(doc *models.EmailDocument) []Match {
	if doc == nil {
		return nil
	}

	texts := map[Field]string{
		FieldSender:  textproc.Fold(doc.Sender),
		FieldSubject: textproc.Fold(doc.Subject),
		FieldBody:    textproc.Fold(doc.BodyText),
	}
	domain := textproc.SenderDomain(doc.Sender)

	var matches []Match
	seen := make(map[string]struct{})
	for i := range e.rules {
		rule := &e.rules[i]
		if _, dup := seen[rule.Category]; dup {
			continue
		}
		if !rule.fires(texts, domain) {
			continue
		}
		seen[rule.Category] = struct{}{}
		matches = append(matches, Match{
			Category:   rule.Category,
			Confidence: rule.Confidence,
			Rule:       rule.Name,
		})
	}

	return matches
}

func (r *compiledRule) fires(texts map[Field]string, domain string) bool {
	for _, d := range r.SenderDomains {
		if textproc.DomainMatches(domain, d) {
			return true
		}
	}

	for _, f := range r.fields {
		text := texts[f]
		if text == "" {
			continue
		}
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return true
			}
		}
		for _, re := range r.patterns {
			if re.MatchString(text) {
				return true
			}
		}
	}

	return false
}

// Rules returns a copy of the rule definitions in evaluation order
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Rule
	}
	return out
}

// Fingerprint identifies the rule set; it changes whenever a rule changes
func (e *Engine) Fingerprint() string {
	return e.fingerprint
}

func fingerprintRules(rules []compiledRule) (string, error) {
	defs := make([]Rule, len(rules))
	for i, r := range rules {
		defs[i] = r.Rule
	}
	data, err := json.Marshal(defs)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:6]), nil
}
