package rules

import "mailrank/internal/models"

// ATSDomains are sender domains of applicant tracking systems
var ATSDomains = []string{
	"greenhouse.io",
	"greenhouse-mail.io",
	"lever.co",
	"myworkday.com",
	"workday.com",
	"smartrecruiters.com",
	"icims.com",
	"ashbyhq.com",
	"jobvite.com",
	"taleo.net",
	"bamboohr.com",
}

// DefaultRules returns the built-in rule set. Order matters only for confidence when two
// rules share a category.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "offer-letter",
			Category: models.CategoryOffer,
			Fields:   []Field{FieldSubject, FieldBody},
			Keywords: []string{
				"offer letter",
				"job offer",
				"offer of employment",
				"pleased to offer",
				"extend an offer",
				"extend you an offer",
				"compensation package",
			},
		},
		{
			Name:     "interview-invite",
			Category: models.CategoryInterview,
			Fields:   []Field{FieldSubject, FieldBody},
			Keywords: []string{
				"phone screen",
				"onsite",
				"on-site",
				"schedule a call",
				"availability for a call",
				"meet the team",
			},
			Patterns: []string{`\binterview(s|ing)?\b`},
		},
		{
			Name:     "assessment-platform",
			Category: models.CategoryAssessment,
			SenderDomains: []string{
				"hackerrank.com",
				"codility.com",
				"codesignal.com",
				"testgorilla.com",
			},
		},
		{
			Name:     "assessment-invite",
			Category: models.CategoryAssessment,
			Fields:   []Field{FieldSubject, FieldBody},
			Keywords: []string{
				"coding challenge",
				"take-home",
				"take home assignment",
				"technical assessment",
				"online assessment",
			},
		},
		{
			Name:          "ats-platform",
			Category:      models.CategoryApplication,
			SenderDomains: ATSDomains,
		},
		{
			Name:     "application-received",
			Category: models.CategoryApplication,
			Fields:   []Field{FieldSubject, FieldBody},
			Keywords: []string{
				"application received",
				"thank you for applying",
				"thanks for applying",
				"we received your application",
				"we have received your application",
				"your application has been submitted",
			},
		},
		{
			Name:     "recruiter-outreach",
			Category: models.CategoryRecruiter,
			Fields:   []Field{FieldSubject, FieldBody},
			Keywords: []string{
				"came across your profile",
				"talent acquisition",
				"i am a recruiter",
				"i'm a recruiter",
				"exciting opportunity",
				"open to new opportunities",
			},
		},
		{
			Name:     "rejection",
			Category: models.CategoryRejection,
			Fields:   []Field{FieldSubject, FieldBody},
			Keywords: []string{
				"other candidates",
				"position has been filled",
				"regret to inform",
				"not been selected",
			},
			Patterns: []string{`\bnot (to )?(be )?mov(e|ing) forward\b`},
		},
	}
}
