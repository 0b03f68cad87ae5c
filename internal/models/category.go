package models

// Category constants for the closed label set
const (
	CategoryOffer       = "offer"
	CategoryInterview   = "interview"
	CategoryAssessment  = "assessment"
	CategoryApplication = "application" // ATS acknowledgements and status updates
	CategoryRecruiter   = "recruiter"
	CategoryRejection   = "rejection"
	CategoryOther       = "other"
)

// Label source constants
const (
	SourceRules   = "rules"
	SourceModel   = "model"
	SourceDefault = "default"
)

// Categories is the closed category set in canonical order. The order breaks ties
// wherever labels or probabilities compare equal.
var Categories = []string{
	CategoryOffer,
	CategoryInterview,
	CategoryAssessment,
	CategoryApplication,
	CategoryRecruiter,
	CategoryRejection,
	CategoryOther,
}

var categoryRank = func() map[string]int {
	ranks := make(map[string]int, len(Categories))
	for i, c := range Categories {
		ranks[c] = i
	}
	return ranks
}()

// IsValidCategory checks if category is part of the closed set
func IsValidCategory(category string) bool {
	_, ok := categoryRank[category]
	return ok
}

// CategoryRank returns the canonical position of category, or len(Categories) for unknown labels
func CategoryRank(category string) int {
	if rank, ok := categoryRank[category]; ok {
		return rank
	}
	return len(Categories)
}
