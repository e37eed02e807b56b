package models

import "time"

// FeedbackType classifies explicit user feedback on a retention decision.
type FeedbackType string

const (
	FeedbackForgotImportant   FeedbackType = "forgot_important"
	FeedbackRememberedTrivial FeedbackType = "remembered_trivial"
	FeedbackCorrect           FeedbackType = "correct"
	FeedbackWrongCategory     FeedbackType = "wrong_category"
)

// ValidFeedbackTypes is the set of all valid feedback types.
var ValidFeedbackTypes = []FeedbackType{
	FeedbackForgotImportant,
	FeedbackRememberedTrivial,
	FeedbackCorrect,
	FeedbackWrongCategory,
}

// IsValid returns true if the feedback type is recognized.
func (ft FeedbackType) IsValid() bool {
	for i := range ValidFeedbackTypes {
		if ft == ValidFeedbackTypes[i] {
			return true
		}
	}
	return false
}

// UserWeight is a learned per-user, per-pattern score adjustment.
type UserWeight struct {
	UserID        string  `json:"user_id"`
	PatternName   string  `json:"pattern_name"`
	Adjustment    float64 `json:"weight_adjustment"`
	FeedbackCount int     `json:"feedback_count"`
}

// FeedbackRecord is the persisted form of one feedback event.
type FeedbackRecord struct {
	UserID            string         `json:"user_id"`
	Statement         string         `json:"statement"`
	ActualRetention   RetentionLevel `json:"actual_retention"`
	ExpectedRetention RetentionLevel `json:"expected_retention"`
	Type              FeedbackType   `json:"feedback_type"`
	CategoryOverride  string         `json:"category_override,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}
