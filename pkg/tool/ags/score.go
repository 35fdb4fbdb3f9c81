// pkg/tool/ags/score.go
package ags

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidArgument signals a Score built with values outside the
// LTI vocabulary. Raised at construction, never at send time.
var ErrInvalidArgument = errors.New("ags: invalid score argument")

// Activity-progress vocabulary.
const (
	ActivityInitialized = "Initialized"
	ActivityStarted     = "Started"
	ActivityInProgress  = "InProgress"
	ActivitySubmitted   = "Submitted"
	ActivityCompleted   = "Completed"
)

// Grading-progress vocabulary.
const (
	GradingNotReady      = "NotReady"
	GradingFailed        = "Failed"
	GradingPendingManual = "PendingManual"
	GradingPending       = "Pending"
	GradingFullyGraded   = "FullyGraded"
)

var activityProgressValues = map[string]bool{
	ActivityInitialized: true,
	ActivityStarted:     true,
	ActivityInProgress:  true,
	ActivitySubmitted:   true,
	ActivityCompleted:   true,
}

var gradingProgressValues = map[string]bool{
	GradingNotReady:      true,
	GradingFailed:        true,
	GradingPendingManual: true,
	GradingPending:       true,
	GradingFullyGraded:   true,
}

// Score is one submission event for a user against a line item.
// Write-once: built, posted, discarded. Construct only through
// NewScore or NewProgressScore so the progress vocabularies are
// enforced up front.
type Score struct {
	userID           string
	hasScore         bool
	scoreGiven       float64
	scoreMaximum     float64
	activityProgress string
	gradingProgress  string
	timestamp        time.Time
	comment          string
}

// NewScore builds a graded submission event. It validates the progress
// vocabularies and stamps the current time. Use WithTimestamp /
// WithComment to adjust the optionals.
func NewScore(userID string, given, maximum float64, activityProgress, gradingProgress string) (Score, error) {
	s, err := NewProgressScore(userID, activityProgress, gradingProgress)
	if err != nil {
		return Score{}, err
	}
	if maximum <= 0 {
		return Score{}, fmt.Errorf("%w: score maximum must be positive", ErrInvalidArgument)
	}
	if given < 0 {
		return Score{}, fmt.Errorf("%w: negative score", ErrInvalidArgument)
	}
	s.hasScore = true
	s.scoreGiven = given
	s.scoreMaximum = maximum
	return s, nil
}

// NewProgressScore builds a score-less submission event, reporting
// activity and grading progress without recording a grade. The wire
// form carries no scoreGiven/scoreMaximum.
func NewProgressScore(userID, activityProgress, gradingProgress string) (Score, error) {
	if userID == "" {
		return Score{}, fmt.Errorf("%w: empty user id", ErrInvalidArgument)
	}
	if !activityProgressValues[activityProgress] {
		return Score{}, fmt.Errorf("%w: activity progress %q", ErrInvalidArgument, activityProgress)
	}
	if !gradingProgressValues[gradingProgress] {
		return Score{}, fmt.Errorf("%w: grading progress %q", ErrInvalidArgument, gradingProgress)
	}
	return Score{
		userID:           userID,
		activityProgress: activityProgress,
		gradingProgress:  gradingProgress,
		timestamp:        time.Now(),
	}, nil
}

// WithTimestamp returns a copy carrying the given submission time.
func (s Score) WithTimestamp(t time.Time) Score {
	s.timestamp = t
	return s
}

// WithComment returns a copy carrying a grader comment.
func (s Score) WithComment(comment string) Score {
	s.comment = comment
	return s
}

func (s Score) UserID() string { return s.userID }

func (s Score) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"userId":           s.userID,
		"activityProgress": s.activityProgress,
		"gradingProgress":  s.gradingProgress,
		"timestamp":        formatTimestamp(s.timestamp),
	}
	if s.hasScore {
		out["scoreGiven"] = s.scoreGiven
		out["scoreMaximum"] = s.scoreMaximum
	}
	if s.comment != "" {
		out["comment"] = s.comment
	}
	return json.Marshal(out)
}
