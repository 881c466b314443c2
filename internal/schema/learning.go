package schema

import (
	"fmt"
	"time"
)

// RepeatType is the mastery level of a card. Lower values are less
// mastered; the zero value is RepeatStart.
type RepeatType int

const (
	RepeatStart RepeatType = iota
	Repeat1
	Repeat2
	Repeat3
	Repeat4
	Repeat5
	Repeat6
	RepeatKnown
)

var repeatIntervals = map[RepeatType]time.Duration{
	RepeatStart: 0,
	Repeat1:     5 * time.Minute,
	Repeat2:     time.Hour,
	Repeat3:     24 * time.Hour,
	Repeat4:     3 * 24 * time.Hour,
	Repeat5:     7 * 24 * time.Hour,
	Repeat6:     30 * 24 * time.Hour,
	RepeatKnown: 180 * 24 * time.Hour,
}

// Interval is the delay before a card at this level is shown again.
func (r RepeatType) Interval() time.Duration {
	return repeatIntervals[r.clamp()]
}

// Next returns the following level, saturating at RepeatKnown.
func (r RepeatType) Next() RepeatType {
	return (r + 1).clamp()
}

// Previous returns the preceding level, saturating at RepeatStart.
func (r RepeatType) Previous() RepeatType {
	return (r - 1).clamp()
}

func (r RepeatType) clamp() RepeatType {
	switch {
	case r < RepeatStart:
		return RepeatStart
	case r > RepeatKnown:
		return RepeatKnown
	default:
		return r
	}
}

// String returns a human-readable representation of the level.
func (r RepeatType) String() string {
	switch r {
	case RepeatStart:
		return "start"
	case RepeatKnown:
		return "known"
	default:
		return fmt.Sprintf("repeat%d", int(r))
	}
}

// LearningInfo is the review progress of one card.
type LearningInfo struct {
	ID           EntityKey  `json:"key"`
	ShowCount    int        `json:"show_count"`
	RepeatType   RepeatType `json:"repeat_type"`
	NextShowTime time.Time  `json:"next_show_time"`
	IsFavorited  bool       `json:"is_favorited"`
	CreatedAt    time.Time  `json:"created_at"`

	// Categories are topic labels, most relevant first. Empty when the card
	// was never classified.
	Categories []string `json:"categories,omitempty"`

	Modified time.Time `json:"modified_at"`
}

// NewLearningInfo returns progress for a freshly added card, due immediately.
func NewLearningInfo(key EntityKey, now time.Time) *LearningInfo {
	return &LearningInfo{
		ID:           key,
		RepeatType:   RepeatStart,
		NextShowTime: now,
		CreatedAt:    now,
	}
}

func (l *LearningInfo) Key() EntityKey            { return l.ID }
func (l *LearningInfo) ModifiedAt() time.Time     { return l.Modified }
func (l *LearningInfo) SetModifiedAt(t time.Time) { l.Modified = t }

// IsDue reports whether the card should be shown at the given time.
func (l *LearningInfo) IsDue(now time.Time) bool {
	return l.NextShowTime.Before(now)
}

// TopCategories returns up to n leading categories.
func (l *LearningInfo) TopCategories(n int) []string {
	if len(l.Categories) <= n {
		return l.Categories
	}
	return l.Categories[:n]
}

// SharesCategory reports whether l has at least one of the given categories.
func (l *LearningInfo) SharesCategory(categories []string) bool {
	for _, c := range l.Categories {
		for _, want := range categories {
			if c == want {
				return true
			}
		}
	}
	return false
}
