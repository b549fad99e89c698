package models

import "time"

// GapPriority tiers a knowledge gap by how often the query keeps failing.
type GapPriority string

const (
	GapPriorityHigh   GapPriority = "high"
	GapPriorityMedium GapPriority = "medium"
	GapPriorityLow    GapPriority = "low"
)

// KnowledgeGap is a query that repeatedly failed to surface a matching
// article within the analysis window.
type KnowledgeGap struct {
	NormalizedQuery string      `json:"normalized_query"`
	Frequency       int         `json:"frequency"`
	LastSearched    time.Time   `json:"last_searched"`
	Priority        GapPriority `json:"priority"`
	SampleQuery     string      `json:"sample_query"`
	Tags            ContextTags `json:"tags"`
}

// TopicCount pairs a normalized topic with how often it was searched.
type TopicCount struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

// TrendBucket aggregates one day of search activity.
type TrendBucket struct {
	Day        time.Time `json:"day"`
	Searches   int       `json:"searches"`
	Successful int       `json:"successful"`
}

// SearchAnalytics summarizes search activity within a window.
type SearchAnalytics struct {
	WindowDays    int           `json:"window_days"`
	TotalSearches int           `json:"total_searches"`
	Successful    int           `json:"successful"`
	SuccessRate   float64       `json:"success_rate"`
	TopTopics     []TopicCount  `json:"top_topics"`
	DailyTrend    []TrendBucket `json:"daily_trend"`
}
