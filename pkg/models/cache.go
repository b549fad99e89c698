package models

// CacheAgeBuckets distributes live cache entries by age.
type CacheAgeBuckets struct {
	UnderHour int `json:"under_1h"`
	OneToSix  int `json:"1h_to_6h"`
	SixToDay  int `json:"6h_to_24h"`
	OverDay   int `json:"over_24h"`
}

// CacheStats is a point-in-time snapshot of the response cache.
type CacheStats struct {
	Backend      string          `json:"backend"`
	TotalEntries int             `json:"total_entries"`
	Expired      int             `json:"expired"`
	ByNamespace  map[string]int  `json:"by_namespace"`
	AgeBuckets   CacheAgeBuckets `json:"age_buckets"`
}
