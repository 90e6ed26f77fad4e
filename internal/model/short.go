package model

import "time"

// Mapping is the durable short id -> long URL record
type Mapping struct {
	ID        string    `json:"id"`         // short id, immutable once created
	LongURL   string    `json:"long_url"`   // original long URL, unique across mappings
	CreatedAt time.Time `json:"created_at"` // timestamp of creation
}

// GotoStatTotal is one row of the most-visited report
type GotoStatTotal struct {
	LongURL string `json:"long_url"`
	Total   int64  `json:"total"`
}

// GotoStatsResponse is the body of GET /api/shorts/goto
type GotoStatsResponse struct {
	Stats []GotoStatTotal `json:"stats"`
}

// CreateShortRequest is the JSON form of a creation request
type CreateShortRequest struct {
	LongURL string `json:"long_url"`
}

// CreateShortResponse is returned (or rendered) after a creation request
type CreateShortResponse struct {
	Short    string `json:"short"`     // short id
	ShortURL string `json:"short_url"` // full shortened URL
	LongURL  string `json:"long_url"`  // original long URL
}

// Page is the data handed to every rendered template
type Page struct {
	Title string
	Data  any
}
