package search

import (
	"encoding/json"
)

// Request is a phase-one query.
type Request struct {
	Query string
	Limit int
	User  string
}

// Result is what a search returns and what the cache keeps under both the
// search key and the token key.
type Result struct {
	Answers         []Answer `json:"answers"`
	Query           string   `json:"query"`
	Stats           Stats    `json:"stats"`
	SuggestionToken string   `json:"suggestion_token"`
}

type Stats struct {
	Time  int64 `json:"time"`  // elapsed milliseconds
	Total int   `json:"total"` // records in the index at query time
}

type Answer struct {
	ID       string   `json:"id"`
	Metadata Metadata `json:"metadata"`
	Score    float64  `json:"score"`
}

// Metadata mirrors the record payload stored in the vector index.
type Metadata struct {
	Audience    StringList `json:"audience"`
	Authors     StringList `json:"authors"`
	Description string     `json:"description"`
	Language    string     `json:"language"`
	LastUpdated string     `json:"last_updated"`
	Tags        StringList `json:"tags"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
}

// StringList decodes either a JSON array of strings or a single string.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*l = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}
