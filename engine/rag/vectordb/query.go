package vectordb

import "errors"

// Query is a constrained union: exactly one shape must be set.
type Query struct {
	// Vector is a plain nearest-neighbor search.
	Vector []float32
	// Recommend searches relative to stored example points.
	Recommend *RecommendQuery
	// Hybrid fuses a dense vector with a payload text match.
	Hybrid *HybridQuery
	// Grouped returns the best hit per payload group.
	Grouped *GroupedQuery
}

// RecommendQuery biases search toward Positive example points and away
// from Negative ones. Positive must not be empty.
type RecommendQuery struct {
	Positive []string
	Negative []string
}

// HybridQuery combines dense similarity with a substring match on a
// payload field, fused by the provider.
type HybridQuery struct {
	Vector []float32
	Field  string
	Text   string
}

// GroupedQuery collapses results so each distinct value of GroupBy
// contributes at most GroupSize hits.
type GroupedQuery struct {
	Vector    []float32
	GroupBy   string
	GroupSize int
}

var (
	errEmptyQuery     = errors.New("vectordb: query requires exactly one shape")
	errAmbiguousQuery = errors.New("vectordb: query shapes are mutually exclusive")
)

// Validate enforces the exactly-one-shape constraint.
func (q Query) Validate() error {
	set := 0
	if len(q.Vector) > 0 {
		set++
	}
	if q.Recommend != nil {
		set++
	}
	if q.Hybrid != nil {
		set++
	}
	if q.Grouped != nil {
		set++
	}
	switch {
	case set == 0:
		return errEmptyQuery
	case set > 1:
		return errAmbiguousQuery
	}
	if q.Recommend != nil && len(q.Recommend.Positive) == 0 {
		return errors.New("vectordb: recommend query requires at least one positive point")
	}
	if q.Hybrid != nil {
		if len(q.Hybrid.Vector) == 0 {
			return errors.New("vectordb: hybrid query requires a vector")
		}
		if q.Hybrid.Field == "" || q.Hybrid.Text == "" {
			return errors.New("vectordb: hybrid query requires a payload field and text")
		}
	}
	if q.Grouped != nil {
		if len(q.Grouped.Vector) == 0 {
			return errors.New("vectordb: grouped query requires a vector")
		}
		if q.Grouped.GroupBy == "" {
			return errors.New("vectordb: grouped query requires a group-by field")
		}
	}
	return nil
}
