package crm

import (
	"fmt"

	"github.com/dealflow/dealflow/pkg/store"
)

// Filter keys accepted by pipeline searches.
const (
	FilterName        = "name"
	FilterDescription = "description"
	FilterIsActive    = "isActive"
	FilterStages      = "stages"
)

// TranslatePipelineFilter turns a loosely typed search filter into a
// storage query. name, description and stages are case-sensitive substring
// matches; isActive goes through TranslateIsActive. Missing keys add no
// predicate.
func TranslatePipelineFilter(where map[string]any) store.PipelineQuery {
	var q store.PipelineQuery
	if v, ok := where[FilterName]; ok && v != nil {
		q.NameLike = stringPtr(v)
	}
	if v, ok := where[FilterDescription]; ok && v != nil {
		q.DescriptionLike = stringPtr(v)
	}
	if v, ok := where[FilterIsActive]; ok {
		q.IsActive = TranslateIsActive(v)
	}
	if v, ok := where[FilterStages]; ok && v != nil {
		q.StageNameLike = stringPtr(v)
	}
	return q
}

// translateFindInput handles the exact-match filter of the pipeline list
// endpoint.
func translateFindInput(input map[string]any) store.PipelineQuery {
	var q store.PipelineQuery
	if v, ok := input[FilterName]; ok && v != nil {
		q.Name = stringPtr(v)
	}
	if v, ok := input[FilterIsActive]; ok {
		q.IsActive = TranslateIsActive(v)
	}
	return q
}

// TranslateIsActive maps "active" to true and "inactive" to false. Any other
// value is returned unchanged.
func TranslateIsActive(v any) any {
	switch v {
	case "active":
		return true
	case "inactive":
		return false
	default:
		return v
	}
}

func stringPtr(v any) *string {
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	return &s
}
