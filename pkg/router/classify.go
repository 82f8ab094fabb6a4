// Package router implements the Virtual Router (C6): classify → select →
// admit, grounded on the teacher's pkg/providers/virtual/loadbalance
// weighted round-robin strategy, generalized to the spec's closed category
// set and admission/health/model-match filter chain.
package router

import (
	"strings"

	"github.com/routecodex/routecodex/pkg/types"
	"github.com/routecodex/routecodex/pkg/utils"
)

// Category is one of the closed set of routing categories named in
// spec.md §4.6.
type Category string

const (
	CategoryDefault     Category = "default"
	CategoryLongContext Category = "longContext"
	CategoryThinking    Category = "thinking"
	CategoryCoding      Category = "coding"
	CategoryBackground  Category = "background"
	CategoryWebsearch   Category = "websearch"
	CategoryVision      Category = "vision"
)

// ClassifyInput carries the signals a classification rule matches against.
type ClassifyInput struct {
	Dialect        string
	Model          string
	MessagesShape  string // "single" or "multi", with ",image" appended per image part
	ToolsPresent   bool
	TokenEstimate  int
	CategoryHint   string
}

// Rule is one entry in the ordered classification table. Match returns true
// if in applies to this rule; the first matching rule wins (spec.md §4.6).
type Rule struct {
	Name     string
	Category Category
	Match    func(in ClassifyInput) bool
}

// DefaultRules is the classification table shipped with the gateway. It is
// data, not code — callers may build their own table (e.g. from config) and
// pass it to Classify instead.
var DefaultRules = []Rule{
	{Name: "vision", Category: CategoryVision, Match: func(in ClassifyInput) bool {
		return strings.Contains(in.MessagesShape, "image")
	}},
	{Name: "websearch", Category: CategoryWebsearch, Match: func(in ClassifyInput) bool {
		return strings.Contains(strings.ToLower(in.Model), "search")
	}},
	{Name: "thinking", Category: CategoryThinking, Match: func(in ClassifyInput) bool {
		return strings.Contains(strings.ToLower(in.Model), "thinking") || strings.Contains(strings.ToLower(in.Model), "o1")
	}},
	{Name: "coding", Category: CategoryCoding, Match: func(in ClassifyInput) bool {
		return in.ToolsPresent && strings.Contains(strings.ToLower(in.Model), "code")
	}},
	{Name: "longContext", Category: CategoryLongContext, Match: func(in ClassifyInput) bool {
		return in.TokenEstimate > utils.TokenThreshold32K
	}},
	{Name: "background", Category: CategoryBackground, Match: func(in ClassifyInput) bool {
		return in.Dialect == "codexResponses" && !in.ToolsPresent
	}},
}

// Classify applies rules in order, returning the first match's category, or
// CategoryDefault if nothing matched. A request's explicit category hint
// bypasses the rule table entirely when it names a category present in the
// routing table (checked by the caller, which holds RuntimeConfig.Routing).
func Classify(in ClassifyInput, rules []Rule, knownCategories map[string]bool) Category {
	if in.CategoryHint != "" && knownCategories[in.CategoryHint] {
		return Category(in.CategoryHint)
	}
	for _, r := range rules {
		if r.Match(in) {
			return r.Category
		}
	}
	return CategoryDefault
}

// BuildClassifyInput derives a ClassifyInput from a normalized ChatRequest,
// estimating tokens with a simple character-count heuristic (spec.md §9
// leaves exact classification heuristics as an Open Question resolved by
// configuration, not fixed policy — this is the default, replaceable rule).
func BuildClassifyInput(req types.ChatRequest, categoryHint string) ClassifyInput {
	shape := "single"
	if len(req.Messages) > 1 {
		shape = "multi"
	}
	for _, m := range req.Messages {
		for _, p := range m.Parts {
			if p.Type == types.ContentTypeImage {
				shape += ",image"
			}
		}
	}

	tokenEstimate := utils.EstimateTokensFromString(req.System) + utils.EstimateTokensFromMessages(req.Messages)

	return ClassifyInput{
		Dialect:       req.Dialect,
		Model:         req.Model,
		MessagesShape: shape,
		ToolsPresent:  len(req.Tools) > 0,
		TokenEstimate: tokenEstimate,
		CategoryHint:  categoryHint,
	}
}
