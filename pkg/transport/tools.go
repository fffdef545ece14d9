// Copyright 2025 The Quiver Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/quiverkb/quiver/pkg/models"
	"github.com/quiverkb/quiver/pkg/search"
)

// toolDescriptor is the tools/list entry for one tool.
type toolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func schema(required []string, props map[string]any) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func strArrayProp(desc string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": desc,
	}
}

func toolDescriptors() []toolDescriptor {
	searchProps := map[string]any{
		"query":        strProp("Search query text"),
		"limit":        intProp("Maximum number of results (default 5)"),
		"source_types": strArrayProp("Restrict to source types (git, confluence, jira, publicdocs, localfile)"),
		"project_ids":  strArrayProp("Restrict to project identifiers"),
		"session_context": map[string]any{
			"type":        "object",
			"description": "Optional session signals used by intent classification",
			"properties": map[string]any{
				"domain":    strProp("Working domain, e.g. engineering or business"),
				"user_role": strProp("Caller role, e.g. developer, manager, procurement"),
				"urgency":   strProp("Urgency level: low, normal, high, critical"),
			},
		},
		"behavioral_history": strArrayProp("Recent query intents, most recent last"),
	}

	return []toolDescriptor{
		{
			Name:        "search",
			Description: "Hybrid semantic and keyword search across the knowledge base with intent-adaptive ranking.",
			InputSchema: schema([]string{"query"}, searchProps),
		},
		{
			Name:        "search_with_facets",
			Description: "Hybrid search that also returns facet counts, applies facet filters, and suggests refinements.",
			InputSchema: schema([]string{"query"}, merged(searchProps, map[string]any{
				"facet_filters": map[string]any{
					"type":        "array",
					"description": "Filters to apply; values within one filter OR by default, AND when operator is AND",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"facet_type": strProp("Facet dimension, e.g. source_type, topics, has_features"),
							"values":     strArrayProp("Values to match"),
							"operator":   strProp("OR (default) or AND"),
						},
						"required": []string{"facet_type", "values"},
					},
				},
			})),
		},
		{
			Name:        "get_facet_suggestions",
			Description: "Run a search and return only the facets and refinement suggestions for narrowing it.",
			InputSchema: schema([]string{"query"}, map[string]any{
				"query": strProp("Search query text"),
				"limit": intProp("Result pool size to facet over (default 20)"),
			}),
		},
		{
			Name:        "generate_topic_chain",
			Description: "Build a chain of progressively exploratory queries from the topics related to a seed query.",
			InputSchema: schema([]string{"query"}, map[string]any{
				"query":     strProp("Seed query"),
				"strategy":  strProp("breadth_first, depth_first, relevance_ranked, or mixed_exploration"),
				"max_links": intProp("Maximum chain links (default 5)"),
			}),
		},
		{
			Name:        "execute_topic_chain",
			Description: "Execute a previously generated topic chain and return results per chain query.",
			InputSchema: schema([]string{"chain"}, map[string]any{
				"chain":            map[string]any{"type": "object", "description": "A chain produced by generate_topic_chain"},
				"results_per_link": intProp("Results per chain query (default 3)"),
				"source_types":     strArrayProp("Restrict to source types"),
				"project_ids":      strArrayProp("Restrict to project identifiers"),
			}),
		},
		{
			Name:        "search_with_topic_chain",
			Description: "Generate a topic chain from a query and execute it in one call.",
			InputSchema: schema([]string{"query"}, map[string]any{
				"query":            strProp("Seed query"),
				"strategy":         strProp("breadth_first, depth_first, relevance_ranked, or mixed_exploration"),
				"max_links":        intProp("Maximum chain links (default 5)"),
				"results_per_link": intProp("Results per chain query (default 3)"),
				"source_types":     strArrayProp("Restrict to source types"),
				"project_ids":      strArrayProp("Restrict to project identifiers"),
			}),
		},
		{
			Name:        "analyze_document_relationships",
			Description: "Summarize similarity, conflicts, complementary pairs, and clusters over documents matching a query.",
			InputSchema: schema([]string{"query"}, map[string]any{
				"query": strProp("Query selecting the document set"),
				"limit": intProp("Documents to analyze (default 20)"),
			}),
		},
		{
			Name:        "find_similar_documents",
			Description: "Rank documents similar to a target document across entity, topic, semantic, and structural metrics.",
			InputSchema: schema([]string{"target_query"}, map[string]any{
				"target_query":       strProp("Query whose best match becomes the target document"),
				"comparison_query":   strProp("Query selecting candidates; defaults to the target query"),
				"similarity_metrics": strArrayProp("Metrics to use; defaults to all"),
				"max_results":        intProp("Maximum similar documents (default 5)"),
			}),
		},
		{
			Name:        "detect_document_conflicts",
			Description: "Detect contradictions, version mismatches, policy divergence, and temporal inconsistencies between documents.",
			InputSchema: schema([]string{"query"}, map[string]any{
				"query":           strProp("Query selecting the document set"),
				"limit":           intProp("Documents to analyze (default 20)"),
				"use_llm":         boolProp("Deepen heuristic findings with the configured judge when available"),
				"max_llm_pairs":   intProp("Pair budget for the judge (default 5)"),
				"timeout_seconds": intProp("Analysis time budget (default 30)"),
			}),
		},
		{
			Name:        "find_complementary_content",
			Description: "Recommend documents that complement a target: related but covering different ground.",
			InputSchema: schema([]string{"target_query"}, map[string]any{
				"target_query":  strProp("Query whose best match becomes the target document"),
				"context_query": strProp("Query selecting candidates; defaults to the target query"),
				"max_results":   intProp("Maximum recommendations (default 5)"),
			}),
		},
		{
			Name:        "cluster_documents",
			Description: "Group documents matching a query into labeled clusters under a chosen or adaptive strategy.",
			InputSchema: schema([]string{"query"}, map[string]any{
				"query":            strProp("Query selecting the document set"),
				"limit":            intProp("Documents to cluster (default 30)"),
				"strategy":         strProp("mixed_features, semantic_embedding, topic_based, entity_based, project_based, hierarchical, or adaptive"),
				"max_clusters":     intProp("Maximum clusters to return (default 10)"),
				"min_cluster_size": intProp("Minimum documents per cluster (default 2)"),
			}),
		},
	}
}

func merged(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// searchArgs is the shared argument shape of the two search tools. Limit is a
// pointer so an explicit zero is distinguishable from an absent field.
type searchArgs struct {
	Query       string                 `json:"query"`
	Limit       *int                   `json:"limit,omitempty"`
	SourceTypes []string               `json:"source_types,omitempty"`
	ProjectIDs  []string               `json:"project_ids,omitempty"`
	Session     *search.SessionContext `json:"session_context,omitempty"`
	History     []search.Intent        `json:"behavioral_history,omitempty"`
	Filters     []models.FacetFilter   `json:"facet_filters,omitempty"`
}

// zeroLimit reports whether the caller explicitly asked for zero results.
func (a *searchArgs) zeroLimit() bool {
	return a.Limit != nil && *a.Limit == 0
}

func (a *searchArgs) request() *search.Request {
	req := &search.Request{
		Query:       a.Query,
		SourceTypes: a.SourceTypes,
		ProjectIDs:  a.ProjectIDs,
		Session:     a.Session,
		History:     a.History,
	}
	if a.Limit != nil {
		req.Limit = *a.Limit
	}
	return req
}

func (h *Handler) dispatchTool(ctx context.Context, name string, args json.RawMessage) (any, *RPCError) {
	switch name {
	case "search":
		return h.toolSearch(ctx, args)
	case "search_with_facets":
		return h.toolSearchWithFacets(ctx, args)
	case "get_facet_suggestions":
		return h.toolFacetSuggestions(ctx, args)
	case "generate_topic_chain":
		return h.toolGenerateChain(ctx, args)
	case "execute_topic_chain":
		return h.toolExecuteChain(ctx, args)
	case "search_with_topic_chain":
		return h.toolSearchWithChain(ctx, args)
	case "analyze_document_relationships":
		return h.toolAnalyzeRelationships(ctx, args)
	case "find_similar_documents":
		return h.toolFindSimilar(ctx, args)
	case "detect_document_conflicts":
		return h.toolDetectConflicts(ctx, args)
	case "find_complementary_content":
		return h.toolFindComplementary(ctx, args)
	case "cluster_documents":
		return h.toolClusterDocuments(ctx, args)
	default:
		return nil, &RPCError{
			Code:    CodeMethodNotFound,
			Message: "method not found",
			Data:    map[string]string{"detail": "unknown tool " + name},
		}
	}
}

func (h *Handler) toolSearch(ctx context.Context, raw json.RawMessage) (any, *RPCError) {
	var args searchArgs
	if rpcErr := decodeArgs(raw, &args); rpcErr != nil {
		return nil, rpcErr
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, invalidParams("query", "must not be empty")
	}
	// An explicit zero limit asks for nothing: answer with an empty list
	// rather than the default page.
	if args.zeroLimit() {
		return map[string]any{
			"results": []*models.SearchResult{},
			"total":   0,
		}, nil
	}
	results, err := h.engine.Search(ctx, args.request())
	if err != nil {
		return nil, internalError(err)
	}
	return map[string]any{
		"results": results,
		"total":   len(results),
	}, nil
}

func (h *Handler) toolSearchWithFacets(ctx context.Context, raw json.RawMessage) (any, *RPCError) {
	var args searchArgs
	if rpcErr := decodeArgs(raw, &args); rpcErr != nil {
		return nil, rpcErr
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, invalidParams("query", "must not be empty")
	}
	for _, filter := range args.Filters {
		if filter.Type == "" || len(filter.Values) == 0 {
			return nil, invalidParams("facet_filters", "each filter needs facet_type and values")
		}
	}
	result, err := h.faceter.SearchWithFacets(ctx, args.request(), args.Filters)
	if err != nil {
		return nil, internalError(err)
	}
	return result, nil
}

func (h *Handler) toolFacetSuggestions(ctx context.Context, raw json.RawMessage) (any, *RPCError) {
	var args struct {
		Query string `json:"query"`
		Limit int    `json:"limit,omitempty"`
	}
	if rpcErr := decodeArgs(raw, &args); rpcErr != nil {
		return nil, rpcErr
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, invalidParams("query", "must not be empty")
	}
	if args.Limit <= 0 {
		args.Limit = 20
	}
	result, err := h.faceter.SearchWithFacets(ctx, &search.Request{Query: args.Query, Limit: args.Limit}, nil)
	if err != nil {
		return nil, internalError(err)
	}
	return map[string]any{
		"facets":      result.Facets,
		"suggestions": result.Suggestions,
		"total":       result.TotalResults,
	}, nil
}

func parseChainStrategy(s string) (models.ChainStrategy, bool) {
	switch models.ChainStrategy(s) {
	case "":
		return models.ChainMixed, true
	case models.ChainBreadthFirst, models.ChainDepthFirst, models.ChainRelevanceRanked, models.ChainMixed:
		return models.ChainStrategy(s), true
	default:
		return "", false
	}
}

func (h *Handler) toolGenerateChain(ctx context.Context, raw json.RawMessage) (any, *RPCError) {
	var args struct {
		Query    string `json:"query"`
		Strategy string `json:"strategy,omitempty"`
		MaxLinks int    `json:"max_links,omitempty"`
	}
	if rpcErr := decodeArgs(raw, &args); rpcErr != nil {
		return nil, rpcErr
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, invalidParams("query", "must not be empty")
	}
	strategy, ok := parseChainStrategy(args.Strategy)
	if !ok {
		return nil, invalidParams("strategy", "unknown chain strategy "+args.Strategy)
	}
	chain, err := h.chainer.GenerateChain(ctx, args.Query, strategy, args.MaxLinks)
	if err != nil {
		return nil, internalError(err)
	}
	return chain, nil
}

func (h *Handler) toolExecuteChain(ctx context.Context, raw json.RawMessage) (any, *RPCError) {
	var args struct {
		Chain          *models.TopicSearchChain `json:"chain"`
		ResultsPerLink int                      `json:"results_per_link,omitempty"`
		SourceTypes    []string                 `json:"source_types,omitempty"`
		ProjectIDs     []string                 `json:"project_ids,omitempty"`
	}
	if rpcErr := decodeArgs(raw, &args); rpcErr != nil {
		return nil, rpcErr
	}
	if args.Chain == nil || args.Chain.OriginalQuery == "" {
		return nil, invalidParams("chain", "must be a chain with an original_query")
	}
	results, err := h.chainer.ExecuteChain(ctx, args.Chain, args.ResultsPerLink, args.SourceTypes, args.ProjectIDs)
	if err != nil {
		return nil, internalError(err)
	}
	return map[string]any{
		"chain":   args.Chain,
		"results": results,
	}, nil
}

func (h *Handler) toolSearchWithChain(ctx context.Context, raw json.RawMessage) (any, *RPCError) {
	var args struct {
		Query          string   `json:"query"`
		Strategy       string   `json:"strategy,omitempty"`
		MaxLinks       int      `json:"max_links,omitempty"`
		ResultsPerLink int      `json:"results_per_link,omitempty"`
		SourceTypes    []string `json:"source_types,omitempty"`
		ProjectIDs     []string `json:"project_ids,omitempty"`
	}
	if rpcErr := decodeArgs(raw, &args); rpcErr != nil {
		return nil, rpcErr
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, invalidParams("query", "must not be empty")
	}
	strategy, ok := parseChainStrategy(args.Strategy)
	if !ok {
		return nil, invalidParams("strategy", "unknown chain strategy "+args.Strategy)
	}
	chain, results, err := h.chainer.SearchWithChain(ctx, args.Query, strategy, args.MaxLinks, args.ResultsPerLink, args.SourceTypes, args.ProjectIDs)
	if err != nil {
		return nil, internalError(err)
	}
	return map[string]any{
		"chain":   chain,
		"results": results,
	}, nil
}

// fetchDocuments resolves a query into the document set the cross-document
// tools operate on.
func (h *Handler) fetchDocuments(ctx context.Context, query string, limit int) ([]*models.SearchResult, error) {
	return h.engine.Search(ctx, &search.Request{Query: query, Limit: limit})
}

func (h *Handler) toolAnalyzeRelationships(ctx context.Context, raw json.RawMessage) (any, *RPCError) {
	var args struct {
		Query string `json:"query"`
		Limit int    `json:"limit,omitempty"`
	}
	if rpcErr := decodeArgs(raw, &args); rpcErr != nil {
		return nil, rpcErr
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, invalidParams("query", "must not be empty")
	}
	if args.Limit <= 0 {
		args.Limit = 20
	}
	docs, err := h.fetchDocuments(ctx, args.Query, args.Limit)
	if err != nil {
		return nil, internalError(err)
	}
	return h.crossdoc.AnalyzeRelationships(ctx, docs), nil
}

func parseMetrics(names []string) ([]models.SimilarityMetric, string) {
	if len(names) == 0 {
		return nil, ""
	}
	valid := make(map[models.SimilarityMetric]bool, len(models.AllSimilarityMetrics))
	for _, m := range models.AllSimilarityMetrics {
		valid[m] = true
	}
	metrics := make([]models.SimilarityMetric, 0, len(names))
	for _, n := range names {
		m := models.SimilarityMetric(n)
		if !valid[m] {
			return nil, n
		}
		metrics = append(metrics, m)
	}
	return metrics, ""
}

func (h *Handler) toolFindSimilar(ctx context.Context, raw json.RawMessage) (any, *RPCError) {
	var args struct {
		TargetQuery     string   `json:"target_query"`
		ComparisonQuery string   `json:"comparison_query,omitempty"`
		Metrics         []string `json:"similarity_metrics,omitempty"`
		MaxResults      int      `json:"max_results,omitempty"`
	}
	if rpcErr := decodeArgs(raw, &args); rpcErr != nil {
		return nil, rpcErr
	}
	if strings.TrimSpace(args.TargetQuery) == "" {
		return nil, invalidParams("target_query", "must not be empty")
	}
	metrics, bad := parseMetrics(args.Metrics)
	if bad != "" {
		return nil, invalidParams("similarity_metrics", "unknown metric "+bad)
	}

	target, err := h.fetchDocuments(ctx, args.TargetQuery, 1)
	if err != nil {
		return nil, internalError(err)
	}
	if len(target) == 0 {
		return map[string]any{"target": nil, "similar": []any{}}, nil
	}

	comparison := args.ComparisonQuery
	if comparison == "" {
		comparison = args.TargetQuery
	}
	candidates, err := h.fetchDocuments(ctx, comparison, 30)
	if err != nil {
		return nil, internalError(err)
	}
	similar := h.crossdoc.FindSimilar(target[0], candidates, metrics, args.MaxResults)
	return map[string]any{
		"target":  target[0],
		"similar": similar,
	}, nil
}

func (h *Handler) toolDetectConflicts(ctx context.Context, raw json.RawMessage) (any, *RPCError) {
	var args struct {
		Query          string `json:"query"`
		Limit          int    `json:"limit,omitempty"`
		UseLLM         bool   `json:"use_llm,omitempty"`
		MaxLLMPairs    int    `json:"max_llm_pairs,omitempty"`
		TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	}
	if rpcErr := decodeArgs(raw, &args); rpcErr != nil {
		return nil, rpcErr
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, invalidParams("query", "must not be empty")
	}
	if args.Limit <= 0 {
		args.Limit = 20
	}
	docs, err := h.fetchDocuments(ctx, args.Query, args.Limit)
	if err != nil {
		return nil, internalError(err)
	}
	opts := search.ConflictOptions{
		UseLLM:      args.UseLLM,
		MaxLLMPairs: args.MaxLLMPairs,
		Timeout:     time.Duration(args.TimeoutSeconds) * time.Second,
	}
	return h.crossdoc.DetectConflicts(ctx, docs, nil, opts), nil
}

func (h *Handler) toolFindComplementary(ctx context.Context, raw json.RawMessage) (any, *RPCError) {
	var args struct {
		TargetQuery  string `json:"target_query"`
		ContextQuery string `json:"context_query,omitempty"`
		MaxResults   int    `json:"max_results,omitempty"`
	}
	if rpcErr := decodeArgs(raw, &args); rpcErr != nil {
		return nil, rpcErr
	}
	if strings.TrimSpace(args.TargetQuery) == "" {
		return nil, invalidParams("target_query", "must not be empty")
	}

	target, err := h.fetchDocuments(ctx, args.TargetQuery, 1)
	if err != nil {
		return nil, internalError(err)
	}
	if len(target) == 0 {
		return map[string]any{"target": nil, "recommendations": []any{}}, nil
	}

	contextQuery := args.ContextQuery
	if contextQuery == "" {
		contextQuery = args.TargetQuery
	}
	candidates, err := h.fetchDocuments(ctx, contextQuery, 30)
	if err != nil {
		return nil, internalError(err)
	}
	recommendations := h.crossdoc.FindComplementary(target[0], candidates, args.MaxResults)
	return map[string]any{
		"target":          target[0],
		"recommendations": recommendations,
	}, nil
}

func parseClusterStrategy(s string) (models.ClusterStrategy, bool) {
	switch models.ClusterStrategy(s) {
	case "":
		return models.ClusterAdaptive, true
	case models.ClusterMixedFeatures, models.ClusterSemantic, models.ClusterTopicBased,
		models.ClusterEntityBased, models.ClusterProjectBased, models.ClusterHierarchical,
		models.ClusterAdaptive:
		return models.ClusterStrategy(s), true
	default:
		return "", false
	}
}

func (h *Handler) toolClusterDocuments(ctx context.Context, raw json.RawMessage) (any, *RPCError) {
	var args struct {
		Query          string `json:"query"`
		Limit          int    `json:"limit,omitempty"`
		Strategy       string `json:"strategy,omitempty"`
		MaxClusters    int    `json:"max_clusters,omitempty"`
		MinClusterSize int    `json:"min_cluster_size,omitempty"`
	}
	if rpcErr := decodeArgs(raw, &args); rpcErr != nil {
		return nil, rpcErr
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, invalidParams("query", "must not be empty")
	}
	strategy, ok := parseClusterStrategy(args.Strategy)
	if !ok {
		return nil, invalidParams("strategy", "unknown cluster strategy "+args.Strategy)
	}
	if args.Limit <= 0 {
		args.Limit = 30
	}
	docs, err := h.fetchDocuments(ctx, args.Query, args.Limit)
	if err != nil {
		return nil, internalError(err)
	}
	return h.crossdoc.Cluster(docs, strategy, args.MaxClusters, args.MinClusterSize), nil
}
