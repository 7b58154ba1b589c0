package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"pai-assistant-go/internal/model"
	"pai-assistant-go/pkg/embedding"
	"pai-assistant-go/pkg/log"
	"regexp"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
)

// Retriever 在知识库中检索与查询相关的分块。
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]model.SearchHit, error)
}

type esRetriever struct {
	embeddingClient embedding.Client
	esClient        *elasticsearch.Client
	indexName       string
}

// NewRetriever 创建一个基于 Elasticsearch 混合检索的 Retriever。
func NewRetriever(embeddingClient embedding.Client, esClient *elasticsearch.Client, indexName string) Retriever {
	return &esRetriever{
		embeddingClient: embeddingClient,
		esClient:        esClient,
		indexName:       indexName,
	}
}

// Search 执行 kNN 召回 + BM25 重排的两阶段混合检索，排序完全交给 Elasticsearch。
func (r *esRetriever) Search(ctx context.Context, query string, topK int) ([]model.SearchHit, error) {
	if topK <= 0 {
		topK = 3
	}
	log.Infof("[Retriever] 开始执行混合检索, query: '%s', topK: %d", query, topK)

	normalized, phrase := normalizeQuery(query)
	if normalized != query {
		log.Infof("[Retriever] 规范化查询: '%s' -> '%s'", query, normalized)
	}

	// 向量化查询（用原始问句，保持语义检索能力）
	queryVector, err := r.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}

	recallK := topK * 10
	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   queryVector,
			"k":              recallK,
			"num_candidates": recallK,
		},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": map[string]interface{}{
					"match": map[string]interface{}{
						"text_content": normalized,
					},
				},
				"should": buildPhraseShould(phrase),
			},
		},
		"rescore": map[string]interface{}{
			"window_size": recallK,
			"query": map[string]interface{}{
				"rescore_query": map[string]interface{}{
					"match": map[string]interface{}{
						"text_content": map[string]interface{}{
							"query":    normalized,
							"operator": "and",
						},
					},
				},
				"query_weight":         0.2,
				"rescore_query_weight": 1.0,
			},
		},
		"size": topK,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := r.esClient.Search(
		r.esClient.Search.WithContext(ctx),
		r.esClient.Search.WithIndex(r.indexName),
		r.esClient.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[Retriever] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.KnowledgeDocument `json:"_source"`
				Score  float64                 `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	hits := make([]model.SearchHit, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		hits = append(hits, model.SearchHit{
			DocID:       h.Source.DocID,
			Source:      h.Source.Source,
			ChunkID:     h.Source.ChunkID,
			TextContent: h.Source.TextContent,
			Score:       h.Score,
		})
	}
	log.Infof("[Retriever] 混合检索完成, 返回 %d 条结果", len(hits))
	return hits, nil
}

var (
	reKeep  = regexp.MustCompile(`[^\p{Han}a-z0-9\s]+`)
	reSpace = regexp.MustCompile(`\s+`)
)

// normalizeQuery 对用户查询进行轻量去噪与短语提取。
// 返回值：规范化后的查询（用于 BM25/rescore）与核心短语（用于 match_phrase 兜底）。
func normalizeQuery(q string) (string, string) {
	if q == "" {
		return q, ""
	}
	lower := strings.ToLower(q)
	// 去除常见口语/功能词
	stopPhrases := []string{"是谁", "是什么", "是啥", "请问", "怎么", "如何", "告诉我", "吗", "呢", "？",
		"what is", "what's", "tell me about", "please", "how do i", "?"}
	for _, sp := range stopPhrases {
		lower = strings.ReplaceAll(lower, sp, " ")
	}
	kept := reKeep.ReplaceAllString(lower, " ")
	kept = strings.TrimSpace(reSpace.ReplaceAllString(kept, " "))
	if kept == "" {
		return q, ""
	}
	return kept, kept
}

// buildPhraseShould 构建 match_phrase should 子句（带 boost），为空则返回 nil
func buildPhraseShould(phrase string) interface{} {
	if phrase == "" {
		return nil
	}
	return []map[string]interface{}{
		{
			"match_phrase": map[string]interface{}{
				"text_content": map[string]interface{}{
					"query": phrase,
					"boost": 3.0,
				},
			},
		},
	}
}
