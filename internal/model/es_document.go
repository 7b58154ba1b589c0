package model

// KnowledgeDocument 代表存储在 Elasticsearch 知识库索引中的文档分块。
type KnowledgeDocument struct {
	DocID       string    `json:"doc_id"`
	Source      string    `json:"source"`
	ChunkID     int       `json:"chunk_id"`
	TextContent string    `json:"text_content"`
	Vector      []float32 `json:"vector"`
}

// SearchHit 是一次知识检索的命中结果。
type SearchHit struct {
	DocID       string  `json:"docId"`
	Source      string  `json:"source"`
	ChunkID     int     `json:"chunkId"`
	TextContent string  `json:"textContent"`
	Score       float64 `json:"score"`
}
