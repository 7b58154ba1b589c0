package pipeline

import (
	"context"
	"crypto/md5"
	"fmt"
	"os"
	"pai-assistant-go/internal/model"
	"pai-assistant-go/pkg/embedding"
	"pai-assistant-go/pkg/log"
	"path/filepath"
	"strings"
)

// Indexer 把一个知识分块写入索引。
type Indexer func(ctx context.Context, doc model.KnowledgeDocument) error

// KnowledgeSeeder 把目录下的文本文件切块、向量化后写入知识库索引。
type KnowledgeSeeder struct {
	embeddingClient embedding.Client
	index           Indexer
	chunkSize       int
	chunkOverlap    int
}

// NewKnowledgeSeeder 创建一个新的 KnowledgeSeeder 实例。
func NewKnowledgeSeeder(embeddingClient embedding.Client, index Indexer, chunkSize, chunkOverlap int) *KnowledgeSeeder {
	return &KnowledgeSeeder{
		embeddingClient: embeddingClient,
		index:           index,
		chunkSize:       chunkSize,
		chunkOverlap:    chunkOverlap,
	}
}

// SeedDir 导入 dir 下的 .txt 与 .md 文件，返回写入的分块数。
// 文档 ID 由内容 MD5 与分块序号组成，重复导入会覆盖同一批文档。
func (s *KnowledgeSeeder) SeedDir(ctx context.Context, dir string) (int, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("[KnowledgeSeeder] 目录 '%s' 不存在或不可用，跳过导入", dir)
		return 0, nil
	}

	total := 0
	walkErr := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md":
		default:
			return nil
		}
		n, err := s.seedFile(ctx, path)
		if err != nil {
			return err
		}
		total += n
		return nil
	})
	if walkErr != nil {
		return total, walkErr
	}
	log.Infof("[KnowledgeSeeder] 导入完成, 目录: %s, 分块数: %d", dir, total)
	return total, nil
}

func (s *KnowledgeSeeder) seedFile(ctx context.Context, path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		log.Warnf("[KnowledgeSeeder] 读取文件失败: %s, err=%v", path, err)
		return 0, nil
	}
	text := strings.TrimSpace(string(content))
	if text == "" {
		log.Infof("[KnowledgeSeeder] 空文件跳过: %s", path)
		return 0, nil
	}
	docID := fmt.Sprintf("%x", md5.Sum(content))
	source := filepath.Base(path)

	chunks := splitText(text, s.chunkSize, s.chunkOverlap)
	for i, chunk := range chunks {
		vector, err := s.embeddingClient.CreateEmbedding(ctx, chunk)
		if err != nil {
			return i, fmt.Errorf("%s 分块 %d 向量化失败: %w", source, i, err)
		}
		doc := model.KnowledgeDocument{
			DocID:       fmt.Sprintf("%s_%d", docID, i),
			Source:      source,
			ChunkID:     i,
			TextContent: chunk,
			Vector:      vector,
		}
		if err := s.index(ctx, doc); err != nil {
			return i, fmt.Errorf("%s 分块 %d 索引失败: %w", source, i, err)
		}
	}
	log.Infof("[KnowledgeSeeder] 文件已导入: %s, 分块数: %d", source, len(chunks))
	return len(chunks), nil
}

// splitText 将长文本按指定大小和重叠进行切分。
func splitText(text string, chunkSize, chunkOverlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		return []string{text}
	}
	step := chunkSize - chunkOverlap
	if chunkOverlap < 0 || step <= 0 {
		step = chunkSize
	}

	var chunks []string
	for i := 0; i < len(runes); i += step {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
