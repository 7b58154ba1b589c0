// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"pai-assistant-go/internal/config"
	"pai-assistant-go/internal/handler"
	"pai-assistant-go/internal/middleware"
	"pai-assistant-go/internal/model"
	"pai-assistant-go/internal/pipeline"
	"pai-assistant-go/internal/repository"
	"pai-assistant-go/internal/service"
	"pai-assistant-go/internal/tier"
	"pai-assistant-go/pkg/agent"
	"pai-assistant-go/pkg/database"
	"pai-assistant-go/pkg/embedding"
	"pai-assistant-go/pkg/es"
	"pai-assistant-go/pkg/kafka"
	"pai-assistant-go/pkg/kv"
	"pai-assistant-go/pkg/llm"
	"pai-assistant-go/pkg/log"
	"pai-assistant-go/pkg/storage"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	// 3. 初始化 Redis 与对话存储
	var rdb *redis.Client
	if cfg.Database.Redis.Addr != "" {
		client, err := database.InitRedis(bgCtx, cfg.Database.Redis)
		if err != nil {
			log.Warnf("Redis 不可用: %v", err)
		} else {
			rdb = client
			defer rdb.Close()
		}
	}
	conversationRepo := repository.NewConversationRepository(newConversationStore(cfg.Storage, rdb), cfg.Storage.ConversationKey)

	// 4. 组装回复层：检索增强 -> 远程代理 -> 本地模型
	tiers := buildTiers(bgCtx, cfg)

	// 5. 对话事件发布
	var publisher service.EventPublisher
	if cfg.Kafka.Brokers != "" {
		kafkaPublisher := kafka.NewPublisher(cfg.Kafka)
		defer func() {
			if err := kafkaPublisher.Close(); err != nil {
				log.Errorf("关闭 Kafka 生产者失败: %v", err)
			}
		}()
		publisher = kafkaPublisher
	}

	chatService := service.NewChatService(conversationRepo, tiers, publisher, cfg.Assistant.UserID)
	chatService.Restore(bgCtx)
	initializer := service.ProfileInitializer(chatService, cfg.Assistant.Profile)

	// 6. 启动后台归档消费者
	turnRepo := startArchiver(bgCtx, cfg)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())
	handler.RegisterRoutes(r,
		handler.NewChatHandler(chatService, cfg.Assistant.RAGEnabled, initializer),
		handler.NewTurnHandler(turnRepo, cfg.Assistant.UserID),
	)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// newConversationStore 按配置选择对话日志的存储后端，Redis 不可用时退回内存存储。
func newConversationStore(cfg config.StorageConfig, rdb *redis.Client) kv.Store {
	if cfg.Backend == "redis" && rdb != nil {
		return kv.NewRedisStore(rdb, cfg.TTL)
	}
	if cfg.Backend == "redis" {
		log.Warnf("Redis 不可用，对话日志仅保存在内存中")
	}
	return kv.NewMemoryStore()
}

func buildTiers(ctx context.Context, cfg config.Config) []tier.Tier {
	var retriever service.Retriever
	if cfg.Elasticsearch.Addresses != "" {
		embeddingClient := embedding.NewClient(cfg.Embedding)
		if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
			log.Warnf("Elasticsearch 初始化失败，知识库检索已停用: %v", err)
		} else {
			retriever = service.NewRetriever(embeddingClient, es.ESClient, cfg.Elasticsearch.IndexName)
			seeder := pipeline.NewKnowledgeSeeder(embeddingClient, func(ctx context.Context, doc model.KnowledgeDocument) error {
				return es.IndexDocument(ctx, es.ESClient, cfg.Elasticsearch.IndexName, doc)
			}, cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
			go func() {
				if _, err := seeder.SeedDir(ctx, cfg.RAG.SeedDir); err != nil {
					log.Warnf("知识库导入失败: %v", err)
				}
			}()
		}
	}

	knowledgeService, err := service.NewKnowledgeService(cfg.RAG, retriever)
	if err != nil {
		log.Fatalf("意图配置无效: %v", err)
	}
	return []tier.Tier{
		tier.NewRAGTier(knowledgeService),
		tier.NewAgentTier(agent.NewClient(cfg.Agent), cfg.Agent.Timeout),
		tier.NewLocalTier(llm.NewClient(cfg.LLM), cfg.LLM.HistoryLimit),
	}
}

// startArchiver 在 Kafka 与至少一个归档目标可用时启动归档消费者，返回可供查询的问答仓库。
func startArchiver(ctx context.Context, cfg config.Config) repository.TurnRepository {
	var turnRepo repository.TurnRepository
	if cfg.Database.MySQL.DSN != "" {
		db, err := database.InitMySQL(cfg.Database.MySQL.DSN)
		if err != nil {
			log.Warnf("MySQL 不可用，问答归档已停用: %v", err)
		} else {
			turnRepo = repository.NewTurnRepository(db)
		}
	}

	var objects storage.ObjectStore
	if cfg.MinIO.Endpoint != "" {
		store, err := storage.InitMinIO(ctx, cfg.MinIO)
		if err != nil {
			log.Warnf("MinIO 不可用，对话记录归档已停用: %v", err)
		} else {
			objects = store
		}
	}

	if cfg.Kafka.Brokers == "" || (turnRepo == nil && objects == nil) {
		log.Info("归档消费者未启动")
		return turnRepo
	}
	go kafka.StartConsumer(ctx, cfg.Kafka, pipeline.NewArchiver(turnRepo, objects))
	return turnRepo
}
