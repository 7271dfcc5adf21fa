// Package bootstrap 组装 HTTP 服务与命令行工具共用的依赖。
package bootstrap

import (
	"context"
	"fmt"
	"receipt-rag-go/internal/config"
	"receipt-rag-go/internal/extraction"
	"receipt-rag-go/internal/pipeline"
	"receipt-rag-go/internal/reconstruct"
	"receipt-rag-go/internal/repository"
	"receipt-rag-go/internal/service"
	"receipt-rag-go/internal/vectorindex"
	"receipt-rag-go/pkg/database"
	"receipt-rag-go/pkg/embedding"
	"receipt-rag-go/pkg/es"
	"receipt-rag-go/pkg/llm"
	"receipt-rag-go/pkg/log"
	"receipt-rag-go/pkg/ocr"
	"receipt-rag-go/pkg/storage"
)

// 支持的向量存储后端。
const (
	StoreElasticsearch = "elasticsearch"
	StorePGVector      = "pgvector"
	StoreMemory        = "memory"
)

// App 持有已初始化的仓储、索引与服务。
type App struct {
	Config config.Config

	UserRepo    repository.UserRepository
	ReceiptRepo repository.ReceiptRepository
	HistoryRepo repository.QAHistoryRepository
	StatusRepo  repository.IngestionStatusRepository

	Index     *vectorindex.Index
	LLM       llm.Client
	Objects   storage.ObjectStore
	Processor *pipeline.Processor
	RAG       service.RAGService
	Admin     service.AdminService
}

// Init 按配置初始化 MySQL、Redis、MinIO 与向量存储，并组装服务。
// withObjects 为 false 时不连接 MinIO，Processor 也不会被创建。
func Init(ctx context.Context, cfg config.Config, withObjects bool) (*App, error) {
	database.InitMySQL(cfg.Database.MySQL.DSN)
	if err := database.Migrate(database.DB); err != nil {
		return nil, err
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:      cfg,
		UserRepo:    repository.NewUserRepository(database.DB),
		ReceiptRepo: repository.NewReceiptRepository(database.DB),
		HistoryRepo: repository.NewQAHistoryRepository(database.RDB),
		StatusRepo:  repository.NewIngestionStatusRepository(database.RDB),
		Index:       vectorindex.NewIndex(store, embedding.NewClient(cfg.Embedding)),
		LLM:         llm.NewClient(cfg.LLM),
	}
	app.RAG = service.NewRAGService(app.Index, app.LLM, app.HistoryRepo, cfg.RAG.RequestTimeout())
	app.Admin = service.NewAdminService(app.UserRepo, app.ReceiptRepo, app.HistoryRepo, app.Index, cfg.RAG.ReindexWorkers)

	if withObjects {
		storage.InitMinIO(cfg.MinIO)
		app.Objects = storage.NewMinioStore(storage.MinioClient, cfg.MinIO.BucketName)

		extractionModel := cfg.LLM.ExtractionModel
		if extractionModel == "" {
			extractionModel = cfg.LLM.Model
		}
		app.Processor = pipeline.NewProcessor(
			app.Objects,
			reconstruct.NewLineReader(ocr.NewClient(cfg.OCR)),
			extraction.NewLLMExtractor(app.LLM, extractionModel),
			app.ReceiptRepo,
			app.Index,
			app.StatusRepo,
		)
	}
	return app, nil
}

// OpenStore 根据 vector_store.type 创建向量存储。
func OpenStore(ctx context.Context, cfg config.Config) (vectorindex.Store, error) {
	switch cfg.VectorStore.Type {
	case StoreElasticsearch, "":
		if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
			return nil, fmt.Errorf("es 初始化失败: %w", err)
		}
		log.Infof("向量存储: elasticsearch, index: %s", cfg.Elasticsearch.IndexName)
		return vectorindex.NewElasticStore(es.ESClient, cfg.Elasticsearch.IndexName), nil
	case StorePGVector:
		if err := database.InitPostgres(cfg.Database.Postgres.DSN); err != nil {
			return nil, err
		}
		store := vectorindex.NewPGVectorStore(database.PG, cfg.Embedding.Dimensions)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		log.Info("向量存储: pgvector")
		return store, nil
	case StoreMemory:
		log.Warnf("向量存储: memory, 进程退出后索引丢失")
		return vectorindex.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("未知的向量存储类型: %q", cfg.VectorStore.Type)
	}
}
