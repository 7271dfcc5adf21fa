// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"receipt-rag-go/internal/model"
	"receipt-rag-go/internal/repository"
	"receipt-rag-go/internal/vectorindex"
	"receipt-rag-go/pkg/llm"
	"receipt-rag-go/pkg/log"
	"strings"
	"time"
)

const (
	// FallbackAnswer 只在检索结果为空时返回。
	FallbackAnswer = "I don't know."
	// DefaultTopK 是未指定 topK 时的检索条数。
	DefaultTopK = 10

	promptTemplate = "Use the following receipt context to answer the question. " +
		"If the answer is not in the context, reply \"" + FallbackAnswer + "\"\n\n" +
		"Context:\n%s\n\nQuestion: %s\nAnswer:"
)

var (
	// ErrSynthesisFailure 表示 chat completion 调用失败或返回空内容。
	ErrSynthesisFailure = errors.New("synthesis failure")
	// ErrEmptyQuestion 表示问题为空。
	ErrEmptyQuestion = errors.New("question must not be empty")
)

// Retriever 是问答流程对向量索引的依赖。
type Retriever interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Query(ctx context.Context, vector []float32, filter vectorindex.RetrievalFilter, topK int) (model.RetrievalResult, error)
}

// AnswerRequest 描述一次问答请求。Start 与 End 要么同时给出要么都为空。
type AnswerRequest struct {
	UserID   uint
	Question string
	Start    *time.Time
	End      *time.Time
	TopK     int
}

// AnswerResult 是问答的结果以及作为依据的文档。
type AnswerResult struct {
	Question     string   `json:"question"`
	Answer       string   `json:"answer"`
	SourceChunks []string `json:"source_chunks"`
}

// RAGService 定义了基于小票检索的问答接口。
type RAGService interface {
	Answer(ctx context.Context, req AnswerRequest) (*AnswerResult, error)
	History(ctx context.Context, userID uint) ([]model.QARecord, error)
}

type ragService struct {
	retriever   Retriever
	llmClient   llm.Client
	historyRepo repository.QAHistoryRepository
	timeout     time.Duration
}

// NewRAGService 创建一个新的 RAGService 实例。historyRepo 可以为 nil，此时不记录问答历史。
// timeout 大于 0 时包裹整个问答流程中的外部调用。
func NewRAGService(retriever Retriever, llmClient llm.Client, historyRepo repository.QAHistoryRepository, timeout time.Duration) RAGService {
	return &ragService{
		retriever:   retriever,
		llmClient:   llmClient,
		historyRepo: historyRepo,
		timeout:     timeout,
	}
}

// BuildPrompt 按固定模板将检索到的文档（按排名顺序、空行分隔）与问题组装为 prompt。
func BuildPrompt(question string, documents []string) string {
	return fmt.Sprintf(promptTemplate, strings.Join(documents, "\n\n"), question)
}

// Answer 执行检索增强问答。
// 检索为空时直接返回 FallbackAnswer，不调用 LLM；LLM 失败返回 ErrSynthesisFailure，不会降级为 FallbackAnswer。
func (s *ragService) Answer(ctx context.Context, req AnswerRequest) (*AnswerResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	filter := vectorindex.RetrievalFilter{UserID: req.UserID, Start: req.Start, End: req.End}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	topK := req.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	log.Infof("[RAGService] 步骤1: 向量化问题, user: %d, topK: %d", req.UserID, topK)
	vector, err := s.retriever.EmbedQuery(ctx, question)
	if err != nil {
		log.Errorf("[RAGService] 向量化问题失败: %v", err)
		return nil, err
	}

	log.Info("[RAGService] 步骤2: 过滤检索")
	result, err := s.retriever.Query(ctx, vector, filter, topK)
	if err != nil {
		log.Errorf("[RAGService] 检索失败: %v", err)
		return nil, err
	}
	if len(result.Documents) == 0 {
		log.Infof("[RAGService] 没有命中任何文档, 返回兜底回答, user: %d", req.UserID)
		out := &AnswerResult{Question: question, Answer: FallbackAnswer, SourceChunks: []string{}}
		s.record(ctx, req.UserID, out)
		return out, nil
	}

	log.Infof("[RAGService] 步骤3: 调用 LLM 生成回答, context docs: %d", len(result.Documents))
	messages := []llm.Message{{Role: "user", Content: BuildPrompt(question, result.Documents)}}
	content, err := s.llmClient.Complete(ctx, messages, &llm.GenerationParams{Temperature: llm.Float64(0)})
	if err != nil {
		log.Errorf("[RAGService] LLM 调用失败: %v", err)
		return nil, fmt.Errorf("%w: %w", ErrSynthesisFailure, err)
	}
	answer := strings.TrimSpace(content)
	if answer == "" {
		return nil, fmt.Errorf("%w: empty completion", ErrSynthesisFailure)
	}

	out := &AnswerResult{Question: question, Answer: answer, SourceChunks: result.Documents}
	s.record(ctx, req.UserID, out)
	return out, nil
}

// History 返回用户最近的问答记录。
func (s *ragService) History(ctx context.Context, userID uint) ([]model.QARecord, error) {
	if s.historyRepo == nil {
		return []model.QARecord{}, nil
	}
	return s.historyRepo.List(ctx, userID)
}

// record 保存问答历史，失败只记录日志，不影响本次回答。
func (s *ragService) record(ctx context.Context, userID uint, out *AnswerResult) {
	if s.historyRepo == nil {
		return
	}
	rec := model.QARecord{
		Question:    out.Question,
		Answer:      out.Answer,
		SourceCount: len(out.SourceChunks),
		AskedAt:     time.Now(),
	}
	// 使用独立上下文，即使请求已超时也尽量保存已生成的回答
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.historyRepo.Append(saveCtx, userID, rec); err != nil {
		log.Warnf("[RAGService] 保存问答历史失败, user: %d, error: %v", userID, err)
	}
}
