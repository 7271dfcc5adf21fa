package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"receipt-rag-go/internal/model"
	"receipt-rag-go/internal/vectorindex"
	"receipt-rag-go/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRetriever struct {
	mock.Mock
}

func (m *mockRetriever) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	v, _ := args.Get(0).([]float32)
	return v, args.Error(1)
}

func (m *mockRetriever) Query(ctx context.Context, vector []float32, filter vectorindex.RetrievalFilter, topK int) (model.RetrievalResult, error) {
	args := m.Called(ctx, vector, filter, topK)
	return args.Get(0).(model.RetrievalResult), args.Error(1)
}

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Complete(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	args := m.Called(ctx, messages, gen)
	return args.String(0), args.Error(1)
}

type memHistory struct {
	mu      sync.Mutex
	records map[uint][]model.QARecord
	err     error
}

func newMemHistory() *memHistory {
	return &memHistory{records: map[uint][]model.QARecord{}}
}

func (h *memHistory) Append(_ context.Context, userID uint, rec model.QARecord) error {
	if h.err != nil {
		return h.err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[userID] = append(h.records[userID], rec)
	return nil
}

func (h *memHistory) List(_ context.Context, userID uint) ([]model.QARecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.QARecord{}, h.records[userID]...), nil
}

func (h *memHistory) Clear(_ context.Context, userID uint) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.records, userID)
	return nil
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

var queryVec = []float32{1, 0, 0}

func TestAnswer_EmptyRetrievalReturnsFallbackWithoutLLM(t *testing.T) {
	retriever := new(mockRetriever)
	chat := new(mockLLM)
	history := newMemHistory()

	retriever.On("EmbedQuery", mock.Anything, "How much on milk?").Return(queryVec, nil)
	retriever.On("Query", mock.Anything, queryVec, vectorindex.RetrievalFilter{UserID: 7}, DefaultTopK).
		Return(model.RetrievalResult{Documents: []string{}}, nil)

	svc := NewRAGService(retriever, chat, history, 0)
	out, err := svc.Answer(context.Background(), AnswerRequest{UserID: 7, Question: "  How much on milk?  "})
	require.NoError(t, err)

	assert.Equal(t, FallbackAnswer, out.Answer)
	assert.NotNil(t, out.SourceChunks)
	assert.Empty(t, out.SourceChunks)
	assert.Equal(t, "How much on milk?", out.Question)
	chat.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)

	records, _ := history.List(context.Background(), 7)
	require.Len(t, records, 1)
	assert.Equal(t, 0, records[0].SourceCount)
}

func TestAnswer_SynthesizesFromRankedDocuments(t *testing.T) {
	retriever := new(mockRetriever)
	chat := new(mockLLM)
	docs := []string{"Item name: Milk; Quantity: 2", "Store: Fresh Mart; Store Address: N/A"}
	start, end := date(2024, 3, 1), date(2024, 3, 31)

	retriever.On("EmbedQuery", mock.Anything, "milk?").Return(queryVec, nil)
	retriever.On("Query", mock.Anything, queryVec, vectorindex.RetrievalFilter{UserID: 3, Start: start, End: end}, 5).
		Return(model.RetrievalResult{Documents: docs}, nil)
	chat.On("Complete", mock.Anything,
		mock.MatchedBy(func(msgs []llm.Message) bool {
			if len(msgs) != 1 || msgs[0].Role != "user" {
				return false
			}
			p := msgs[0].Content
			return strings.Contains(p, docs[0]+"\n\n"+docs[1]) &&
				strings.Contains(p, "Question: milk?\nAnswer:") &&
				strings.Contains(p, `reply "I don't know."`)
		}),
		mock.MatchedBy(func(gen *llm.GenerationParams) bool {
			return gen != nil && gen.Temperature != nil && *gen.Temperature == 0
		}),
	).Return("  You bought 2 milk.\n", nil)

	svc := NewRAGService(retriever, chat, nil, time.Second)
	out, err := svc.Answer(context.Background(), AnswerRequest{UserID: 3, Question: "milk?", Start: start, End: end, TopK: 5})
	require.NoError(t, err)

	assert.Equal(t, "You bought 2 milk.", out.Answer)
	assert.Equal(t, docs, out.SourceChunks)
	retriever.AssertExpectations(t)
	chat.AssertExpectations(t)
}

func TestAnswer_SingleSidedRangeRejectedBeforeEmbedding(t *testing.T) {
	retriever := new(mockRetriever)
	chat := new(mockLLM)

	svc := NewRAGService(retriever, chat, nil, 0)
	_, err := svc.Answer(context.Background(), AnswerRequest{UserID: 1, Question: "q", Start: date(2024, 1, 1)})
	require.ErrorIs(t, err, vectorindex.ErrInvalidDateRange)
	retriever.AssertNotCalled(t, "EmbedQuery", mock.Anything, mock.Anything)
}

func TestAnswer_EmptyQuestion(t *testing.T) {
	svc := NewRAGService(new(mockRetriever), new(mockLLM), nil, 0)
	_, err := svc.Answer(context.Background(), AnswerRequest{UserID: 1, Question: "   "})
	require.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestAnswer_LLMFailureIsNotFallback(t *testing.T) {
	retriever := new(mockRetriever)
	chat := new(mockLLM)
	history := newMemHistory()

	retriever.On("EmbedQuery", mock.Anything, mock.Anything).Return(queryVec, nil)
	retriever.On("Query", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(model.RetrievalResult{Documents: []string{"doc"}}, nil)
	chat.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("upstream 500"))

	svc := NewRAGService(retriever, chat, history, 0)
	out, err := svc.Answer(context.Background(), AnswerRequest{UserID: 1, Question: "q"})
	require.ErrorIs(t, err, ErrSynthesisFailure)
	assert.Nil(t, out)

	records, _ := history.List(context.Background(), 1)
	assert.Empty(t, records)
}

func TestAnswer_BlankCompletionIsSynthesisFailure(t *testing.T) {
	retriever := new(mockRetriever)
	chat := new(mockLLM)

	retriever.On("EmbedQuery", mock.Anything, mock.Anything).Return(queryVec, nil)
	retriever.On("Query", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(model.RetrievalResult{Documents: []string{"doc"}}, nil)
	chat.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(" \n\t", nil)

	svc := NewRAGService(retriever, chat, nil, 0)
	_, err := svc.Answer(context.Background(), AnswerRequest{UserID: 1, Question: "q"})
	require.ErrorIs(t, err, ErrSynthesisFailure)
}

func TestAnswer_RetrievalErrorsPropagate(t *testing.T) {
	retriever := new(mockRetriever)
	retriever.On("EmbedQuery", mock.Anything, mock.Anything).Return(nil, vectorindex.ErrEmbeddingFailure)

	svc := NewRAGService(retriever, new(mockLLM), nil, 0)
	_, err := svc.Answer(context.Background(), AnswerRequest{UserID: 1, Question: "q"})
	require.ErrorIs(t, err, vectorindex.ErrEmbeddingFailure)
}

func TestAnswer_HistoryFailureDoesNotFailAnswer(t *testing.T) {
	retriever := new(mockRetriever)
	chat := new(mockLLM)
	history := newMemHistory()
	history.err = errors.New("redis down")

	retriever.On("EmbedQuery", mock.Anything, mock.Anything).Return(queryVec, nil)
	retriever.On("Query", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(model.RetrievalResult{Documents: []string{"doc"}}, nil)
	chat.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("42", nil)

	svc := NewRAGService(retriever, chat, history, 0)
	out, err := svc.Answer(context.Background(), AnswerRequest{UserID: 1, Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, "42", out.Answer)
}

func TestHistory_NilRepositoryIsEmpty(t *testing.T) {
	svc := NewRAGService(new(mockRetriever), new(mockLLM), nil, 0)
	records, err := svc.History(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("Total?", []string{"a", "b"})
	assert.Equal(t, "Use the following receipt context to answer the question. "+
		"If the answer is not in the context, reply \"I don't know.\"\n\n"+
		"Context:\na\n\nb\n\nQuestion: Total?\nAnswer:", p)
}
