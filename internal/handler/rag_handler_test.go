package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"receipt-rag-go/internal/middleware"
	"receipt-rag-go/internal/model"
	"receipt-rag-go/internal/service"
	"receipt-rag-go/internal/vectorindex"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRAG struct {
	req    service.AnswerRequest
	result *service.AnswerResult
	err    error
}

func (f *fakeRAG) Answer(_ context.Context, req service.AnswerRequest) (*service.AnswerResult, error) {
	f.req = req
	return f.result, f.err
}

func (f *fakeRAG) History(context.Context, uint) ([]model.QARecord, error) {
	return []model.QARecord{{Question: "q", Answer: "a"}}, nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func withUser(user *model.User) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user", user)
		c.Next()
	}
}

func askRouter(rag service.RAGService) *gin.Engine {
	h := NewRAGHandler(rag, nil, nil, nil, 7)
	r := gin.New()
	r.POST("/question", withUser(&model.User{ID: 5}), h.Ask)
	r.GET("/history", withUser(&model.User{ID: 5}), h.History)
	return r
}

func postJSON(r http.Handler, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestAsk_PassesDatesAndDefaultTopK(t *testing.T) {
	rag := &fakeRAG{result: &service.AnswerResult{Question: "q", Answer: "a", SourceChunks: []string{"d"}}}
	w := postJSON(askRouter(rag), "/question", `{"question":"q","start_date":"2024-03-01","end_date":"2024-03-31"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint(5), rag.req.UserID)
	assert.Equal(t, 7, rag.req.TopK)
	require.NotNil(t, rag.req.Start)
	require.NotNil(t, rag.req.End)
	assert.Equal(t, "2024-03-01", model.DateISO(*rag.req.Start))
	assert.Equal(t, "2024-03-31", model.DateISO(*rag.req.End))

	var body struct {
		Code int                  `json:"code"`
		Data service.AnswerResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "a", body.Data.Answer)
	assert.Equal(t, []string{"d"}, body.Data.SourceChunks)
}

func TestAsk_BadDateIsBadRequest(t *testing.T) {
	rag := &fakeRAG{}
	w := postJSON(askRouter(rag), "/question", `{"question":"q","start_date":"03/01/2024","end_date":"2024-03-31"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAsk_MissingQuestionIsBadRequest(t *testing.T) {
	w := postJSON(askRouter(&fakeRAG{}), "/question", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAsk_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{vectorindex.ErrInvalidDateRange, http.StatusBadRequest},
		{service.ErrEmptyQuestion, http.StatusBadRequest},
		{fmt.Errorf("%w: boom", service.ErrSynthesisFailure), http.StatusBadGateway},
		{fmt.Errorf("%w: boom", vectorindex.ErrEmbeddingFailure), http.StatusBadGateway},
		{fmt.Errorf("%w: boom", vectorindex.ErrIndexFailure), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			w := postJSON(askRouter(&fakeRAG{err: tc.err}), "/question", `{"question":"q"}`)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestHistory(t *testing.T) {
	w := httptest.NewRecorder()
	askRouter(&fakeRAG{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/history", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"question":"q"`)
}

func TestAsk_TopKOutOfRange(t *testing.T) {
	for _, body := range []string{`{"question":"q","top_k":51}`, `{"question":"q","top_k":-1}`} {
		rag := &fakeRAG{}
		w := postJSON(askRouter(rag), "/question", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Empty(t, rag.req.Question, body)
	}
}

func TestAsk_TopKWithinRange(t *testing.T) {
	rag := &fakeRAG{result: &service.AnswerResult{Answer: "a"}}
	w := postJSON(askRouter(rag), "/question", `{"question":"q","top_k":50}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 50, rag.req.TopK)
}

// dialAsk 启动一个只挂载 /ws/:token 的服务并以 f 中的用户身份建立连接。
func dialAsk(t *testing.T, rag service.RAGService, limiter *middleware.UserRateLimiter) *websocket.Conn {
	t.Helper()
	f := newUserFixture(t)
	h := NewRAGHandler(rag, f.users, f.jwtManager, limiter, 7)
	r := gin.New()
	r.GET("/ws/:token", h.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + f.accessToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func askWS(t *testing.T, conn *websocket.Conn, frame string) wsMessage {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHandleWS_AnswersPlainTextAndJSON(t *testing.T) {
	rag := &fakeRAG{result: &service.AnswerResult{Question: "q", Answer: "a"}}
	conn := dialAsk(t, rag, nil)

	msg := askWS(t, conn, "how much on milk?")
	assert.Equal(t, "answer", msg.Type)
	require.NotNil(t, msg.Data)
	assert.Equal(t, "a", msg.Data.Answer)

	msg = askWS(t, conn, `{"question":"q","top_k":3}`)
	assert.Equal(t, "answer", msg.Type)
}

func TestHandleWS_RejectsTopKOutOfRange(t *testing.T) {
	rag := &fakeRAG{result: &service.AnswerResult{Answer: "a"}}
	conn := dialAsk(t, rag, nil)

	msg := askWS(t, conn, `{"question":"q","top_k":100000}`)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, http.StatusBadRequest, msg.Code)
}

func TestHandleWS_RateLimitedPerUser(t *testing.T) {
	rag := &fakeRAG{result: &service.AnswerResult{Answer: "a"}}
	conn := dialAsk(t, rag, middleware.NewUserRateLimiter(0.001, 1))

	assert.Equal(t, "answer", askWS(t, conn, "first").Type)

	msg := askWS(t, conn, "second")
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, http.StatusTooManyRequests, msg.Code)
}

func TestHandleWS_RefreshTokenCannotConnect(t *testing.T) {
	f := newUserFixture(t)
	h := NewRAGHandler(&fakeRAG{}, f.users, f.jwtManager, nil, 7)
	r := gin.New()
	r.GET("/ws/:token", h.HandleWS)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws/"+f.refreshToken, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
