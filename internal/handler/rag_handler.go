package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"receipt-rag-go/internal/middleware"
	"receipt-rag-go/internal/model"
	"receipt-rag-go/internal/service"
	"receipt-rag-go/internal/vectorindex"
	"receipt-rag-go/pkg/log"
	"receipt-rag-go/pkg/token"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// MaxTopK 是单次问答允许的最大检索条数。
const MaxTopK = 50

// ErrInvalidTopK 表示请求的 top_k 超出 1..MaxTopK。
var ErrInvalidTopK = errors.New("top_k out of range")

// RAGHandler 负责基于小票的问答请求。
type RAGHandler struct {
	ragService  service.RAGService
	userService service.UserService
	jwtManager  *token.JWTManager
	limiter     *middleware.UserRateLimiter
	topK        int
}

// NewRAGHandler 创建一个新的 RAGHandler。topK 为请求未指定时的默认检索条数。
// limiter 用于 WebSocket 上的逐条限流，HTTP 路由由 RateLimitMiddleware 负责；为 nil 时不限流。
func NewRAGHandler(ragService service.RAGService, userService service.UserService, jwtManager *token.JWTManager, limiter *middleware.UserRateLimiter, topK int) *RAGHandler {
	if topK < 1 || topK > MaxTopK {
		topK = service.DefaultTopK
	}
	return &RAGHandler{
		ragService:  ragService,
		userService: userService,
		jwtManager:  jwtManager,
		limiter:     limiter,
		topK:        topK,
	}
}

// AskRequest 定义了问答 API 的请求体结构。日期格式为 YYYY-MM-DD，且必须同时给出。
type AskRequest struct {
	Question  string `json:"question" binding:"required"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	TopK      int    `json:"top_k"`
}

// toAnswerRequest 解析日期并组装服务层请求。
func (h *RAGHandler) toAnswerRequest(userID uint, req AskRequest) (service.AnswerRequest, error) {
	out := service.AnswerRequest{UserID: userID, Question: req.Question, TopK: req.TopK}
	if out.TopK == 0 {
		out.TopK = h.topK
	}
	if out.TopK < 1 || out.TopK > MaxTopK {
		return out, ErrInvalidTopK
	}
	if req.StartDate != "" {
		start, err := model.ParseDateISO(req.StartDate)
		if err != nil {
			return out, vectorindex.ErrInvalidDateRange
		}
		out.Start = &start
	}
	if req.EndDate != "" {
		end, err := model.ParseDateISO(req.EndDate)
		if err != nil {
			return out, vectorindex.ErrInvalidDateRange
		}
		out.End = &end
	}
	return out, nil
}

// answerStatus 将问答错误映射为 HTTP 状态码与提示信息。
func answerStatus(err error) (int, string) {
	switch {
	case errors.Is(err, vectorindex.ErrInvalidDateRange):
		return http.StatusBadRequest, "日期范围无效：start_date 与 end_date 需同时给出，格式为 YYYY-MM-DD，且开始不晚于结束"
	case errors.Is(err, service.ErrEmptyQuestion):
		return http.StatusBadRequest, "问题不能为空"
	case errors.Is(err, ErrInvalidTopK):
		return http.StatusBadRequest, "top_k 必须在 1 到 50 之间"
	case errors.Is(err, service.ErrSynthesisFailure), errors.Is(err, vectorindex.ErrEmbeddingFailure):
		return http.StatusBadGateway, "AI 服务暂时不可用，请稍后重试"
	case errors.Is(err, vectorindex.ErrIndexFailure):
		return http.StatusServiceUnavailable, "检索服务暂时不可用，请稍后重试"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "请求超时"
	default:
		return http.StatusInternalServerError, "服务器内部错误"
	}
}

// Ask 处理一次问答请求。
func (h *RAGHandler) Ask(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证用户", "data": nil})
		return
	}

	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}
	answerReq, err := h.toAnswerRequest(user.ID, req)
	if err == nil {
		var result *service.AnswerResult
		result, err = h.ragService.Answer(c.Request.Context(), answerReq)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": result})
			return
		}
	}

	status, message := answerStatus(err)
	log.Warnf("Ask: failed for user %d, status: %d, error: %v", user.ID, status, err)
	c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
}

// History 返回当前用户最近的问答记录。
func (h *RAGHandler) History(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证用户", "data": nil})
		return
	}
	records, err := h.ragService.History(c.Request.Context(), user.ID)
	if err != nil {
		log.Errorf("History: error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取问答历史失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": records})
}

// wsMessage 是 WebSocket 上发送给客户端的消息。
type wsMessage struct {
	Type      string                `json:"type"`
	Data      *service.AnswerResult `json:"data,omitempty"`
	Code      int                   `json:"code,omitempty"`
	Message   string                `json:"message,omitempty"`
	Timestamp int64                 `json:"timestamp"`
}

// HandleWS 处理一个传入的 WebSocket 连接。每条消息是 AskRequest JSON 或纯文本问题。
func (h *RAGHandler) HandleWS(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyAccessToken(tokenString)
	if err != nil || h.userService.IsTokenRevoked(c.Request.Context(), tokenString) {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}
	user, err := h.userService.GetProfile(claims.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "用户不存在", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", user.Email)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			return
		}

		var req AskRequest
		if text := strings.TrimSpace(string(message)); strings.HasPrefix(text, "{") {
			if err := json.Unmarshal(message, &req); err != nil {
				h.writeWS(conn, wsMessage{Type: "error", Code: http.StatusBadRequest, Message: "无效的消息格式"})
				continue
			}
		} else {
			req.Question = text
		}

		if h.limiter != nil && !h.limiter.Allow(user.ID) {
			h.writeWS(conn, wsMessage{Type: "error", Code: http.StatusTooManyRequests, Message: "请求过于频繁，请稍后再试"})
			continue
		}

		answerReq, err := h.toAnswerRequest(user.ID, req)
		var result *service.AnswerResult
		if err == nil {
			result, err = h.ragService.Answer(c.Request.Context(), answerReq)
		}
		if err != nil {
			status, msg := answerStatus(err)
			log.Warnf("WebSocket 问答失败, user: %d, error: %v", user.ID, err)
			h.writeWS(conn, wsMessage{Type: "error", Code: status, Message: msg})
			continue
		}
		h.writeWS(conn, wsMessage{Type: "answer", Data: result})
	}
}

func (h *RAGHandler) writeWS(conn *websocket.Conn, msg wsMessage) {
	msg.Timestamp = time.Now().UnixMilli()
	if err := conn.WriteJSON(msg); err != nil {
		log.Warnf("写入 WebSocket 消息失败: %v", err)
	}
}
