package handler

import (
	"errors"
	"net/http"
	"receipt-rag-go/internal/repository"
	"receipt-rag-go/internal/service"
	"receipt-rag-go/pkg/log"
	"strconv"

	"github.com/gin-gonic/gin"
)

// MaxReceiptImageSize 是单张小票图片的大小上限。
const MaxReceiptImageSize = 10 << 20

// ReceiptHandler 负责小票上传、任务状态与小票查询。
type ReceiptHandler struct {
	receiptService service.ReceiptService
}

// NewReceiptHandler 创建一个新的 ReceiptHandler 实例。
func NewReceiptHandler(receiptService service.ReceiptService) *ReceiptHandler {
	return &ReceiptHandler{receiptService: receiptService}
}

// Upload 接收 multipart 表单中的 file 字段，返回异步任务。
func (h *ReceiptHandler) Upload(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证用户", "data": nil})
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少文件字段 file", "data": nil})
		return
	}
	if header.Size == 0 || header.Size > MaxReceiptImageSize {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "文件为空或超过 10MB", "data": nil})
		return
	}

	file, err := header.Open()
	if err != nil {
		log.Error("Upload: failed to open multipart file", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "读取上传文件失败", "data": nil})
		return
	}
	defer file.Close()

	status, err := h.receiptService.Upload(c.Request.Context(), user.ID, header.Filename, file, header.Size)
	if err != nil {
		if errors.Is(err, service.ErrUnsupportedImage) {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "仅支持 jpg/jpeg/png/tiff 图片", "data": nil})
			return
		}
		log.Errorf("Upload: failed for user %d, error: %v", user.ID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "上传失败，请稍后重试", "data": nil})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "queued", "data": status})
}

// TaskStatus 查询入库任务状态。
func (h *ReceiptHandler) TaskStatus(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证用户", "data": nil})
		return
	}
	status, err := h.receiptService.Status(c.Request.Context(), user.ID, c.Param("taskId"))
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "任务不存在", "data": nil})
			return
		}
		log.Errorf("TaskStatus: error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询任务失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": status})
}

// List 分页列出当前用户的小票。
func (h *ReceiptHandler) List(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证用户", "data": nil})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	receipts, total, err := h.receiptService.List(c.Request.Context(), user.ID, page, size)
	if err != nil {
		log.Errorf("ListReceipts: error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询小票失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{
		"content":       receipts,
		"totalElements": total,
	}})
}

// Get 返回单张小票及其商品行。
func (h *ReceiptHandler) Get(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证用户", "data": nil})
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的小票 ID", "data": nil})
		return
	}
	receipt, err := h.receiptService.Get(c.Request.Context(), user.ID, uint(id))
	if err != nil {
		if errors.Is(err, service.ErrReceiptNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "小票不存在", "data": nil})
			return
		}
		log.Errorf("GetReceipt: error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询小票失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": receipt})
}

// Image 返回小票原图的预签名下载链接。
func (h *ReceiptHandler) Image(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证用户", "data": nil})
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的小票 ID", "data": nil})
		return
	}
	url, err := h.receiptService.ImageURL(c.Request.Context(), user.ID, uint(id))
	if err != nil {
		if errors.Is(err, service.ErrReceiptNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "小票图片不存在", "data": nil})
			return
		}
		log.Errorf("ReceiptImage: error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "生成下载链接失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"url": url}})
}
