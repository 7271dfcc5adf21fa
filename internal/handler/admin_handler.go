package handler

import (
	"errors"
	"net/http"
	"receipt-rag-go/internal/service"
	"receipt-rag-go/pkg/log"
	"strconv"

	"github.com/gin-gonic/gin"
)

// AdminHandler 负责处理所有与管理员相关的 API 请求。
type AdminHandler struct {
	adminService service.AdminService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

func parseUserID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("userId"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的用户 ID", "data": nil})
		return 0, false
	}
	return uint(id), true
}

// ListUsers 处理分页获取用户列表的请求。
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	users, err := h.adminService.ListUsers(page, size)
	if err != nil {
		log.Error("ListUsers: Failed to list users", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取用户列表失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "Get users successful", "data": users})
}

// UserHistory 返回指定用户的问答历史。
func (h *AdminHandler) UserHistory(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	records, err := h.adminService.UserHistory(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "用户不存在", "data": nil})
			return
		}
		log.Errorf("UserHistory: error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取问答历史失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": records})
}

// Reindex 重建索引；带 user_id 查询参数时只处理该用户。
func (h *AdminHandler) Reindex(c *gin.Context) {
	var userID *uint
	if raw := c.Query("user_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的用户 ID", "data": nil})
			return
		}
		uid := uint(id)
		userID = &uid
	}

	report, err := h.adminService.Reindex(c.Request.Context(), userID)
	if err != nil {
		log.Errorf("Reindex: error: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "重建索引失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": report})
}

// PurgeUser 删除指定用户的全部小票数据与索引。
func (h *AdminHandler) PurgeUser(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	report, err := h.adminService.PurgeUser(c.Request.Context(), userID)
	if err != nil {
		log.Errorf("PurgeUser: error: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "清理用户数据失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": report})
}
