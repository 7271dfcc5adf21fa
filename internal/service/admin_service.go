package service

import (
	"context"
	"errors"
	"fmt"
	"receipt-rag-go/internal/model"
	"receipt-rag-go/internal/repository"
	"receipt-rag-go/internal/semantic"
	"receipt-rag-go/pkg/log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// UserListResponse 定义了用户列表 API 的响应结构。
type UserListResponse struct {
	Content       []UserDetailResponse `json:"content"`
	TotalElements int64                `json:"totalElements"`
	TotalPages    int                  `json:"totalPages"`
	Size          int                  `json:"size"`
	Number        int                  `json:"number"`
}

// UserDetailResponse 定义了用户列表项的详细结构。
type UserDetailResponse struct {
	UserID    uint      `json:"userId"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// VectorIndex 是维护操作对向量索引的依赖。
type VectorIndex interface {
	Upsert(ctx context.Context, docs []model.SemanticDocument) error
	DeleteByUser(ctx context.Context, userID uint) error
	DeleteAll(ctx context.Context) error
}

// ReindexReport 汇总一次重建索引的结果。
type ReindexReport struct {
	Receipts  int `json:"receipts"`
	Documents int `json:"documents"`
}

// PurgeReport 汇总一次清理的结果。
type PurgeReport struct {
	Receipts int64 `json:"receipts"`
}

// AdminService 接口定义了所有管理员相关的业务操作。
type AdminService interface {
	// User Management
	ListUsers(page, size int) (*UserListResponse, error)
	UserHistory(ctx context.Context, userID uint) ([]model.QARecord, error)

	// Index Maintenance
	// Reindex 从关系库重新生成语义文档并写入索引；userID 非 nil 时只处理该用户。
	Reindex(ctx context.Context, userID *uint) (*ReindexReport, error)
	PurgeUser(ctx context.Context, userID uint) (*PurgeReport, error)
	PurgeAll(ctx context.Context) error
}

// adminService 是 AdminService 接口的实现。
type adminService struct {
	userRepo    repository.UserRepository
	receiptRepo repository.ReceiptRepository
	historyRepo repository.QAHistoryRepository
	index       VectorIndex
	workers     int
}

// NewAdminService 创建一个新的 AdminService 实例。historyRepo 可以为 nil。
func NewAdminService(
	userRepo repository.UserRepository,
	receiptRepo repository.ReceiptRepository,
	historyRepo repository.QAHistoryRepository,
	index VectorIndex,
	workers int,
) AdminService {
	if workers < 1 {
		workers = 1
	}
	return &adminService{
		userRepo:    userRepo,
		receiptRepo: receiptRepo,
		historyRepo: historyRepo,
		index:       index,
		workers:     workers,
	}
}

// ListUsers 以分页的形式返回用户列表
func (s *adminService) ListUsers(page, size int) (*UserListResponse, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	users, total, err := s.userRepo.FindWithPagination((page-1)*size, size)
	if err != nil {
		return nil, err
	}

	userResponses := make([]UserDetailResponse, 0, len(users))
	for _, u := range users {
		userResponses = append(userResponses, UserDetailResponse{
			UserID:    u.ID,
			Email:     u.Email,
			Name:      u.Name,
			Role:      u.Role,
			CreatedAt: u.CreatedAt,
		})
	}

	totalPages := 0
	if total > 0 {
		totalPages = (int(total) + size - 1) / size
	}

	return &UserListResponse{
		Content:       userResponses,
		TotalElements: total,
		TotalPages:    totalPages,
		Size:          size,
		Number:        page,
	}, nil
}

// UserHistory 返回指定用户的问答历史。
func (s *adminService) UserHistory(ctx context.Context, userID uint) ([]model.QARecord, error) {
	if _, err := s.userRepo.FindByID(userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if s.historyRepo == nil {
		return []model.QARecord{}, nil
	}
	return s.historyRepo.List(ctx, userID)
}

func (s *adminService) Reindex(ctx context.Context, userID *uint) (*ReindexReport, error) {
	ids, err := s.receiptRepo.FindIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("查询小票 ID 失败: %w", err)
	}
	log.Infof("[AdminService] 开始重建索引, receipts: %d, workers: %d", len(ids), s.workers)

	var docs atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			receipt, err := s.receiptRepo.FindByID(gctx, id)
			if err != nil {
				return fmt.Errorf("读取小票 %d 失败: %w", id, err)
			}
			built := semantic.Build(receipt)
			if err := s.index.Upsert(gctx, built); err != nil {
				return fmt.Errorf("索引小票 %d 失败: %w", id, err)
			}
			docs.Add(int64(len(built)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Errorf("[AdminService] 重建索引失败: %v", err)
		return nil, err
	}

	report := &ReindexReport{Receipts: len(ids), Documents: int(docs.Load())}
	log.Infof("[AdminService] 重建索引完成, receipts: %d, docs: %d", report.Receipts, report.Documents)
	return report, nil
}

// PurgeUser 删除用户的全部小票、索引文档和问答历史。索引先于关系库删除。
func (s *adminService) PurgeUser(ctx context.Context, userID uint) (*PurgeReport, error) {
	if err := s.index.DeleteByUser(ctx, userID); err != nil {
		return nil, err
	}
	n, err := s.receiptRepo.DeleteByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("删除用户小票失败: %w", err)
	}
	if s.historyRepo != nil {
		if err := s.historyRepo.Clear(ctx, userID); err != nil {
			log.Warnf("[AdminService] 清理问答历史失败, user: %d, error: %v", userID, err)
		}
	}
	log.Infof("[AdminService] 已清理用户数据, user: %d, receipts: %d", userID, n)
	return &PurgeReport{Receipts: n}, nil
}

func (s *adminService) PurgeAll(ctx context.Context) error {
	if err := s.index.DeleteAll(ctx); err != nil {
		return err
	}
	if err := s.receiptRepo.Truncate(ctx); err != nil {
		return fmt.Errorf("清空小票表失败: %w", err)
	}
	log.Info("[AdminService] 已清空全部小票与索引")
	return nil
}
