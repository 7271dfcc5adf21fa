package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"receipt-rag-go/internal/model"
	"receipt-rag-go/internal/repository"
	"receipt-rag-go/pkg/kafka"
	"receipt-rag-go/pkg/log"
	"receipt-rag-go/pkg/storage"
	"receipt-rag-go/pkg/tasks"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrUnsupportedImage 表示上传的文件不是支持的图片格式。
	ErrUnsupportedImage = errors.New("unsupported image type")
	// ErrReceiptNotFound 表示小票不存在或不属于当前用户。
	ErrReceiptNotFound = errors.New("receipt not found")
)

// imageContentTypes 是允许上传的图片扩展名及其 Content-Type。
var imageContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// ImageContentType 返回扩展名对应的 Content-Type，不支持的扩展名返回 false。
func ImageContentType(ext string) (string, bool) {
	ct, ok := imageContentTypes[strings.ToLower(ext)]
	return ct, ok
}

// ReceiptService 定义了小票上传与查询的业务操作。
type ReceiptService interface {
	Upload(ctx context.Context, userID uint, fileName string, r io.Reader, size int64) (*model.IngestionStatus, error)
	Status(ctx context.Context, userID uint, taskID string) (*model.IngestionStatus, error)
	List(ctx context.Context, userID uint, page, size int) ([]model.Receipt, int64, error)
	Get(ctx context.Context, userID, receiptID uint) (*model.Receipt, error)
	ImageURL(ctx context.Context, userID, receiptID uint) (string, error)
}

// imageURLExpiry 是小票图片预签名链接的有效期。
const imageURLExpiry = 15 * time.Minute

type receiptService struct {
	objects     storage.ObjectStore
	producer    kafka.Producer
	statusRepo  repository.IngestionStatusRepository
	receiptRepo repository.ReceiptRepository
}

// NewReceiptService 创建一个新的 ReceiptService 实例。
func NewReceiptService(
	objects storage.ObjectStore,
	producer kafka.Producer,
	statusRepo repository.IngestionStatusRepository,
	receiptRepo repository.ReceiptRepository,
) ReceiptService {
	return &receiptService{
		objects:     objects,
		producer:    producer,
		statusRepo:  statusRepo,
		receiptRepo: receiptRepo,
	}
}

// ObjectKey 返回小票图片在对象存储中的路径。
func ObjectKey(userID uint, taskID, ext string) string {
	return fmt.Sprintf("receipts/%d/%s%s", userID, taskID, ext)
}

// Upload 保存图片并投递异步入库任务，返回处于 queued 状态的任务。
func (s *receiptService) Upload(ctx context.Context, userID uint, fileName string, r io.Reader, size int64) (*model.IngestionStatus, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	contentType, ok := ImageContentType(ext)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedImage, ext)
	}

	taskID := uuid.NewString()
	objectKey := ObjectKey(userID, taskID, ext)

	// 1. 上传图片到对象存储
	log.Infof("[ReceiptService] 步骤1: 上传图片, user: %d, file: %s, object: %s", userID, fileName, objectKey)
	if err := s.objects.Put(ctx, objectKey, r, size, contentType); err != nil {
		return nil, err
	}

	// 2. 记录任务状态
	status := model.IngestionStatus{
		TaskID:   taskID,
		UserID:   userID,
		FileName: fileName,
		Status:   model.TaskQueued,
	}
	if err := s.statusRepo.Save(ctx, status); err != nil {
		return nil, err
	}

	// 3. 投递 Kafka 任务
	task := tasks.ReceiptIngestionTask{
		TaskID:    taskID,
		ObjectKey: objectKey,
		FileName:  fileName,
		UserID:    userID,
	}
	if err := s.producer.ProduceReceiptTask(ctx, task); err != nil {
		log.Errorf("[ReceiptService] 投递入库任务失败, TaskID: %s, error: %v", taskID, err)
		status.Status = model.TaskFailed
		status.Error = "enqueue failed"
		_ = s.statusRepo.Save(context.WithoutCancel(ctx), status)
		return nil, fmt.Errorf("投递入库任务失败: %w", err)
	}
	log.Infof("[ReceiptService] 步骤3: 入库任务已投递, TaskID: %s", taskID)
	return &status, nil
}

// Status 返回任务状态，只有任务所有者可见。
func (s *receiptService) Status(ctx context.Context, userID uint, taskID string) (*model.IngestionStatus, error) {
	status, err := s.statusRepo.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if status.UserID != userID {
		return nil, repository.ErrTaskNotFound
	}
	return status, nil
}

// List 分页列出用户的小票，page 从 1 开始。
func (s *receiptService) List(ctx context.Context, userID uint, page, size int) ([]model.Receipt, int64, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return s.receiptRepo.FindByUser(ctx, userID, (page-1)*size, size)
}

// Get 返回小票详情，不属于该用户时视为不存在。
func (s *receiptService) Get(ctx context.Context, userID, receiptID uint) (*model.Receipt, error) {
	receipt, err := s.receiptRepo.FindByID(ctx, receiptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReceiptNotFound
		}
		return nil, err
	}
	if receipt.UserID != userID {
		return nil, ErrReceiptNotFound
	}
	return receipt, nil
}

// ImageURL 返回小票原图的临时下载链接。
func (s *receiptService) ImageURL(ctx context.Context, userID, receiptID uint) (string, error) {
	receipt, err := s.Get(ctx, userID, receiptID)
	if err != nil {
		return "", err
	}
	if receipt.ImageKey == "" {
		return "", ErrReceiptNotFound
	}
	return s.objects.PresignedURL(ctx, receipt.ImageKey, imageURLExpiry)
}
