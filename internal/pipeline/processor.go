// Package pipeline 定义了小票入库的核心流程。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"receipt-rag-go/internal/extraction"
	"receipt-rag-go/internal/model"
	"receipt-rag-go/internal/repository"
	"receipt-rag-go/internal/semantic"
	"receipt-rag-go/pkg/log"
	"receipt-rag-go/pkg/storage"
	"receipt-rag-go/pkg/tasks"
)

// LineReader 从图片中读取按阅读顺序排列的文本行。
type LineReader interface {
	ReadLines(ctx context.Context, image io.Reader, fileName string) ([]string, error)
}

// Indexer 将语义文档写入向量索引。
type Indexer interface {
	Upsert(ctx context.Context, docs []model.SemanticDocument) error
}

// Processor 封装了小票处理的所有依赖和逻辑。
type Processor struct {
	objects     storage.ObjectStore
	lineReader  LineReader
	extractor   extraction.Extractor
	receiptRepo repository.ReceiptRepository
	indexer     Indexer
	statusRepo  repository.IngestionStatusRepository
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	objects storage.ObjectStore,
	lineReader LineReader,
	extractor extraction.Extractor,
	receiptRepo repository.ReceiptRepository,
	indexer Indexer,
	statusRepo repository.IngestionStatusRepository,
) *Processor {
	return &Processor{
		objects:     objects,
		lineReader:  lineReader,
		extractor:   extractor,
		receiptRepo: receiptRepo,
		indexer:     indexer,
		statusRepo:  statusRepo,
	}
}

// Process 是小票处理的主函数：下载 → OCR 行重建 → 结构化抽取 → 持久化 → 语义文档 → 向量索引。
// 没有可提取文字时任务状态为 empty 并正常返回。
func (p *Processor) Process(ctx context.Context, task tasks.ReceiptIngestionTask) error {
	log.Infof("[Processor] 开始处理小票, TaskID: %s, FileName: %s, UserID: %d", task.TaskID, task.FileName, task.UserID)

	// 重投递时若小票已保存，只重做索引，避免重复创建记录
	if receiptID := p.persistedReceipt(ctx, task.TaskID); receiptID != 0 {
		p.setStatus(ctx, task, model.TaskProcessing, receiptID, "")
		if err := p.reindex(ctx, receiptID); err != nil {
			p.setStatus(ctx, task, model.TaskFailed, receiptID, err.Error())
			return err
		}
		p.setStatus(ctx, task, model.TaskIndexed, receiptID, "")
		return nil
	}

	p.setStatus(ctx, task, model.TaskProcessing, 0, "")
	receiptID, state, err := p.process(ctx, task)
	if err != nil {
		p.setStatus(ctx, task, model.TaskFailed, receiptID, err.Error())
		return err
	}
	p.setStatus(ctx, task, state, receiptID, "")
	return nil
}

func (p *Processor) process(ctx context.Context, task tasks.ReceiptIngestionTask) (uint, model.TaskState, error) {
	// 1. 从对象存储下载图片
	log.Infof("[Processor] 步骤1: 下载图片, Object: %s", task.ObjectKey)
	object, err := p.objects.Get(ctx, task.ObjectKey)
	if err != nil {
		return 0, "", err
	}
	defer object.Close()

	buf := new(bytes.Buffer)
	size, err := buf.ReadFrom(object)
	if err != nil {
		return 0, "", fmt.Errorf("读取对象流失败: %w", err)
	}
	if size == 0 {
		log.Warnf("[Processor] 文件 '%s' 内容为空, 处理中止", task.FileName)
		return 0, "", errors.New("文件内容为空")
	}
	log.Infof("[Processor] 步骤1: 图片下载成功, 大小: %d 字节", size)

	// 2. OCR 检测并重建文本行
	lines, err := p.lineReader.ReadLines(ctx, bytes.NewReader(buf.Bytes()), task.FileName)
	if err != nil {
		return 0, "", err
	}
	if len(lines) == 0 {
		log.Warnf("[Processor] 步骤2: 图片中没有可提取的文字, TaskID: %s", task.TaskID)
		return 0, model.TaskEmpty, nil
	}
	log.Infof("[Processor] 步骤2: 重建出 %d 行文本", len(lines))

	// 3. 结构化抽取
	receipt, err := p.extractor.Extract(ctx, lines)
	if err != nil {
		return 0, "", err
	}
	receipt.UserID = task.UserID
	receipt.ImageKey = task.ObjectKey

	// 4. 持久化，之后 receipt.ID 稳定可用
	if err := p.receiptRepo.Create(ctx, receipt); err != nil {
		return 0, "", fmt.Errorf("保存小票失败: %w", err)
	}
	log.Infof("[Processor] 步骤4: 小票已保存, ReceiptID: %d, items: %d", receipt.ID, len(receipt.LineItems))

	// 5. 生成语义文档并写入索引
	docs := semantic.Build(receipt)
	if err := p.indexer.Upsert(ctx, docs); err != nil {
		return receipt.ID, "", err
	}
	log.Infof("[Processor] 小票处理成功完成, TaskID: %s, ReceiptID: %d, docs: %d", task.TaskID, receipt.ID, len(docs))
	return receipt.ID, model.TaskIndexed, nil
}

func (p *Processor) persistedReceipt(ctx context.Context, taskID string) uint {
	if p.statusRepo == nil {
		return 0
	}
	prev, err := p.statusRepo.Get(ctx, taskID)
	if err != nil {
		return 0
	}
	return prev.ReceiptID
}

func (p *Processor) reindex(ctx context.Context, receiptID uint) error {
	log.Infof("[Processor] 小票已存在, 仅重建索引, ReceiptID: %d", receiptID)
	receipt, err := p.receiptRepo.FindByID(ctx, receiptID)
	if err != nil {
		return fmt.Errorf("读取小票失败: %w", err)
	}
	return p.indexer.Upsert(ctx, semantic.Build(receipt))
}

func (p *Processor) setStatus(ctx context.Context, task tasks.ReceiptIngestionTask, state model.TaskState, receiptID uint, errMsg string) {
	if p.statusRepo == nil {
		return
	}
	status := model.IngestionStatus{
		TaskID:    task.TaskID,
		UserID:    task.UserID,
		FileName:  task.FileName,
		Status:    state,
		ReceiptID: receiptID,
		Error:     errMsg,
	}
	if err := p.statusRepo.Save(ctx, status); err != nil {
		log.Warnf("[Processor] 更新任务状态失败, TaskID: %s, status: %s, error: %v", task.TaskID, state, err)
	}
}
