// Package reconstruct 将无序的 OCR token 还原为按阅读顺序排列的文本行。
package reconstruct

import (
	"context"
	"fmt"
	"io"
	"receipt-rag-go/pkg/log"
	"receipt-rag-go/pkg/ocr"
	"sort"
	"strings"
)

const (
	// ConfidenceThreshold 以下的 token 视为噪声直接丢弃。
	ConfidenceThreshold = 0.3
	// LineGapThreshold 是同一行内相邻 token 的最大纵向间距，单位与检测器坐标一致。
	LineGapThreshold = 15.0
)

// Line 是还原出的一行文本。
type Line struct {
	Text string
}

type anchored struct {
	minY float64
	minX float64
	text string
}

// Reconstruct 假设单栏、未旋转的文档，按从上到下、从左到右的顺序把 token 分组为行。
//
// 分行比较的基准是「最近加入当前行的 token」的 min_y，而不是行首 token：
// 一个纵向缓慢漂移的段落会被持续并入同一行。为兼容既有数据保留该行为。
func Reconstruct(tokens []ocr.Token) []Line {
	kept := make([]anchored, 0, len(tokens))
	for i, tok := range tokens {
		if tok.Confidence < ConfidenceThreshold {
			continue
		}
		text := strings.TrimSpace(tok.Text)
		if text == "" {
			continue
		}
		if err := tok.Validate(); err != nil {
			// 单个坏 token 只丢弃，不影响整张图片
			log.Warnw("[Reconstruct] 丢弃几何信息不合法的 token", "index", i, "error", err)
			continue
		}
		minY, minX := tok.Anchor()
		kept = append(kept, anchored{minY: minY, minX: minX, text: text})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].minY != kept[j].minY {
			return kept[i].minY < kept[j].minY
		}
		return kept[i].minX < kept[j].minX
	})

	var (
		lines    []Line
		buf      []string
		currentY float64
		hasLine  bool
	)
	for _, tok := range kept {
		if hasLine && tok.minY-currentY > LineGapThreshold {
			lines = append(lines, Line{Text: strings.Join(buf, " ")})
			buf = buf[:0]
		}
		buf = append(buf, tok.text)
		currentY = tok.minY
		hasLine = true
	}
	if len(buf) > 0 {
		lines = append(lines, Line{Text: strings.Join(buf, " ")})
	}
	return lines
}

// Texts 提取每行的文本。
func Texts(lines []Line) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text
	}
	return out
}

// LineReader 组合 OCR 检测器与行重建，检测器的生命周期由调用方管理。
type LineReader struct {
	detector ocr.Detector
}

// NewLineReader 创建一个新的 LineReader 实例。
func NewLineReader(detector ocr.Detector) *LineReader {
	return &LineReader{detector: detector}
}

// ReadLines 检测图片中的文字并返回按阅读顺序排列的行。
// 返回空切片表示「没有可提取的文字」，不是错误。
func (r *LineReader) ReadLines(ctx context.Context, image io.Reader, fileName string) ([]string, error) {
	tokens, err := r.detector.Detect(ctx, image, fileName)
	if err != nil {
		return nil, fmt.Errorf("OCR 检测失败: %w", err)
	}
	lines := Texts(Reconstruct(tokens))
	log.Infof("[LineReader] 检测到 %d 个 token, 重建为 %d 行, file: %s", len(tokens), len(lines), fileName)
	return lines, nil
}
