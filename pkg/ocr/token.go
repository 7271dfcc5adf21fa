package ocr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// MinPolygonPoints 是一个有效边界多边形至少需要的顶点数。
const MinPolygonPoints = 4

// ErrGeometryInputInvalid 表示检测结果的几何信息不合法。
var ErrGeometryInputInvalid = errors.New("geometry input invalid")

// Point 是检测器坐标系中的一个顶点。
type Point struct {
	X float64
	Y float64
}

// Token 是 OCR 检测器输出的一个文本片段。
type Token struct {
	Polygon    []Point
	Text       string
	Confidence float64
}

// Validate 检查多边形顶点数量及坐标是否合法。
func (t Token) Validate() error {
	if len(t.Polygon) < MinPolygonPoints {
		return fmt.Errorf("%w: polygon has %d points, need at least %d", ErrGeometryInputInvalid, len(t.Polygon), MinPolygonPoints)
	}
	for _, p := range t.Polygon {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return fmt.Errorf("%w: non-finite coordinate", ErrGeometryInputInvalid)
		}
	}
	return nil
}

// Anchor 返回多边形的 (min_y, min_x)，即包围盒左上角。调用前需保证 Validate 通过。
func (t Token) Anchor() (minY, minX float64) {
	minY, minX = math.Inf(1), math.Inf(1)
	for _, p := range t.Polygon {
		minY = math.Min(minY, p.Y)
		minX = math.Min(minX, p.X)
	}
	return minY, minX
}

// tokenObject 是 OCR 服务的对象格式。
type tokenObject struct {
	Box        json.RawMessage `json:"box"`
	Text       *string         `json:"text"`
	Confidence *float64        `json:"confidence"`
}

// UnmarshalJSON 同时接受对象格式 {"box","text","confidence"}
// 以及 EasyOCR 风格的三元组 [box, text, confidence]。
func (t *Token) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("%w: empty token", ErrGeometryInputInvalid)
	}

	var (
		box  json.RawMessage
		text string
		conf float64
	)
	switch trimmed[0] {
	case '{':
		var obj tokenObject
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return fmt.Errorf("%w: %v", ErrGeometryInputInvalid, err)
		}
		if obj.Text == nil || obj.Confidence == nil {
			return fmt.Errorf("%w: token object missing text or confidence", ErrGeometryInputInvalid)
		}
		box, text, conf = obj.Box, *obj.Text, *obj.Confidence
	case '[':
		var triple []json.RawMessage
		if err := json.Unmarshal(trimmed, &triple); err != nil {
			return fmt.Errorf("%w: %v", ErrGeometryInputInvalid, err)
		}
		if len(triple) != 3 {
			return fmt.Errorf("%w: token triple has %d elements", ErrGeometryInputInvalid, len(triple))
		}
		box = triple[0]
		if err := json.Unmarshal(triple[1], &text); err != nil {
			return fmt.Errorf("%w: text: %v", ErrGeometryInputInvalid, err)
		}
		if err := json.Unmarshal(triple[2], &conf); err != nil {
			return fmt.Errorf("%w: confidence: %v", ErrGeometryInputInvalid, err)
		}
	default:
		return fmt.Errorf("%w: token is neither object nor array", ErrGeometryInputInvalid)
	}

	*t = Token{Polygon: parsePolygon(box), Text: text, Confidence: conf}
	return nil
}

// parsePolygon 解析 [[x,y],...] 形式的多边形。
// 形状不对时返回 nil，由 Validate 在重建阶段丢弃该 token，不影响同一图片的其他 token。
func parsePolygon(raw json.RawMessage) []Point {
	var box [][]float64
	if err := json.Unmarshal(raw, &box); err != nil {
		return nil
	}
	polygon := make([]Point, 0, len(box))
	for _, p := range box {
		if len(p) != 2 {
			return nil
		}
		polygon = append(polygon, Point{X: p[0], Y: p[1]})
	}
	return polygon
}

// DecodeTokens 解析检测器返回的 token 列表。
// 整体不是 token 数组时返回 ErrGeometryInputInvalid。
func DecodeTokens(data []byte) ([]Token, error) {
	var tokens []Token
	if err := json.Unmarshal(data, &tokens); err != nil {
		if errors.Is(err, ErrGeometryInputInvalid) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrGeometryInputInvalid, err)
	}
	return tokens, nil
}
