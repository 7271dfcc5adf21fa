package reconstruct

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"receipt-rag-go/pkg/ocr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func box(x, y, w, h float64) []ocr.Point {
	return []ocr.Point{{X: x, Y: y}, {X: x + w, Y: y}, {X: x + w, Y: y + h}, {X: x, Y: y + h}}
}

func tok(x, y float64, text string, conf float64) ocr.Token {
	return ocr.Token{Polygon: box(x, y, 10, 10), Text: text, Confidence: conf}
}

func TestReconstruct_Scenario(t *testing.T) {
	tokens := []ocr.Token{
		tok(0, 0, "Milk", 0.9),
		tok(12, 0, "2.50", 0.95),
		tok(0, 20, "Bread", 0.8),
	}

	assert.Equal(t, []string{"Milk 2.50", "Bread"}, Texts(Reconstruct(tokens)))
}

func TestReconstruct_EmptyInput(t *testing.T) {
	assert.Empty(t, Reconstruct(nil))
	assert.Empty(t, Reconstruct([]ocr.Token{}))
}

func TestReconstruct_DropsLowConfidenceAndBlank(t *testing.T) {
	tokens := []ocr.Token{
		tok(0, 0, "Total", 0.9),
		tok(20, 0, "noise", 0.29),
		tok(40, 0, "   ", 0.99),
		tok(60, 0, "9.99", 0.3),
	}

	lines := Texts(Reconstruct(tokens))
	require.Len(t, lines, 1)
	assert.Equal(t, "Total 9.99", lines[0])
	assert.NotContains(t, lines[0], "noise")
}

func TestReconstruct_OnlyLowConfidenceYieldsNoLines(t *testing.T) {
	tokens := []ocr.Token{tok(0, 0, "a", 0.1), tok(0, 40, "b", 0.2)}
	assert.Empty(t, Reconstruct(tokens))
}

func TestReconstruct_SortsByTopThenLeft(t *testing.T) {
	tokens := []ocr.Token{
		tok(50, 100, "World", 0.9),
		tok(30, 0, "B", 0.9),
		tok(0, 100, "Hello", 0.9),
		tok(0, 0, "A", 0.9),
	}

	assert.Equal(t, []string{"A B", "Hello World"}, Texts(Reconstruct(tokens)))
}

func TestReconstruct_GapAnchorsToLastToken(t *testing.T) {
	// 每个 token 相对上一个只下移 10，虽然最后一个距行首 30，仍属于同一行
	tokens := []ocr.Token{
		tok(0, 0, "a", 0.9),
		tok(10, 10, "b", 0.9),
		tok(20, 20, "c", 0.9),
		tok(30, 30, "d", 0.9),
	}

	assert.Equal(t, []string{"a b c d"}, Texts(Reconstruct(tokens)))
}

func TestReconstruct_GapExactlyThresholdStaysOnLine(t *testing.T) {
	tokens := []ocr.Token{tok(0, 0, "a", 0.9), tok(0, 15, "b", 0.9), tok(0, 30.5, "c", 0.9)}
	assert.Equal(t, []string{"a b", "c"}, Texts(Reconstruct(tokens)))
}

func TestReconstruct_DropsMalformedPolygon(t *testing.T) {
	tokens := []ocr.Token{
		tok(0, 0, "ok", 0.9),
		{Polygon: []ocr.Point{{X: 1, Y: 1}, {X: 2, Y: 2}}, Text: "bad", Confidence: 0.9},
		tok(0, 50, "next", 0.9),
	}

	assert.Equal(t, []string{"ok", "next"}, Texts(Reconstruct(tokens)))
}

func TestReconstruct_DecodedPayloadWithFlatBox(t *testing.T) {
	tokens, err := ocr.DecodeTokens([]byte(`[
		{"box": [[0,0],[10,0],[10,10],[0,10]], "text": "Milk", "confidence": 0.9},
		{"box": [0,0,10,10], "text": "junk", "confidence": 0.9},
		{"box": [[0,20],[10,20],[10,30],[0,30]], "text": "Bread", "confidence": 0.8}
	]`))
	require.NoError(t, err)

	assert.Equal(t, []string{"Milk", "Bread"}, Texts(Reconstruct(tokens)))
}

func TestReconstruct_AnchorUsesMinimumCorner(t *testing.T) {
	// 多边形顶点乱序时依然取最小 y 和最小 x
	rotated := ocr.Token{
		Polygon:    []ocr.Point{{X: 30, Y: 12}, {X: 20, Y: 2}, {X: 25, Y: 8}, {X: 40, Y: 5}},
		Text:       "second",
		Confidence: 0.9,
	}
	tokens := []ocr.Token{rotated, tok(0, 2, "first", 0.9)}

	assert.Equal(t, []string{"first second"}, Texts(Reconstruct(tokens)))
}

func TestReconstruct_TrimsTokenText(t *testing.T) {
	tokens := []ocr.Token{tok(0, 0, "  Eggs ", 0.9), tok(20, 0, "1.20\n", 0.9)}
	assert.Equal(t, []string{"Eggs 1.20"}, Texts(Reconstruct(tokens)))
}

type fakeDetector struct {
	tokens []ocr.Token
	err    error
	seen   string
}

func (f *fakeDetector) Detect(_ context.Context, image io.Reader, fileName string) ([]ocr.Token, error) {
	b, _ := io.ReadAll(image)
	f.seen = fileName + ":" + string(b)
	return f.tokens, f.err
}

func TestLineReader_ReadLines(t *testing.T) {
	det := &fakeDetector{tokens: []ocr.Token{tok(0, 0, "Milk", 0.9), tok(0, 40, "Bread", 0.9)}}
	reader := NewLineReader(det)

	lines, err := reader.ReadLines(context.Background(), strings.NewReader("img"), "r.png")
	require.NoError(t, err)
	assert.Equal(t, []string{"Milk", "Bread"}, lines)
	assert.Equal(t, "r.png:img", det.seen)
}

func TestLineReader_NoTextIsNotAnError(t *testing.T) {
	reader := NewLineReader(&fakeDetector{tokens: []ocr.Token{tok(0, 0, "x", 0.05)}})

	lines, err := reader.ReadLines(context.Background(), bytes.NewReader(nil), "blank.png")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestLineReader_PropagatesDetectorFailure(t *testing.T) {
	reader := NewLineReader(&fakeDetector{err: ocr.ErrGeometryInputInvalid})

	_, err := reader.ReadLines(context.Background(), bytes.NewReader(nil), "bad.png")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ocr.ErrGeometryInputInvalid))
}
