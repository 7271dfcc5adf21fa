package ocr

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"receipt-rag-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTokens_ObjectAndTripleForms(t *testing.T) {
	payload := `[
		{"box": [[0,0],[10,0],[10,10],[0,10]], "text": "Milk", "confidence": 0.9},
		[[[12,1],[20,1],[20,9],[12,9]], "2.50", 0.95]
	]`

	tokens, err := DecodeTokens([]byte(payload))
	require.NoError(t, err)
	require.Len(t, tokens, 2)

	assert.Equal(t, "Milk", tokens[0].Text)
	assert.InDelta(t, 0.9, tokens[0].Confidence, 1e-9)
	assert.Len(t, tokens[0].Polygon, 4)

	assert.Equal(t, "2.50", tokens[1].Text)
	minY, minX := tokens[1].Anchor()
	assert.Equal(t, 1.0, minY)
	assert.Equal(t, 12.0, minX)
}

func TestDecodeTokens_RejectsNonList(t *testing.T) {
	_, err := DecodeTokens([]byte(`{"tokens": []}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGeometryInputInvalid))
}

func TestDecodeTokens_RejectsMissingFields(t *testing.T) {
	_, err := DecodeTokens([]byte(`[{"box": [[0,0],[1,0],[1,1],[0,1]], "text": "x"}]`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGeometryInputInvalid))

	_, err = DecodeTokens([]byte(`[[[[0,0],[1,0],[1,1],[0,1]], "x"]]`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGeometryInputInvalid))
}

func TestDecodeTokens_BadPointDimensionYieldsInvalidToken(t *testing.T) {
	tokens, err := DecodeTokens([]byte(`[{"box": [[0,0,1],[1,0],[1,1],[0,1]], "text": "x", "confidence": 0.9}]`))
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.True(t, errors.Is(tokens[0].Validate(), ErrGeometryInputInvalid))
}

func TestDecodeTokens_MalformedBoxOnlyInvalidatesThatToken(t *testing.T) {
	payload := `[
		{"box": [[0,0],[10,0],[10,10],[0,10]], "text": "Milk", "confidence": 0.9},
		{"box": [0,0,10,10], "text": "junk", "confidence": 0.9},
		[{"x": 0}, "junk", 0.9],
		{"box": [[0,20],[10,20],[10,30],[0,30]], "text": "Bread", "confidence": 0.8}
	]`

	tokens, err := DecodeTokens([]byte(payload))
	require.NoError(t, err)
	require.Len(t, tokens, 4)
	assert.NoError(t, tokens[0].Validate())
	assert.Nil(t, tokens[1].Polygon)
	assert.ErrorIs(t, tokens[1].Validate(), ErrGeometryInputInvalid)
	assert.ErrorIs(t, tokens[2].Validate(), ErrGeometryInputInvalid)
	assert.NoError(t, tokens[3].Validate())
}

func TestToken_Validate(t *testing.T) {
	ok := Token{Polygon: []Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}}, Text: "a", Confidence: 1}
	assert.NoError(t, ok.Validate())

	short := Token{Polygon: []Point{{0, 0}, {1, 0}, {1, 1}}}
	assert.ErrorIs(t, short.Validate(), ErrGeometryInputInvalid)

	nan := Token{Polygon: []Point{{math.NaN(), 0}, {1, 0}, {1, 1}, {0, 1}}}
	assert.ErrorIs(t, nan.Validate(), ErrGeometryInputInvalid)
}

func TestClient_Detect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/detect", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		body, _ := io.ReadAll(file)
		assert.Equal(t, "receipt.png", header.Filename)
		assert.Equal(t, "PNGDATA", string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"box": [[0,0],[10,0],[10,10],[0,10]], "text": "Total", "confidence": 0.8}]`))
	}))
	defer srv.Close()

	client := NewClient(config.OCRConfig{ServerURL: srv.URL, TimeoutSeconds: 5})
	tokens, err := client.Detect(context.Background(), strings.NewReader("PNGDATA"), "uploads/receipt.png")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "Total", tokens[0].Text)
}

func TestClient_DetectServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(config.OCRConfig{ServerURL: srv.URL})
	_, err := client.Detect(context.Background(), strings.NewReader("x"), "a.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
