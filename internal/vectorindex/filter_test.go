package vectorindex

import (
	"encoding/json"
	"testing"
	"time"

	"receipt-rag-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestBuildFilter_UserOnlyIsBareEquality(t *testing.T) {
	expr, err := BuildFilter(RetrievalFilter{UserID: 5})
	require.NoError(t, err)

	require.NotNil(t, expr.Cond)
	assert.Nil(t, expr.And)
	assert.Equal(t, map[string]any{"user_id": int64(5)}, expr.Map())
}

func TestBuildFilter_DateRangeIsConjunction(t *testing.T) {
	expr, err := BuildFilter(RetrievalFilter{UserID: 5, Start: day(2024, 1, 1), End: day(2024, 1, 31)})
	require.NoError(t, err)

	assert.Nil(t, expr.Cond)
	require.Len(t, expr.And, 3)

	got, err := json.Marshal(expr.Map())
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"$and":[{"user_id":5},{"date_epoch_seconds":{"$gte":1704067200}},{"date_epoch_seconds":{"$lte":1706659200}}]}`,
		string(got))
}

func TestBuildFilter_RejectsSingleSidedRange(t *testing.T) {
	_, err := BuildFilter(RetrievalFilter{UserID: 1, Start: day(2024, 1, 1)})
	assert.ErrorIs(t, err, ErrInvalidDateRange)

	_, err = BuildFilter(RetrievalFilter{UserID: 1, End: day(2024, 1, 1)})
	assert.ErrorIs(t, err, ErrInvalidDateRange)
}

func TestBuildFilter_RejectsInvertedRange(t *testing.T) {
	_, err := BuildFilter(RetrievalFilter{UserID: 1, Start: day(2024, 2, 1), End: day(2024, 1, 1)})
	assert.ErrorIs(t, err, ErrInvalidDateRange)
}

func TestBuildFilter_SingleDayRange(t *testing.T) {
	expr, err := BuildFilter(RetrievalFilter{UserID: 1, Start: day(2024, 3, 15), End: day(2024, 3, 15)})
	require.NoError(t, err)

	epoch := model.DateEpochSeconds(*day(2024, 3, 15))
	assert.True(t, expr.Matches(model.SemanticMetadata{UserID: 1, DateEpochSeconds: &epoch}))
}

func TestExpr_Matches(t *testing.T) {
	expr, err := BuildFilter(RetrievalFilter{UserID: 5, Start: day(2024, 1, 1), End: day(2024, 1, 31)})
	require.NoError(t, err)

	inRange := model.DateEpochSeconds(*day(2024, 1, 15))
	outOfRange := model.DateEpochSeconds(*day(2024, 2, 1))

	assert.True(t, expr.Matches(model.SemanticMetadata{UserID: 5, DateEpochSeconds: &inRange}))
	assert.False(t, expr.Matches(model.SemanticMetadata{UserID: 6, DateEpochSeconds: &inRange}))
	assert.False(t, expr.Matches(model.SemanticMetadata{UserID: 5, DateEpochSeconds: &outOfRange}))
	// 没有日期的文档永远不会命中日期范围
	assert.False(t, expr.Matches(model.SemanticMetadata{UserID: 5}))
}

func TestElasticFilter(t *testing.T) {
	bare, _ := BuildFilter(RetrievalFilter{UserID: 5})
	got, err := json.Marshal(ElasticFilter(bare))
	require.NoError(t, err)
	assert.JSONEq(t, `{"term":{"user_id":5}}`, string(got))

	ranged, _ := BuildFilter(RetrievalFilter{UserID: 5, Start: day(2024, 1, 1), End: day(2024, 1, 31)})
	got, err = json.Marshal(ElasticFilter(ranged))
	require.NoError(t, err)
	assert.JSONEq(t, `{"bool":{"filter":[
		{"term":{"user_id":5}},
		{"range":{"date_epoch_seconds":{"gte":1704067200}}},
		{"range":{"date_epoch_seconds":{"lte":1706659200}}}
	]}}`, string(got))
}

func TestPGFilter(t *testing.T) {
	bare, _ := BuildFilter(RetrievalFilter{UserID: 5})
	where, args, err := PGFilter(bare, []any{"vec"})
	require.NoError(t, err)
	assert.Equal(t, "user_id = $2", where)
	assert.Equal(t, []any{"vec", int64(5)}, args)

	ranged, _ := BuildFilter(RetrievalFilter{UserID: 5, Start: day(2024, 1, 1), End: day(2024, 1, 31)})
	where, args, err = PGFilter(ranged, []any{"vec"})
	require.NoError(t, err)
	assert.Equal(t, "(user_id = $2 AND date_epoch_seconds >= $3 AND date_epoch_seconds <= $4)", where)
	assert.Equal(t, []any{"vec", int64(5), int64(1704067200), int64(1706659200)}, args)
}

func TestPGFilter_UnknownField(t *testing.T) {
	_, _, err := PGFilter(Expr{Cond: &Condition{Field: "text_content; DROP", Op: OpEq, Value: 1}}, nil)
	assert.Error(t, err)
}
