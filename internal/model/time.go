package model

import "time"

// DateLayout 是 date_iso 使用的格式。
const DateLayout = "2006-01-02"

// DateISO 将日期格式化为 YYYY-MM-DD。
func DateISO(t time.Time) string {
	return t.Format(DateLayout)
}

// DateEpochSeconds 返回该日期 UTC 零点的 Unix 秒数。
// 索引时和查询过滤时都必须经过这里，保证两侧取值一致且与主机时区无关。
func DateEpochSeconds(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix()
}

// ParseDateISO 解析 YYYY-MM-DD 格式的日期。
func ParseDateISO(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}
