package model

import "time"

// QARecord 是一次问答的历史记录，保存在 Redis 中。
type QARecord struct {
	Question    string    `json:"question"`
	Answer      string    `json:"answer"`
	SourceCount int       `json:"sourceCount"`
	AskedAt     time.Time `json:"askedAt"`
}
