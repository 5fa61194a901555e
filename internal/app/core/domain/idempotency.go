package domain

import "time"

// IdempotencyRecord 冪等紀錄，同一個 key 只會寫入一次，且與交易在同一個工作單元內提交
type IdempotencyRecord struct {
	Key         string
	RequestHash string
	Response    []byte
	CreatedAt   time.Time
}

// Matches 比對請求 hash
func (r *IdempotencyRecord) Matches(requestHash string) bool {
	return r.RequestHash == requestHash
}
