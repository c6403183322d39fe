package model

// Answer 是一次问答的最终结果，不做持久化。
type Answer struct {
	Text    string            `json:"answer"`
	Sources []RetrievedResult `json:"sources"`
	// Degraded 表示检索失败，Text 为兜底文案
	Degraded bool `json:"degraded"`
}
