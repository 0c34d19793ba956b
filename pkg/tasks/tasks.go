// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// InsightTask 一轮聊天结束后投递，消费者据此补算消息分析并同步检索索引。
// ChildID 为空表示处理全部孩子。
type InsightTask struct {
	ChildID   string `json:"child_id"`
	SessionID string `json:"session_id,omitempty"`
}

// Key 用作 Kafka 消息 key 和失败计数 key，同一孩子的任务落在同一分区。
func (t InsightTask) Key() string {
	if t.ChildID == "" {
		return "all"
	}
	return t.ChildID
}
