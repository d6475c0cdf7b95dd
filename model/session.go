package model

import "time"

// ListenSession 收听会话历史记录
// 只做事后统计用，同步核心不读这张表
type ListenSession struct {
	ID             int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	SessionID      string     `json:"sessionId" gorm:"size:36;index;not null"`
	UserID         int64      `json:"userId" gorm:"index"` // 游客为 0
	Role           string     `json:"role" gorm:"size:16;not null"`
	ConnectedAt    time.Time  `json:"connectedAt"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
}

// TableName 指定表名
func (ListenSession) TableName() string {
	return "listen_sessions"
}
