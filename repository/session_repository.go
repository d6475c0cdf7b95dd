package repository

import (
	"context"
	"time"

	"MirrorFM/model"

	"gorm.io/gorm"
)

// SessionRepository 收听会话历史数据访问接口
type SessionRepository interface {
	RecordConnect(ctx context.Context, session *model.ListenSession) error
	RecordDisconnect(ctx context.Context, sessionID string) error
	GetRecent(ctx context.Context, limit int) ([]*model.ListenSession, error)
	CountByUser(ctx context.Context, userID int64) (int64, error)
}

// gormSessionRepository GORM 实现
type gormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository 创建 GORM 会话仓库
func NewGormSessionRepository(db *gorm.DB) SessionRepository {
	return &gormSessionRepository{db: db}
}

// RecordConnect 记录会话接入
func (r *gormSessionRepository) RecordConnect(ctx context.Context, session *model.ListenSession) error {
	if session.ConnectedAt.IsZero() {
		session.ConnectedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(session).Error
}

// RecordDisconnect 补记会话断开时间
func (r *gormSessionRepository) RecordDisconnect(ctx context.Context, sessionID string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&model.ListenSession{}).
		Where("session_id = ? AND disconnected_at IS NULL", sessionID).
		Update("disconnected_at", &now).Error
}

// GetRecent 最近的会话记录
func (r *gormSessionRepository) GetRecent(ctx context.Context, limit int) ([]*model.ListenSession, error) {
	var sessions []*model.ListenSession
	err := r.db.WithContext(ctx).
		Order("connected_at DESC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// CountByUser 某用户的历史会话数
func (r *gormSessionRepository) CountByUser(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ListenSession{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}
