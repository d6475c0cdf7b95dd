package model

import "time"

// User represents a registered listener account.
type User struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Username     string    `json:"username" gorm:"size:100;uniqueIndex;not null"`
	Email        string    `json:"email" gorm:"size:255;uniqueIndex;not null"`
	PasswordHash string    `json:"-" gorm:"size:255;not null"` // Not exposed in API responses
	IsHost       bool      `json:"isHost" gorm:"default:false"`
	// Spotify 账号绑定：host 账号的 refresh token 是整个镜像链路的源头
	SpotifyUserID       string    `json:"spotifyUserId,omitempty" gorm:"size:64"`
	SpotifyRefreshToken string    `json:"-" gorm:"size:512"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}
