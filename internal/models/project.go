package models

import "time"

// Project is the persisted record backing a collaboration session. The live
// session state is in-memory only; closing a session flips Active here.
type Project struct {
	ID            uint      `gorm:"primaryKey"`
	Name          string    `gorm:"type:varchar(100);not null"`
	SessionKey    string    `gorm:"type:varchar(50);uniqueIndex;not null"`
	AdminID       uint      `gorm:"index;not null"`
	GithubURL     string    `gorm:"type:varchar(300)"`
	WorkspacePath string    `gorm:"type:varchar(300)"`
	MaxUsers      int       `gorm:"default:5"`
	Active        bool      `gorm:"default:true"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}
