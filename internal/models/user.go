package models

import "time"

// UserModel represents an account allowed to submit shift-report analyses.
type UserModel struct {
	Base
	Username      string     `json:"username"        gorm:"uniqueIndex;not null"`
	Name          string     `json:"name"`
	Password      string     `json:"-"               gorm:"not null"`
	Role          string     `json:"role"            gorm:"size:32;default:'finance'"`
	LastLoginTime *time.Time `json:"last_login_time"`
	LastLoginIP   string     `json:"last_login_ip"`
	APITokens     []APIToken `json:"api_tokens,omitempty" gorm:"foreignKey:UserID"`
}

func (UserModel) TableName() string { return "users" }

// APIToken represents a personal API token for programmatic access.
type APIToken struct {
	Base
	UserID    string     `json:"-"          gorm:"index;not null"`
	Token     string     `json:"token"      gorm:"uniqueIndex;not null"`
	Name      string     `json:"name"`
	ExpiredAt *time.Time `json:"expired_at"`
}

func (APIToken) TableName() string { return "api_tokens" }
