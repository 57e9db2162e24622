package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID                string `gorm:"primaryKey"`
	Name              string `gorm:"not null"`
	Username          string `gorm:"uniqueIndex;not null"`
	Email             string `gorm:"not null"`
	PasswordHash      string `gorm:"not null"`
	Pincode           string
	Area              string
	City              string
	State             string
	Country           string
	SecurityQuestions datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt         time.Time      `gorm:"not null"`
	UpdatedAt         time.Time
}

type BookModel struct {
	ID           string `gorm:"primaryKey"`
	Title        string `gorm:"not null"`
	Author       string `gorm:"not null"`
	Genre        string `gorm:"not null"`
	Year         int    `gorm:"not null"`
	Note         string `gorm:"type:text"`
	DisplayTitle string
	Status       string    `gorm:"not null;index"`
	OwnerID      string    `gorm:"not null;index"`
	Enlisted     bool      `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;index"`
	UpdatedAt    time.Time `gorm:"not null"`
}

type BorrowRequestModel struct {
	ID          string    `gorm:"primaryKey"`
	BookID      string    `gorm:"not null;index"`
	RequesterID string    `gorm:"not null;index"`
	OwnerID     string    `gorm:"not null;index"`
	Status      string    `gorm:"not null;index"`
	RequestedAt time.Time `gorm:"not null;index"`
	ResolvedAt  *time.Time
}

type ReviewModel struct {
	ID        string    `gorm:"primaryKey"`
	BookID    string    `gorm:"not null;index"`
	UserID    string    `gorm:"not null;index"`
	Rating    int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// OwnershipRecordModel rows are append-only; there is no update or
// delete path for them anywhere in the codebase.
type OwnershipRecordModel struct {
	ID       string    `gorm:"primaryKey"`
	BookID   string    `gorm:"not null;index;uniqueIndex:idx_book_sequence,priority:1"`
	OwnerID  string    `gorm:"not null;index"`
	Sequence int       `gorm:"not null;uniqueIndex:idx_book_sequence,priority:2"`
	From     time.Time `gorm:"not null"`
}
