package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Notification is one flushed ledger event. Sequence is assigned in flush
// order and never reused.
type Notification struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"size:64;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index"`
	Addresses  []NotificationAddress
}

// NotificationAddress links a notification to every address it mentions.
// Role is the attribute name the address appeared under.
type NotificationAddress struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	NotificationID uuid.UUID `gorm:"type:uuid;index"`
	Address        string    `gorm:"size:42;index"`
	Role           string    `gorm:"size:32"`
}

// AutoMigrate creates or updates the index tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Notification{}, &NotificationAddress{})
}
