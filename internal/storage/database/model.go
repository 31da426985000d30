package database

import "time"

// ChatMessage is a persisted chat message
type ChatMessage struct {
	ID          string    `gorm:"primaryKey;size:36"`
	RoomID      string    `gorm:"index:idx_messages_room_time,priority:1;size:64;not null"`
	SenderID    string    `gorm:"size:64;not null"`
	Content     string    `gorm:"type:text;not null"`
	MessageType string    `gorm:"size:16;not null;default:text"`
	IsRead      bool      `gorm:"not null;default:false"`
	Timestamp   time.Time `gorm:"index:idx_messages_room_time,priority:2;not null"`
}

func (ChatMessage) TableName() string { return "messages" }

// ChatRoom is a two-party room. The pair is stored in creation order and
// looked up in both orders.
type ChatRoom struct {
	ID        string    `gorm:"primaryKey;size:36"`
	User1ID   string    `gorm:"uniqueIndex:idx_chat_rooms_pair,priority:1;size:64;not null"`
	User2ID   string    `gorm:"uniqueIndex:idx_chat_rooms_pair,priority:2;size:64;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (ChatRoom) TableName() string { return "chat_rooms" }
