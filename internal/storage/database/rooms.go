package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrMissingUser is returned when either participant id is empty.
	ErrMissingUser = errors.New("missing user id")
	// ErrSelfRoom is returned for a room between a user and themself.
	ErrSelfRoom = errors.New("cannot create a chat room with yourself")
)

// GetOrCreate returns the id of the room shared by userID and otherID,
// looking the pair up in both orders and creating the room when neither
// exists.
func (s *Store) GetOrCreate(ctx context.Context, userID, otherID string) (string, error) {
	if userID == "" || otherID == "" {
		return "", ErrMissingUser
	}
	if userID == otherID {
		return "", ErrSelfRoom
	}

	var roomID string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, pair := range [][2]string{{userID, otherID}, {otherID, userID}} {
			var room ChatRoom
			err := tx.Where("user1_id = ? AND user2_id = ?", pair[0], pair[1]).Take(&room).Error
			if err == nil {
				roomID = room.ID
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		room := ChatRoom{
			ID:        uuid.NewString(),
			User1ID:   userID,
			User2ID:   otherID,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		roomID = room.ID
		s.logger.Info("room created",
			zap.String("room", room.ID),
			zap.String("user1", userID),
			zap.String("user2", otherID))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("get or create room: %w", err)
	}
	return roomID, nil
}
