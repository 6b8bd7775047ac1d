package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"squad-stats/models"
)

// Notifier queues a message for a squad's chat channel. Delivery happens elsewhere.
type Notifier interface {
	Notify(tx *gorm.DB, squadID, text string, attachment []byte) error
}

// NotificationService stores notifications as rows; attachments go to the object store when one is set.
// A failed notification never fails the caller's transaction.
type NotificationService struct {
	Store ObjectStore
}

func NewNotificationService(store ObjectStore) *NotificationService {
	return &NotificationService{Store: store}
}

func (s *NotificationService) Notify(tx *gorm.DB, squadID, text string, attachment []byte) error {
	n := models.Notification{SquadID: squadID, Text: text}
	if len(attachment) > 0 && s.Store != nil {
		key := fmt.Sprintf("attachments/%s/%d.png", squadID, time.Now().UnixNano())
		url, err := s.Store.Upload(context.Background(), key, attachment, "image/png")
		if err != nil {
			log.Printf("⚠️ [NOTIFY] Failed to upload attachment for squad %s: %v", squadID, err)
		} else {
			n.AttachmentURL = url
		}
	}
	// a nested transaction is a savepoint inside the caller's one, so a failed
	// insert does not abort the surrounding work
	if err := tx.Transaction(func(sp *gorm.DB) error {
		return sp.Create(&n).Error
	}); err != nil {
		return fmt.Errorf("failed to queue notification: %w", err)
	}
	return nil
}

// notifySquads sends text to every squad the player is a member of. Failures are only logged.
func notifySquads(tx *gorm.DB, notifier Notifier, steamID, text string) {
	if notifier == nil {
		return
	}
	var squadIDs []string
	if err := tx.Model(&models.SquadMembership{}).Where("steam_id = ?", steamID).
		Pluck("squad_id", &squadIDs).Error; err != nil {
		log.Printf("⚠️ [NOTIFY] Failed to look up squads of %s: %v", steamID, err)
		return
	}
	for _, squadID := range squadIDs {
		if err := notifier.Notify(tx, squadID, text, nil); err != nil {
			log.Printf("⚠️ [NOTIFY] %v", err)
		}
	}
}

func notifySquad(tx *gorm.DB, notifier Notifier, squadID, text string, attachment []byte) {
	if notifier == nil {
		return
	}
	if err := notifier.Notify(tx, squadID, text, attachment); err != nil {
		log.Printf("⚠️ [NOTIFY] %v", err)
	}
}
