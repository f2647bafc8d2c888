package storage

import (
	"fmt"

	"nexus/internal/models"

	"go.etcd.io/bbolt"
)

// PersistMessage appends a message to the channel history and returns its id and timestamp.
func (s *BboltStorage) PersistMessage(channelID, authorID, content string) (string, int64, error) {
	if channelID == "" {
		return "", 0, fmt.Errorf("message missing channel id: %w", models.ErrInvalidInput)
	}

	dbMessage := DBMessage{
		ID:        shortID(12),
		ChannelID: channelID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: s.now().Unix(),
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketChannels).Get([]byte(channelID)) == nil {
			return fmt.Errorf("channel %s: %w", channelID, models.ErrNotFound)
		}

		chatBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(channelID))
		if err != nil {
			return fmt.Errorf("failed to create channel bucket: %w", err)
		}

		seq, err := chatBucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}
		dbMessage.Seq = seq

		if err := put(chatBucket, &dbMessage); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", 0, err
	}

	return dbMessage.ID, dbMessage.CreatedAt, nil
}

// ListMessages returns up to limit most recent messages of a channel, oldest
// first, each joined with its author's current profile.
func (s *BboltStorage) ListMessages(channelID string, limit int) ([]models.Message, error) {
	messages := []models.Message{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(channelID))
		if chatBucket == nil {
			return nil
		}
		users := tx.Bucket(bucketUsers)

		c := chatBucket.Cursor()
		for k, v := c.Last(); k != nil && (limit <= 0 || len(messages) < limit); k, v = c.Prev() {
			var dbMessage DBMessage
			if err := dbMessage.UnmarshalBinary(v); err != nil {
				return err
			}
			msg := models.Message{
				ID:        dbMessage.ID,
				ChannelID: dbMessage.ChannelID,
				AuthorID:  dbMessage.AuthorID,
				Content:   dbMessage.Content,
				CreatedAt: dbMessage.CreatedAt,
			}
			var author DBUser
			if err := get(users, []byte(dbMessage.AuthorID), &author); err == nil {
				msg.Username = author.Username
				msg.Avatar = author.Avatar
				msg.Color = author.Color
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
