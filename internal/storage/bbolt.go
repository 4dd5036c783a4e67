package storage

import (
	"fmt"
	"time"

	"depesha/internal/auth"
	"depesha/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers    = []byte("users")
	bucketMessages = []byte("messages")
	bucketFiles    = []byte("files")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketUsers); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMessages); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketFiles); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertCredentials stores new or updated user credentials.
func (s *BboltStorage) UpsertCredentials(credentials auth.UserCredentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbUser := &DBUser{
			ID:           credentials.ID,
			UserName:     credentials.UserName,
			PasswordHash: credentials.PasswordHash,
			CreatedAt:    credentials.CreatedAt,
		}

		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), data)
	})
}

// ListCredentials returns all user credentials stored in the database.
func (s *BboltStorage) ListCredentials() ([]auth.UserCredentials, error) {
	var credentials []auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			credentials = append(credentials, auth.UserCredentials{
				User: models.User{
					ID:       dbUser.ID,
					UserName: dbUser.UserName,
				},
				PasswordHash: dbUser.PasswordHash,
				CreatedAt:    dbUser.CreatedAt,
			})
			return nil
		})
	})
	return credentials, err
}

// PutMessage durably commits a single message record keyed by its sequence
// number. The write is visible to readers only after the transaction commits.
func (s *BboltStorage) PutMessage(message models.Message) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putMessage(tx, message)
	})
}

// PutMessages commits a batch of message records in one transaction, so a
// multi-record mutation like mark-read is applied all or nothing.
func (s *BboltStorage) PutMessages(messages []models.Message) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, m := range messages {
			if err := putMessage(tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func putMessage(tx *bbolt.Tx, message models.Message) error {
	b := tx.Bucket(bucketMessages)

	dbMessage := DBMessage{
		Seq:        message.Seq,
		ID:         message.ID,
		SenderID:   message.SenderID,
		ReceiverID: message.ReceiverID,
		Content:    message.Content,
		CreatedAt:  message.CreatedAt,
		Read:       message.Read,
		Unsent:     message.Unsent,
	}
	if message.Attachment != nil {
		dbMessage.Attachment = &DBAttachment{
			URL:       message.Attachment.URL,
			Name:      message.Attachment.Name,
			MimeType:  message.Attachment.MimeType,
			SizeBytes: message.Attachment.SizeBytes,
		}
	}

	data, err := dbMessage.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := b.Put(dbMessage.Key(), data); err != nil {
		return fmt.Errorf("failed to put message: %w", err)
	}
	return nil
}

// ListMessages returns every message record in ledger insertion order,
// including unsent ones. Used to rebuild in-memory indices at startup.
func (s *BboltStorage) ListMessages() ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		return b.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			msg := models.Message{
				Seq:        dbMsg.Seq,
				ID:         dbMsg.ID,
				SenderID:   dbMsg.SenderID,
				ReceiverID: dbMsg.ReceiverID,
				Content:    dbMsg.Content,
				CreatedAt:  dbMsg.CreatedAt,
				Read:       dbMsg.Read,
				Unsent:     dbMsg.Unsent,
			}
			if dbMsg.Attachment != nil {
				msg.Attachment = &models.Attachment{
					URL:       dbMsg.Attachment.URL,
					Name:      dbMsg.Attachment.Name,
					MimeType:  dbMsg.Attachment.MimeType,
					SizeBytes: dbMsg.Attachment.SizeBytes,
				}
			}
			messages = append(messages, msg)
			return nil
		})
	})
	return messages, err
}
