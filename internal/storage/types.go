package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID           string `msgpack:"id"`
	UserName     string `msgpack:"userName"`
	PasswordHash string `msgpack:"passwordHash"`
	CreatedAt    int64  `msgpack:"createdAt"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBMessage struct {
	Seq        int64         `msgpack:"seq"`
	ID         string        `msgpack:"id"`
	SenderID   string        `msgpack:"senderId"`
	ReceiverID string        `msgpack:"receiverId"`
	Content    string        `msgpack:"content"`
	Attachment *DBAttachment `msgpack:"attachment,omitempty"`
	CreatedAt  int64         `msgpack:"createdAt"`
	Read       bool          `msgpack:"read"`
	Unsent     bool          `msgpack:"unsent"`
}

type DBAttachment struct {
	URL       string `msgpack:"url"`
	Name      string `msgpack:"name"`
	MimeType  string `msgpack:"mimeType"`
	SizeBytes int64  `msgpack:"sizeBytes"`
}

// Key is the big-endian sequence number so a cursor scan yields messages
// in ledger insertion order.
func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(m.Seq))
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}
