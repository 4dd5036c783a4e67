package models

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrInvalidMessage is returned when a message carries neither text
	// content nor an attachment.
	ErrInvalidMessage = errors.New("message has neither content nor attachment")
)

// User represents a user in the system.
type User struct {
	ID       string   `json:"id"`
	UserName string   `json:"userName"`
	Presence Presence `json:"presence"`
}

// Presence represents the online status of a user.
type Presence struct {
	Online   bool  `json:"online"`
	LastSeen int64 `json:"lastSeen,omitempty"` // Unix timestamp (seconds), zero until first offline transition
}

// Attachment is the blob store descriptor carried verbatim as message
// metadata. The relay never handles the bytes themselves.
type Attachment struct {
	URL       string `json:"url"`
	Name      string `json:"name"`
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
}

// Message is a single ledger record. Read and Unsent are the only mutable
// fields and both transition monotonically false -> true.
type Message struct {
	ID         string      `json:"id"`
	Seq        int64       `json:"-"` // ledger insertion order, storage key
	SenderID   string      `json:"senderId"`
	ReceiverID string      `json:"receiverId"`
	Content    string      `json:"content,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  int64       `json:"createdAt"` // Unix timestamp (seconds)
	Read       bool        `json:"read"`
	Unsent     bool        `json:"unsent"`
}

// ClientMessage represents a command sent from the client to the server.
type ClientMessage struct {
	Type ClientMessageType `json:"type"`

	// announce
	Identity string `json:"identity,omitempty"`

	// send
	ReceiverID          string `json:"receiverId,omitempty"`
	Content             string `json:"content,omitempty"`
	AttachmentURL       string `json:"attachmentUrl,omitempty"`
	AttachmentName      string `json:"attachmentName,omitempty"`
	AttachmentMimeType  string `json:"attachmentMimeType,omitempty"`
	AttachmentSizeBytes int64  `json:"attachmentSizeBytes,omitempty"`

	// fetchHistory
	OtherID string `json:"otherId,omitempty"`

	// markRead
	SenderID string `json:"senderId,omitempty"`

	// unsend
	MessageID string `json:"messageId,omitempty"`
}

// ServerMessage represents an event pushed to the client.
type ServerMessage struct {
	Type ServerMessageType `json:"type"`

	// presence
	Identity string `json:"identity,omitempty"`
	Online   bool   `json:"online,omitempty"`

	// messageCreated
	Message *Message `json:"message,omitempty"`

	// historySnapshot
	Messages []Message `json:"messages,omitempty"`

	// unreadCounts
	Counts map[string]int `json:"counts,omitempty"`
	Total  int            `json:"total,omitempty"`

	// readReceipt
	Reader string `json:"reader,omitempty"`

	// messageRetracted
	MessageID  string `json:"messageId,omitempty"`
	SenderID   string `json:"senderId,omitempty"`
	ReceiverID string `json:"receiverId,omitempty"`
}

type ClientMessageType string

const (
	ClientMessageTypeAnnounce     ClientMessageType = "announce"
	ClientMessageTypeSend         ClientMessageType = "send"
	ClientMessageTypeFetchHistory ClientMessageType = "fetchHistory"
	ClientMessageTypeMarkRead     ClientMessageType = "markRead"
	ClientMessageTypeQueryUnread  ClientMessageType = "queryUnread"
	ClientMessageTypeUnsend       ClientMessageType = "unsend"
)

type ServerMessageType string

const (
	ServerMessageTypePresence         ServerMessageType = "presence"
	ServerMessageTypeMessageCreated   ServerMessageType = "messageCreated"
	ServerMessageTypeHistorySnapshot  ServerMessageType = "historySnapshot"
	ServerMessageTypeUnreadCounts     ServerMessageType = "unreadCounts"
	ServerMessageTypeReadReceipt      ServerMessageType = "readReceipt"
	ServerMessageTypeMessageRetracted ServerMessageType = "messageRetracted"
)
