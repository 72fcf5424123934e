package group

import (
	"time"

	"github.com/opd-ai/shroud/crypto"
)

// MessageType classifies a group message payload.
type MessageType uint8

const (
	// MessageText is a plain text message.
	MessageText MessageType = iota
	// MessageFile is a file transfer reference.
	MessageFile
	// MessageImage is an inline image.
	MessageImage
	// MessageVoice is a voice clip.
	MessageVoice
)

// String returns a human-readable message type name.
func (t MessageType) String() string {
	switch t {
	case MessageText:
		return "text"
	case MessageFile:
		return "file"
	case MessageImage:
		return "image"
	case MessageVoice:
		return "voice"
	default:
		return "unknown"
	}
}

// Message is a group message sealed per recipient. EncryptedForMember
// maps a member nickname to the envelope only that member can open;
// the plaintext itself is never persisted.
type Message struct {
	ID                 string                               `json:"message_id"`
	GroupID            string                               `json:"group_id"`
	SenderNickname     string                               `json:"sender_nickname"`
	Type               MessageType                          `json:"type"`
	Timestamp          time.Time                            `json:"timestamp"`
	EncryptedForMember map[string]*crypto.EncryptedEnvelope `json:"encrypted_for_member"`
}

func (m *Message) clone() *Message {
	out := *m
	out.EncryptedForMember = make(map[string]*crypto.EncryptedEnvelope, len(m.EncryptedForMember))
	for k, v := range m.EncryptedForMember {
		env := *v
		out.EncryptedForMember[k] = &env
	}
	return &out
}
