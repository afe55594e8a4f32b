package store

import "time"

// Identity references a participant: who they are and how to render them.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// AttachmentKind classifies a media attachment.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentVideo AttachmentKind = "video"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is one media item carried by a message.
type Attachment struct {
	URL  string         `json:"url"`
	Kind AttachmentKind `json:"kind"`
	Name string         `json:"name"`
}

// Reaction is a single emoji reaction by a single user. At most one reaction
// exists per (message, user, emoji) triple; adding it again is a no-op.
type Reaction struct {
	Emoji string   `json:"emoji"`
	User  Identity `json:"user"`
}

// ReplyReference links a message to the one it replies to. Author, Excerpt
// and Thumbnail are a denormalized snapshot captured at compose time so the
// reply still renders after the target is deleted. The snapshot is read-only:
// it is never reconciled against later edits of the target.
type ReplyReference struct {
	TargetID  string      `json:"target_id"`
	Author    Identity    `json:"author"`
	Excerpt   string      `json:"excerpt"`
	Thumbnail *Attachment `json:"thumbnail,omitempty"`
}

// Message is one entry in a conversation. ID is server-assigned and immutable
// once set.
type Message struct {
	ID          string          `json:"id"`
	Author      Identity        `json:"author"`
	Body        string          `json:"body"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	ReplyTo     *ReplyReference `json:"reply_to,omitempty"`
	Reactions   []Reaction      `json:"reactions,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Edited      bool            `json:"edited"`
}

// Empty reports whether the message carries no content. An empty message is
// invalid and must never be submitted.
func (m Message) Empty() bool {
	return m.Body == "" && len(m.Attachments) == 0
}

// ConversationKind distinguishes the two chat surfaces.
type ConversationKind string

const (
	KindPrivate ConversationKind = "private"
	KindGroup   ConversationKind = "group"
)

// Role is a group membership role. Private conversations carry RoleMember
// for both parties.
type Role string

const (
	RoleMember  Role = "member"
	RoleAdmin   Role = "admin"
	RoleCreator Role = "creator"
)

// Participant is a conversation member with their role.
type Participant struct {
	Identity
	Role Role `json:"role"`
}

// Conversation is the metadata of one private or group chat.
type Conversation struct {
	ID           string           `json:"id"`
	Kind         ConversationKind `json:"kind"`
	Participants []Participant    `json:"participants"`
}
