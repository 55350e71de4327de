package model

type (
	Folder string

	// GSOCMessage is the feed-level descriptor produced by the storage
	// network when a pointer lands in an inbox feed.
	GSOCMessage struct {
		Reference string `json:"reference" validate:"required"`
		Timestamp uint64 `json:"timestamp"`
	}

	// Message is the application-level record persisted by the store.
	// Until the payload is fetched and decrypted, Filename and Size are
	// placeholders.
	Message struct {
		Reference string `json:"reference" validate:"required"`
		Filename  string `json:"filename"`
		Size      int64  `json:"size"`
		Timestamp uint64 `json:"timestamp"`
		Encrypted bool   `json:"encrypted"`
		From      string `json:"from,omitempty"`
		To        string `json:"to,omitempty"`
	}
)

const (
	FolderReceived Folder = "received"
	FolderSent     Folder = "sent"
	FolderStored   Folder = "stored"
)

// Folders lists every folder the store persists for an account.
var Folders = []Folder{FolderReceived, FolderSent, FolderStored}

// PlaceholderFilename is used for a message whose payload has not been
// fetched and decrypted yet.
const PlaceholderFilename = "Encrypted file"

// NewPlaceholder converts a feed descriptor into the record persisted on
// first observation.
func NewPlaceholder(g GSOCMessage) *Message {
	return &Message{
		Reference: g.Reference,
		Filename:  PlaceholderFilename,
		Size:      0,
		Timestamp: g.Timestamp,
		Encrypted: true,
	}
}
