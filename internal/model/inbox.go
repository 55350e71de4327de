package model

// DefaultProximity bounds how much of the overlay address space is
// searched when a record does not specify one.
const DefaultProximity uint8 = 16

type (
	// InboxParams identifies where in the feed space a recipient's inbox
	// lives. TargetOverlay and BaseIdentifier are required; Proximity
	// falls back to DefaultProximity.
	InboxParams struct {
		TargetOverlay      string `json:"targetOverlay" validate:"required"`
		BaseIdentifier     string `json:"baseIdentifier" validate:"required"`
		Proximity          uint8  `json:"proximity"`
		RecipientPublicKey []byte `json:"recipientPublicKey,omitempty"`
	}
)

// Normalize applies defaults to optional fields.
func (p InboxParams) Normalize() InboxParams {
	if p.Proximity == 0 {
		p.Proximity = DefaultProximity
	}
	return p
}
