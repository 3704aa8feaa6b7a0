package domain

import "time"

// DefaultCredentialTTL bounds how long an issued room credential stays
// valid. Providers reject the token after this window.
const DefaultCredentialTTL = 15 * time.Minute

// GrantSet is the explicit capability list attached to a credential.
// Admin, Record and Create stay false unless the credential is a
// dedicated admin-channel credential.
type GrantSet struct {
	RoomJoin    bool `json:"roomJoin"`
	Publish     bool `json:"canPublish"`
	Subscribe   bool `json:"canSubscribe"`
	PublishData bool `json:"canPublishData"`
	Admin       bool `json:"roomAdmin,omitempty"`
	Record      bool `json:"roomRecord,omitempty"`
	Create      bool `json:"roomCreate,omitempty"`
}

// MemberGrants is the minimal set a regular participant receives.
func MemberGrants() GrantSet {
	return GrantSet{RoomJoin: true, Publish: true, Subscribe: true, PublishData: true}
}

// RoomCredential is immutable once issued.
type RoomCredential struct {
	Token     string `json:"token"`
	RoomURL   string `json:"roomUrl"`
	ExpiresIn int    `json:"expiresIn"` // seconds
}
