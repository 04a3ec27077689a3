package domain

// Participant is a chat-visible user identity snapshot. It carries only the
// fields chat renders; accounts and profiles live with the auth collaborator.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Email       string `json:"email,omitempty"`
}
