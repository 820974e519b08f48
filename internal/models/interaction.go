// internal/models/interaction.go
package models

import "time"

// InteractionRecord 归档中的一条记录（每行一个 JSON）
type InteractionRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username,omitempty"`
	FullName    string    `json:"full_name,omitempty"`
	ScenarioID  string    `json:"scenario_id"`
	World       string    `json:"world,omitempty"`
	Character   string    `json:"character,omitempty"`
	SpeakerTag  string    `json:"speaker_tag"`
	Text        string    `json:"text"`
	ServiceType string    `json:"service_type,omitempty"`
	Model       string    `json:"model,omitempty"`
	Lang        string    `json:"lang,omitempty"`
}
