package models

import "time"

// EmailMessage is a mail item as surfaced by an incremental sync or a
// Fetch round-trip.
type EmailMessage struct {
	ServerID    string     `json:"serverId"`
	FolderID    string     `json:"folderId"`
	From        string     `json:"from"`
	To          string     `json:"to"`
	Subject     string     `json:"subject"`
	Date        *time.Time `json:"date"`
	Read        bool       `json:"read"`
	BodyPlain   string     `json:"bodyPlain"`
	BodyHTML    string     `json:"bodyHtml"`
	Deleted     bool       `json:"deleted"`
	Attachments []string   `json:"attachments"`
}
