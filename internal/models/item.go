package models

import "time"

// Note is the wire representation of an Exchange note. Items are
// ephemeral here: they are serialized into requests and parsed back out
// of responses, persistence belongs to the caller.
type Note struct {
	ServerID     string     `json:"serverId"`
	ClientID     string     `json:"clientId"`
	Subject      string     `json:"subject"`
	Body         string     `json:"body"`
	Categories   []string   `json:"categories"`
	Deleted      bool       `json:"deleted"`
	LastModified *time.Time `json:"lastModified"`
}

// Task is the wire representation of an Exchange task. A nil DueDate
// means the element is absent on the wire, never emitted empty.
type Task struct {
	ServerID     string     `json:"serverId"`
	ClientID     string     `json:"clientId"`
	Subject      string     `json:"subject"`
	Body         string     `json:"body"`
	Categories   []string   `json:"categories"`
	DueDate      *time.Time `json:"dueDate"`
	Complete     bool       `json:"complete"`
	Deleted      bool       `json:"deleted"`
	LastModified *time.Time `json:"lastModified"`
}
