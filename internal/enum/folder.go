package enum

// FolderType mirrors the ActiveSync FolderSync type codes.
type FolderType int

const (
	FolderUserGeneric  FolderType = 1
	FolderInbox        FolderType = 2
	FolderDrafts       FolderType = 3
	FolderDeletedItems FolderType = 4
	FolderSent         FolderType = 5
	FolderOutbox       FolderType = 6
	FolderTasks        FolderType = 7
	FolderCalendar     FolderType = 8
	FolderContacts     FolderType = 9
	FolderNotes        FolderType = 10
	FolderJournal      FolderType = 11
	FolderUserMail     FolderType = 12
)

func (t FolderType) String() string {
	switch t {
	case FolderInbox:
		return "inbox"
	case FolderDrafts:
		return "drafts"
	case FolderDeletedItems:
		return "deleted_items"
	case FolderSent:
		return "sent"
	case FolderOutbox:
		return "outbox"
	case FolderTasks:
		return "tasks"
	case FolderCalendar:
		return "calendar"
	case FolderContacts:
		return "contacts"
	case FolderNotes:
		return "notes"
	case FolderJournal:
		return "journal"
	default:
		return "user"
	}
}
