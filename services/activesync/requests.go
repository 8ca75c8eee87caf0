package activesync

import (
	"fmt"
	"strings"
	"time"
)

// The builders below produce the exact plain-XML ActiveSync bodies the
// servers accept. They are pure functions: no network, no state. Every
// free-text value is routed through EscapeXML before interpolation;
// interpolating a raw caller string anywhere in this file is a defect.

const (
	// ZeroSyncKey is the "no history" token every collection starts from.
	ZeroSyncKey = "0"

	// DefaultWindowSize bounds the number of changes per Sync response.
	DefaultWindowSize = 25

	// BodyTypePlainText and BodyTypeHTML are AirSyncBase body format codes.
	BodyTypePlainText = 1
	BodyTypeHTML      = 2

	easTimeFormat = "2006-01-02T15:04:05.000Z"
)

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// EscapeXML is the single escaping chokepoint for request construction.
func EscapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

// SyncParams shapes one <Sync> request body.
type SyncParams struct {
	SyncKey      string
	CollectionID string
	WindowSize   int
	GetChanges   bool
	// DeletesAsMoves is emitted only when set: 1 routes deletes through
	// Deleted Items, 0 makes them permanent.
	DeletesAsMoves *bool
	BodyType       int
	// Commands is a pre-built block of Add/Change/Delete/Fetch commands.
	Commands string
}

// SyncRequest builds the initial/incremental sync body for one collection.
func SyncRequest(p SyncParams) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString("\n<Sync xmlns=\"AirSync:\">\n<Collections>\n<Collection>\n")
	fmt.Fprintf(&b, "<SyncKey>%s</SyncKey>\n", EscapeXML(p.SyncKey))
	fmt.Fprintf(&b, "<CollectionId>%s</CollectionId>\n", EscapeXML(p.CollectionID))
	if p.DeletesAsMoves != nil {
		flag := 0
		if *p.DeletesAsMoves {
			flag = 1
		}
		fmt.Fprintf(&b, "<DeletesAsMoves>%d</DeletesAsMoves>\n", flag)
	}
	if p.GetChanges {
		b.WriteString("<GetChanges/>\n")
	}
	if p.WindowSize > 0 {
		fmt.Fprintf(&b, "<WindowSize>%d</WindowSize>\n", p.WindowSize)
	}
	if p.BodyType > 0 {
		fmt.Fprintf(&b, "<Options>\n<BodyPreference xmlns=\"AirSyncBase:\">\n<Type>%d</Type>\n</BodyPreference>\n</Options>\n", p.BodyType)
	}
	if p.Commands != "" {
		fmt.Fprintf(&b, "<Commands>\n%s</Commands>\n", p.Commands)
	}
	b.WriteString("</Collection>\n</Collections>\n</Sync>")
	return b.String()
}

// SyncAddCommand wraps application data in an <Add> block. The client id
// correlates the server's echoed response with this request.
func SyncAddCommand(clientID, applicationData string) string {
	return fmt.Sprintf("<Add>\n<ClientId>%s</ClientId>\n<ApplicationData>\n%s</ApplicationData>\n</Add>\n",
		EscapeXML(clientID), applicationData)
}

// SyncChangeCommand wraps application data in a <Change> block.
func SyncChangeCommand(serverID, applicationData string) string {
	return fmt.Sprintf("<Change>\n<ServerId>%s</ServerId>\n<ApplicationData>\n%s</ApplicationData>\n</Change>\n",
		EscapeXML(serverID), applicationData)
}

// SyncDeleteCommand builds a <Delete> block. Whether the delete is
// recoverable is decided by the enclosing request's DeletesAsMoves flag,
// not here.
func SyncDeleteCommand(serverID string) string {
	return fmt.Sprintf("<Delete>\n<ServerId>%s</ServerId>\n</Delete>\n", EscapeXML(serverID))
}

// SyncFetchCommand builds a <Fetch> block requesting an item's full body.
func SyncFetchCommand(serverID string) string {
	return fmt.Sprintf("<Fetch>\n<ServerId>%s</ServerId>\n</Fetch>\n", EscapeXML(serverID))
}

// NoteApplicationData renders a note's fields. Categories are omitted
// entirely when empty: some servers treat an empty element differently
// from an absent one.
func NoteApplicationData(subject, body string, categories []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<Subject xmlns=\"Notes:\">%s</Subject>\n", EscapeXML(subject))
	fmt.Fprintf(&b, "<Body xmlns=\"AirSyncBase:\">\n<Type>%d</Type>\n<Data>%s</Data>\n</Body>\n", BodyTypePlainText, EscapeXML(body))
	if len(categories) > 0 {
		b.WriteString("<Categories xmlns=\"Notes:\">\n")
		for _, c := range categories {
			fmt.Fprintf(&b, "<Category>%s</Category>\n", EscapeXML(c))
		}
		b.WriteString("</Categories>\n")
	}
	return b.String()
}

// TaskApplicationData renders a task's fields. An absent field stays off
// the wire: inside a <Change> block an empty element would clear the
// server-side value instead of leaving it alone.
func TaskApplicationData(subject, body string, dueDate *time.Time, complete bool) string {
	var b strings.Builder
	if subject != "" {
		fmt.Fprintf(&b, "<Subject xmlns=\"Tasks:\">%s</Subject>\n", EscapeXML(subject))
	}
	if body != "" {
		fmt.Fprintf(&b, "<Body xmlns=\"AirSyncBase:\">\n<Type>%d</Type>\n<Data>%s</Data>\n</Body>\n", BodyTypePlainText, EscapeXML(body))
	}
	if dueDate != nil {
		due := dueDate.UTC().Format(easTimeFormat)
		fmt.Fprintf(&b, "<UtcDueDate xmlns=\"Tasks:\">%s</UtcDueDate>\n", due)
		fmt.Fprintf(&b, "<DueDate xmlns=\"Tasks:\">%s</DueDate>\n", due)
	}
	completeFlag := 0
	if complete {
		completeFlag = 1
	}
	fmt.Fprintf(&b, "<Complete xmlns=\"Tasks:\">%d</Complete>\n", completeFlag)
	if complete {
		fmt.Fprintf(&b, "<DateCompleted xmlns=\"Tasks:\">%s</DateCompleted>\n", time.Now().UTC().Format(easTimeFormat))
	}
	return b.String()
}

// FolderSyncRequest builds the folder hierarchy sync body.
func FolderSyncRequest(syncKey string) string {
	return fmt.Sprintf("<?xml version=\"1.0\" encoding=\"utf-8\"?>\n<FolderSync xmlns=\"FolderHierarchy:\">\n<SyncKey>%s</SyncKey>\n</FolderSync>",
		EscapeXML(syncKey))
}

// Move is one source item of a batched MoveItems request.
type Move struct {
	ServerID       string
	SourceFolderID string
	DestFolderID   string
}

// MoveItemsRequest builds a batched move. Each entry carries its own
// source pair; the server responds per item, unordered.
func MoveItemsRequest(moves []Move) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString("\n<MoveItems xmlns=\"Move:\">\n")
	for _, m := range moves {
		b.WriteString("<Move>\n")
		fmt.Fprintf(&b, "<SrcMsgId>%s</SrcMsgId>\n", EscapeXML(m.ServerID))
		fmt.Fprintf(&b, "<SrcFldId>%s</SrcFldId>\n", EscapeXML(m.SourceFolderID))
		fmt.Fprintf(&b, "<DstFldId>%s</DstFldId>\n", EscapeXML(m.DestFolderID))
		b.WriteString("</Move>\n")
	}
	b.WriteString("</MoveItems>")
	return b.String()
}

// SearchGALRequest builds a directory (global address list) search.
func SearchGALRequest(query string, limit int) string {
	if limit <= 0 {
		limit = 100
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<Search xmlns="Search:">
<Store>
<Name>GAL</Name>
<Query>%s</Query>
<Options>
<Range>0-%d</Range>
</Options>
</Store>
</Search>`, EscapeXML(query), limit-1)
}

// SearchMailboxRequest builds a full-text mailbox search.
func SearchMailboxRequest(query string, limit int) string {
	if limit <= 0 {
		limit = 100
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<Search xmlns="Search:">
<Store>
<Name>Mailbox</Name>
<Query>
<And>
<FreeText>%s</FreeText>
</And>
</Query>
<Options>
<Range>0-%d</Range>
<RebuildResults/>
<DeepTraversal/>
</Options>
</Store>
</Search>`, EscapeXML(query), limit-1)
}
