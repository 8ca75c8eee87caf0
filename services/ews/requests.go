package ews

import (
	"fmt"
	"strings"
	"time"
)

// Schema versions announced in the RequestServerVersion header. Servers
// that predate native item sync only speak the 2007 SP1 schema.
const (
	SchemaVersionLegacy = "Exchange2007_SP1"
	SchemaVersionModern = "Exchange2013"
)

// Distinguished folder ids accepted by the messages schema.
const (
	FolderNotes        = "notes"
	FolderTasks        = "tasks"
	FolderDeletedItems = "deleteditems"
)

// SOAP action header values per operation.
const (
	actionBase       = "http://schemas.microsoft.com/exchange/services/2006/messages/"
	ActionCreateItem = actionBase + "CreateItem"
	ActionUpdateItem = actionBase + "UpdateItem"
	ActionDeleteItem = actionBase + "DeleteItem"
	ActionMoveItem   = actionBase + "MoveItem"
	ActionFindItem   = actionBase + "FindItem"
	ActionGetItem    = actionBase + "GetItem"
)

const ewsTimeFormat = "2006-01-02T15:04:05Z"

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func escapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

// Envelope wraps an operation body in the SOAP envelope with the
// version header the target schema expects.
func Envelope(schemaVersion, inner string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString("\n<soap:Envelope xmlns:soap=\"http://schemas.xmlsoap.org/soap/envelope/\"")
	b.WriteString(" xmlns:t=\"http://schemas.microsoft.com/exchange/services/2006/types\"")
	b.WriteString(" xmlns:m=\"http://schemas.microsoft.com/exchange/services/2006/messages\">\n")
	fmt.Fprintf(&b, "<soap:Header>\n<t:RequestServerVersion Version=%q/>\n</soap:Header>\n", schemaVersion)
	b.WriteString("<soap:Body>\n")
	b.WriteString(inner)
	b.WriteString("\n</soap:Body>\n</soap:Envelope>")
	return b.String()
}

// CreateNoteRequest builds a CreateItem for a sticky note saved into the
// Notes folder.
func CreateNoteRequest(subject, body string) string {
	var b strings.Builder
	b.WriteString(`<m:CreateItem MessageDisposition="SaveOnly">` + "\n")
	fmt.Fprintf(&b, "<m:SavedItemFolderId>\n<t:DistinguishedFolderId Id=%q/>\n</m:SavedItemFolderId>\n", FolderNotes)
	b.WriteString("<m:Items>\n<t:Message>\n")
	b.WriteString("<t:ItemClass>IPM.StickyNote</t:ItemClass>\n")
	fmt.Fprintf(&b, "<t:Subject>%s</t:Subject>\n", escapeXML(subject))
	fmt.Fprintf(&b, "<t:Body BodyType=\"Text\">%s</t:Body>\n", escapeXML(body))
	b.WriteString("</t:Message>\n</m:Items>\n</m:CreateItem>")
	return b.String()
}

// CreateTaskRequest builds a CreateItem for a task. A nil due date is
// absent from the body, never emitted empty.
func CreateTaskRequest(subject, body string, dueDate *time.Time) string {
	var b strings.Builder
	b.WriteString(`<m:CreateItem MessageDisposition="SaveOnly">` + "\n")
	fmt.Fprintf(&b, "<m:SavedItemFolderId>\n<t:DistinguishedFolderId Id=%q/>\n</m:SavedItemFolderId>\n", FolderTasks)
	b.WriteString("<m:Items>\n<t:Task>\n")
	fmt.Fprintf(&b, "<t:Subject>%s</t:Subject>\n", escapeXML(subject))
	if body != "" {
		fmt.Fprintf(&b, "<t:Body BodyType=\"Text\">%s</t:Body>\n", escapeXML(body))
	}
	if dueDate != nil {
		fmt.Fprintf(&b, "<t:DueDate>%s</t:DueDate>\n", dueDate.UTC().Format(ewsTimeFormat))
	}
	b.WriteString("</t:Task>\n</m:Items>\n</m:CreateItem>")
	return b.String()
}

// UpdateNoteRequest builds an UpdateItem replacing subject and body. The
// change key must be the item's current one; the server rejects stale keys.
func UpdateNoteRequest(itemID, changeKey, subject, body string) string {
	var b strings.Builder
	b.WriteString(`<m:UpdateItem MessageDisposition="SaveOnly" ConflictResolution="AlwaysOverwrite">` + "\n")
	b.WriteString("<m:ItemChanges>\n<t:ItemChange>\n")
	fmt.Fprintf(&b, "<t:ItemId Id=%q ChangeKey=%q/>\n", escapeXML(itemID), escapeXML(changeKey))
	b.WriteString("<t:Updates>\n")
	b.WriteString("<t:SetItemField>\n<t:FieldURI FieldURI=\"item:Subject\"/>\n")
	fmt.Fprintf(&b, "<t:Message>\n<t:Subject>%s</t:Subject>\n</t:Message>\n</t:SetItemField>\n", escapeXML(subject))
	b.WriteString("<t:SetItemField>\n<t:FieldURI FieldURI=\"item:Body\"/>\n")
	fmt.Fprintf(&b, "<t:Message>\n<t:Body BodyType=\"Text\">%s</t:Body>\n</t:Message>\n</t:SetItemField>\n", escapeXML(body))
	b.WriteString("</t:Updates>\n</t:ItemChange>\n</m:ItemChanges>\n</m:UpdateItem>")
	return b.String()
}

// CompleteTaskRequest builds an UpdateItem marking a task completed.
func CompleteTaskRequest(itemID, changeKey string, completedAt time.Time) string {
	var b strings.Builder
	b.WriteString(`<m:UpdateItem MessageDisposition="SaveOnly" ConflictResolution="AlwaysOverwrite">` + "\n")
	b.WriteString("<m:ItemChanges>\n<t:ItemChange>\n")
	fmt.Fprintf(&b, "<t:ItemId Id=%q ChangeKey=%q/>\n", escapeXML(itemID), escapeXML(changeKey))
	b.WriteString("<t:Updates>\n")
	b.WriteString("<t:SetItemField>\n<t:FieldURI FieldURI=\"task:PercentComplete\"/>\n")
	b.WriteString("<t:Task>\n<t:PercentComplete>100</t:PercentComplete>\n</t:Task>\n</t:SetItemField>\n")
	b.WriteString("<t:SetItemField>\n<t:FieldURI FieldURI=\"task:CompleteDate\"/>\n")
	fmt.Fprintf(&b, "<t:Task>\n<t:CompleteDate>%s</t:CompleteDate>\n</t:Task>\n</t:SetItemField>\n", completedAt.UTC().Format(ewsTimeFormat))
	b.WriteString("</t:Updates>\n</t:ItemChange>\n</m:ItemChanges>\n</m:UpdateItem>")
	return b.String()
}

// DeleteItemRequest builds a DeleteItem. MoveToDeletedItems keeps the
// item recoverable; HardDelete skips Deleted Items entirely.
func DeleteItemRequest(itemID string, hard bool) string {
	deleteType := "MoveToDeletedItems"
	if hard {
		deleteType = "HardDelete"
	}
	return fmt.Sprintf("<m:DeleteItem DeleteType=%q>\n<m:ItemIds>\n<t:ItemId Id=%q/>\n</m:ItemIds>\n</m:DeleteItem>",
		deleteType, escapeXML(itemID))
}

// MoveItemRequest builds a MoveItem into a distinguished folder. The
// response carries the new identity the destination assigned.
func MoveItemRequest(itemID, distinguishedFolderID string) string {
	var b strings.Builder
	b.WriteString("<m:MoveItem>\n")
	fmt.Fprintf(&b, "<m:ToFolderId>\n<t:DistinguishedFolderId Id=%q/>\n</m:ToFolderId>\n", distinguishedFolderID)
	fmt.Fprintf(&b, "<m:ItemIds>\n<t:ItemId Id=%q/>\n</m:ItemIds>\n", escapeXML(itemID))
	b.WriteString("</m:MoveItem>")
	return b.String()
}

// FindItemRequest builds a shallow listing of a distinguished folder.
func FindItemRequest(distinguishedFolderID string) string {
	var b strings.Builder
	b.WriteString(`<m:FindItem Traversal="Shallow">` + "\n")
	b.WriteString("<m:ItemShape>\n<t:BaseShape>AllProperties</t:BaseShape>\n</m:ItemShape>\n")
	fmt.Fprintf(&b, "<m:ParentFolderIds>\n<t:DistinguishedFolderId Id=%q/>\n</m:ParentFolderIds>\n", distinguishedFolderID)
	b.WriteString("</m:FindItem>")
	return b.String()
}

// GetItemRequest builds a GetItem used to resolve an item's current
// change key before an update.
func GetItemRequest(itemID string) string {
	var b strings.Builder
	b.WriteString("<m:GetItem>\n")
	b.WriteString("<m:ItemShape>\n<t:BaseShape>IdOnly</t:BaseShape>\n</m:ItemShape>\n")
	fmt.Fprintf(&b, "<m:ItemIds>\n<t:ItemId Id=%q/>\n</m:ItemIds>\n", escapeXML(itemID))
	b.WriteString("</m:GetItem>")
	return b.String()
}
