package ews

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvelope_SchemaVersions(t *testing.T) {
	legacy := Envelope(SchemaVersionLegacy, "<m:FindItem/>")
	modern := Envelope(SchemaVersionModern, "<m:FindItem/>")

	assert.Contains(t, legacy, `<t:RequestServerVersion Version="Exchange2007_SP1"/>`)
	assert.Contains(t, modern, `<t:RequestServerVersion Version="Exchange2013"/>`)
	assert.Contains(t, legacy, "<m:FindItem/>")
	assert.True(t, strings.HasPrefix(legacy, `<?xml version="1.0" encoding="utf-8"?>`))
	assert.True(t, strings.HasSuffix(legacy, "</soap:Envelope>"))
}

func TestCreateNoteRequest(t *testing.T) {
	// Act
	body := CreateNoteRequest("Groceries", "milk & eggs")

	// Assert
	assert.Contains(t, body, "<t:ItemClass>IPM.StickyNote</t:ItemClass>")
	assert.Contains(t, body, `<t:DistinguishedFolderId Id="notes"/>`)
	assert.Contains(t, body, "<t:Subject>Groceries</t:Subject>")
	assert.Contains(t, body, "milk &amp; eggs")
	assert.Contains(t, body, `MessageDisposition="SaveOnly"`)
}

func TestCreateTaskRequest_OmitsNilDueDate(t *testing.T) {
	// Act
	body := CreateTaskRequest("Ship release", "", nil)

	// Assert: neither an empty DueDate nor an empty Body appears
	assert.NotContains(t, body, "DueDate")
	assert.NotContains(t, body, "t:Body")
	assert.Contains(t, body, `<t:DistinguishedFolderId Id="tasks"/>`)
}

func TestCreateTaskRequest_FormatsDueDate(t *testing.T) {
	// Arrange
	due := time.Date(2026, 3, 15, 17, 30, 0, 0, time.UTC)

	// Act
	body := CreateTaskRequest("Ship release", "cut the branch", &due)

	// Assert
	assert.Contains(t, body, "<t:DueDate>2026-03-15T17:30:00Z</t:DueDate>")
	assert.Contains(t, body, `<t:Body BodyType="Text">cut the branch</t:Body>`)
}

func TestUpdateNoteRequest_CarriesChangeKey(t *testing.T) {
	// Act
	body := UpdateNoteRequest("item1", "ck42", "New title", "new body")

	// Assert
	assert.Contains(t, body, `<t:ItemId Id="item1" ChangeKey="ck42"/>`)
	assert.Contains(t, body, `<t:FieldURI FieldURI="item:Subject"/>`)
	assert.Contains(t, body, `<t:FieldURI FieldURI="item:Body"/>`)
	assert.Contains(t, body, `ConflictResolution="AlwaysOverwrite"`)
}

func TestCompleteTaskRequest(t *testing.T) {
	// Arrange
	completed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	// Act
	body := CompleteTaskRequest("task1", "ck7", completed)

	// Assert
	assert.Contains(t, body, "<t:PercentComplete>100</t:PercentComplete>")
	assert.Contains(t, body, "<t:CompleteDate>2026-01-02T03:04:05Z</t:CompleteDate>")
	assert.Contains(t, body, `<t:ItemId Id="task1" ChangeKey="ck7"/>`)
}

func TestDeleteItemRequest_DeleteType(t *testing.T) {
	soft := DeleteItemRequest("item1", false)
	hard := DeleteItemRequest("item1", true)

	assert.Contains(t, soft, `DeleteType="MoveToDeletedItems"`)
	assert.Contains(t, hard, `DeleteType="HardDelete"`)
	assert.Equal(t, soft, strings.Replace(hard, "HardDelete", "MoveToDeletedItems", 1))
}

func TestMoveItemRequest(t *testing.T) {
	body := MoveItemRequest("item1", FolderNotes)

	assert.Contains(t, body, `<t:DistinguishedFolderId Id="notes"/>`)
	assert.Contains(t, body, `<t:ItemId Id="item1"/>`)
}

func TestFindItemRequest(t *testing.T) {
	body := FindItemRequest(FolderDeletedItems)

	assert.Contains(t, body, `Traversal="Shallow"`)
	assert.Contains(t, body, "<t:BaseShape>AllProperties</t:BaseShape>")
	assert.Contains(t, body, `<t:DistinguishedFolderId Id="deleteditems"/>`)
}

func TestGetItemRequest(t *testing.T) {
	body := GetItemRequest("item1")

	assert.Contains(t, body, "<t:BaseShape>IdOnly</t:BaseShape>")
	assert.Contains(t, body, `<t:ItemId Id="item1"/>`)
}

func TestEscapeXML(t *testing.T) {
	assert.Equal(t, "a &amp; b &lt;c&gt; &quot;d&quot; &apos;e&apos;", escapeXML(`a & b <c> "d" 'e'`))
	assert.Equal(t, "plain", escapeXML("plain"))
}
