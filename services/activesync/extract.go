package activesync

import (
	"strconv"
	"strings"
)

// Responses are not reliably well-formed across server generations, so
// extraction is tag-scanning rather than strict XML decoding. Absence of
// a tag is a normal outcome, never an error.

var xmlUnescaper = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

// UnescapeXML reverses EscapeXML on extracted values.
func UnescapeXML(s string) string {
	return xmlUnescaper.Replace(s)
}

// ExtractTag returns the inner content of the first occurrence of the
// tag, tolerating namespace prefixes (<ns:Tag>) and attributes. The
// second return is false when the tag is absent. Self-closing tags
// report present with empty content.
func ExtractTag(body, tag string) (string, bool) {
	blocks := extractOccurrences(body, tag, 1)
	if len(blocks) == 0 {
		return "", false
	}
	return blocks[0], true
}

// ExtractAllTags returns the inner content of every occurrence of the tag.
func ExtractAllTags(body, tag string) []string {
	return extractOccurrences(body, tag, -1)
}

// extractOccurrences scans for up to max occurrences (-1 = all) of the
// tag regardless of namespace prefix.
func extractOccurrences(body, tag string, max int) []string {
	var out []string
	pos := 0
	for max < 0 || len(out) < max {
		start, contentStart, selfClosed := findOpenTag(body, tag, pos)
		if start < 0 {
			break
		}
		if selfClosed {
			out = append(out, "")
			pos = contentStart
			continue
		}
		contentEnd := findCloseTag(body, tag, contentStart)
		if contentEnd < 0 {
			// Unterminated tag: take the remainder rather than failing.
			out = append(out, body[contentStart:])
			break
		}
		out = append(out, body[contentStart:contentEnd])
		pos = contentEnd
	}
	return out
}

// findOpenTag locates "<Tag", "<ns:Tag" or a self-closed variant at or
// after pos. Returns the tag start, the index where content begins (or
// scanning should resume) and whether the tag was self-closing.
func findOpenTag(body, tag string, pos int) (start, contentStart int, selfClosed bool) {
	for i := pos; i < len(body); i++ {
		if body[i] != '<' {
			continue
		}
		j := i + 1
		if j < len(body) && (body[j] == '/' || body[j] == '?' || body[j] == '!') {
			continue
		}
		// read the qualified name
		nameEnd := j
		for nameEnd < len(body) && !isNameDelim(body[nameEnd]) {
			nameEnd++
		}
		if nameEnd >= len(body) {
			return -1, 0, false
		}
		name := body[j:nameEnd]
		if colon := strings.LastIndexByte(name, ':'); colon >= 0 {
			name = name[colon+1:]
		}
		if name != tag {
			continue
		}
		// skip attributes to the closing '>'
		gt := strings.IndexByte(body[nameEnd:], '>')
		if gt < 0 {
			return -1, 0, false
		}
		end := nameEnd + gt
		if end > i && body[end-1] == '/' {
			return i, end + 1, true
		}
		return i, end + 1, false
	}
	return -1, 0, false
}

// findCloseTag locates the matching close tag, honoring nesting of the
// same local name.
func findCloseTag(body, tag string, pos int) int {
	depth := 0
	for i := pos; i < len(body); i++ {
		if body[i] != '<' {
			continue
		}
		closing := i+1 < len(body) && body[i+1] == '/'
		j := i + 1
		if closing {
			j++
		}
		nameEnd := j
		for nameEnd < len(body) && !isNameDelim(body[nameEnd]) {
			nameEnd++
		}
		name := body[j:nameEnd]
		if colon := strings.LastIndexByte(name, ':'); colon >= 0 {
			name = name[colon+1:]
		}
		if name != tag {
			continue
		}
		gt := strings.IndexByte(body[i:], '>')
		if gt < 0 {
			return -1
		}
		if closing {
			if depth == 0 {
				return i
			}
			depth--
		} else if body[i+gt-1] != '/' {
			depth++
		}
		i += gt
	}
	return -1
}

func isNameDelim(c byte) bool {
	return c == ' ' || c == '>' || c == '/' || c == '\t' || c == '\r' || c == '\n'
}

// ExtractStatus pulls the first numeric Status within the block.
func ExtractStatus(block string) (int, bool) {
	raw, ok := ExtractTag(block, "Status")
	if !ok {
		return 0, false
	}
	status, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	return status, true
}

// FolderInfo is one folder entry from a FolderSync response.
type FolderInfo struct {
	ServerID    string
	ParentID    string
	DisplayName string
	Type        int
}

// FolderSyncResult is a parsed FolderSync response.
type FolderSyncResult struct {
	Status  int
	SyncKey string
	Added   []FolderInfo
	Deleted []string
}

// ParseFolderSync parses the folder hierarchy response.
func ParseFolderSync(body string) FolderSyncResult {
	result := FolderSyncResult{}
	result.Status, _ = ExtractStatus(body)
	result.SyncKey, _ = ExtractTag(body, "SyncKey")

	changes, ok := ExtractTag(body, "Changes")
	if !ok {
		return result
	}
	for _, block := range ExtractAllTags(changes, "Add") {
		result.Added = append(result.Added, parseFolderInfo(block))
	}
	for _, block := range ExtractAllTags(changes, "Update") {
		result.Added = append(result.Added, parseFolderInfo(block))
	}
	for _, block := range ExtractAllTags(changes, "Delete") {
		if id, ok := ExtractTag(block, "ServerId"); ok {
			result.Deleted = append(result.Deleted, UnescapeXML(id))
		}
	}
	return result
}

func parseFolderInfo(block string) FolderInfo {
	info := FolderInfo{}
	if v, ok := ExtractTag(block, "ServerId"); ok {
		info.ServerID = UnescapeXML(v)
	}
	if v, ok := ExtractTag(block, "ParentId"); ok {
		info.ParentID = UnescapeXML(v)
	}
	if v, ok := ExtractTag(block, "DisplayName"); ok {
		info.DisplayName = UnescapeXML(v)
	}
	if v, ok := ExtractTag(block, "Type"); ok {
		info.Type, _ = strconv.Atoi(strings.TrimSpace(v))
	}
	return info
}

// CommandItem is one Add/Change/Fetch block from a Sync response.
type CommandItem struct {
	ServerID string
	ClientID string
	Status   int
	Data     string
}

// SyncResponse is a parsed incremental Sync response for one collection.
type SyncResponse struct {
	Status       int
	SyncKey      string
	CollectionID string
	// server-initiated changes
	Adds    []CommandItem
	Changes []CommandItem
	Deletes []string
	// echoes of client-initiated commands
	AddResponses    []CommandItem
	ChangeResponses []CommandItem
	FetchResponses  []CommandItem
	MoreAvailable   bool
}

// ParseSyncResponse parses one Sync response body.
func ParseSyncResponse(body string) SyncResponse {
	result := SyncResponse{}

	collection, ok := ExtractTag(body, "Collection")
	if !ok {
		// Some servers answer an expired key with a bare top-level status.
		result.Status, _ = ExtractStatus(body)
		return result
	}

	result.Status, _ = ExtractStatus(collection)
	if v, ok := ExtractTag(collection, "SyncKey"); ok {
		result.SyncKey = UnescapeXML(v)
	}
	if v, ok := ExtractTag(collection, "CollectionId"); ok {
		result.CollectionID = UnescapeXML(v)
	}
	_, result.MoreAvailable = ExtractTag(collection, "MoreAvailable")

	if commands, ok := ExtractTag(collection, "Commands"); ok {
		for _, block := range ExtractAllTags(commands, "Add") {
			result.Adds = append(result.Adds, parseCommandItem(block))
		}
		for _, block := range ExtractAllTags(commands, "Change") {
			result.Changes = append(result.Changes, parseCommandItem(block))
		}
		for _, block := range ExtractAllTags(commands, "Delete") {
			if id, ok := ExtractTag(block, "ServerId"); ok {
				result.Deletes = append(result.Deletes, UnescapeXML(id))
			}
		}
		for _, block := range ExtractAllTags(commands, "SoftDelete") {
			if id, ok := ExtractTag(block, "ServerId"); ok {
				result.Deletes = append(result.Deletes, UnescapeXML(id))
			}
		}
	}

	if responses, ok := ExtractTag(collection, "Responses"); ok {
		for _, block := range ExtractAllTags(responses, "Add") {
			result.AddResponses = append(result.AddResponses, parseCommandItem(block))
		}
		for _, block := range ExtractAllTags(responses, "Change") {
			result.ChangeResponses = append(result.ChangeResponses, parseCommandItem(block))
		}
		for _, block := range ExtractAllTags(responses, "Fetch") {
			result.FetchResponses = append(result.FetchResponses, parseCommandItem(block))
		}
	}

	return result
}

func parseCommandItem(block string) CommandItem {
	item := CommandItem{}
	if v, ok := ExtractTag(block, "ServerId"); ok {
		item.ServerID = UnescapeXML(v)
	}
	if v, ok := ExtractTag(block, "ClientId"); ok {
		item.ClientID = UnescapeXML(v)
	}
	item.Status, _ = ExtractStatus(block)
	if v, ok := ExtractTag(block, "ApplicationData"); ok {
		item.Data = v
	}
	return item
}

// MoveResponse is one per-item outcome of a MoveItems request. Responses
// arrive unordered relative to the request; SrcMsgID is the correlation.
type MoveResponse struct {
	SrcMsgID string
	DstMsgID string
	Status   int
}

// ParseMoveResponse parses a MoveItems response.
func ParseMoveResponse(body string) []MoveResponse {
	var out []MoveResponse
	for _, block := range ExtractAllTags(body, "Response") {
		r := MoveResponse{}
		if v, ok := ExtractTag(block, "SrcMsgId"); ok {
			r.SrcMsgID = UnescapeXML(v)
		}
		if v, ok := ExtractTag(block, "DstMsgId"); ok {
			r.DstMsgID = UnescapeXML(v)
		}
		r.Status, _ = ExtractStatus(block)
		out = append(out, r)
	}
	return out
}

// SearchResult is one Result block of a Search response, with its
// Properties left raw for the caller to pick fields from.
type SearchResult struct {
	Properties string
	ServerID   string
	FolderID   string
}

// ParseSearchResponse parses a Search response.
func ParseSearchResponse(body string) (status int, results []SearchResult) {
	status, _ = ExtractStatus(body)
	for _, block := range ExtractAllTags(body, "Result") {
		r := SearchResult{}
		if v, ok := ExtractTag(block, "Properties"); ok {
			r.Properties = v
		}
		if v, ok := ExtractTag(block, "LongId"); ok {
			r.ServerID = UnescapeXML(v)
		}
		if v, ok := ExtractTag(block, "CollectionId"); ok {
			r.FolderID = UnescapeXML(v)
		}
		if r.Properties == "" && r.ServerID == "" {
			continue
		}
		results = append(results, r)
	}
	return status, results
}
