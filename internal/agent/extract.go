package agent

import (
	"regexp"
	"strings"
)

var (
	selectKeyword = regexp.MustCompile(`(?i)\bselect\b`)
	fenceTagLine  = regexp.MustCompile(`^[A-Za-z0-9_+-]+$`)
)

// extractJSON pulls a JSON object out of a model reply: a ```json fence, a plain fence
// holding an object, or the outermost braces.
func extractJSON(response string) string {
	if block, ok := fencedBlock(response, "```json"); ok {
		return block
	}
	if block, ok := fencedBlock(response, "```"); ok && strings.HasPrefix(block, "{") {
		return block
	}
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start >= 0 && end > start {
		return response[start : end+1]
	}
	return strings.TrimSpace(response)
}

// extractSQL pulls a statement out of a correction reply. It tries a ```sql fence, then a
// plain fence (dropping a language tag line), then a bare SELECT up to the first semicolon,
// and finally the whole trimmed reply.
func extractSQL(response string) string {
	if block, ok := fencedBlock(response, "```sql"); ok && block != "" {
		return block
	}
	if block, ok := fencedBlock(response, "```"); ok {
		if newline := strings.IndexByte(block, '\n'); newline >= 0 {
			first := strings.TrimSpace(block[:newline])
			if fenceTagLine.MatchString(first) && !isStatementKeyword(first) {
				return strings.TrimSpace(block[newline:])
			}
		}
		return block
	}
	if loc := selectKeyword.FindStringIndex(response); loc != nil {
		statement := response[loc[0]:]
		if end := strings.IndexByte(statement, ';'); end >= 0 {
			statement = statement[:end]
		}
		return strings.TrimSpace(statement)
	}
	return strings.TrimSpace(response)
}

func fencedBlock(response, opener string) (string, bool) {
	start := strings.Index(response, opener)
	if start < 0 {
		return "", false
	}
	body := response[start+len(opener):]
	end := strings.Index(body, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(body[:end]), true
}

func isStatementKeyword(word string) bool {
	switch strings.ToUpper(word) {
	case "SELECT", "WITH":
		return true
	default:
		return false
	}
}
