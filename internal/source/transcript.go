package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"time"

	"github.com/theirongolddev/hegelpm/internal/model"
)

// TranscriptUsage is the deduplicated token usage of one transcript file.
type TranscriptUsage struct {
	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64
	APICalls            int
	ParseErrors         int
	// Calls holds each deduplicated API call, for attribution by time.
	Calls []APICall
}

// APICall is the final usage reported for one message id.
type APICall struct {
	At    time.Time
	Usage model.PhaseMetrics
}

// Total returns the sum of all token buckets.
func (u TranscriptUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheCreationTokens + u.CacheReadTokens
}

// ParseTranscript reads a Claude Code JSONL transcript and sums the token
// usage of its assistant messages. Streaming responses repeat a message id
// with growing usage, so only the last entry per message.id counts.
//
// Only lines whose top-level "type" is "assistant" are fully decoded; the
// type is located with a byte scan so other lines cost almost nothing.
func ParseTranscript(path string) (TranscriptUsage, error) {
	f, err := os.Open(path)
	if err != nil {
		return TranscriptUsage{}, err
	}
	defer func() { _ = f.Close() }()

	type call struct {
		at    string
		usage rawUsage
	}
	calls := make(map[string]call)
	var parseErrors int

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 2*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if extractTopLevelType(line) != "assistant" {
			continue
		}

		var entry rawEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			parseErrors++
			continue
		}
		if entry.Message == nil || entry.Message.ID == "" || entry.Message.Usage == nil {
			continue
		}
		calls[entry.Message.ID] = call{at: entry.Timestamp, usage: *entry.Message.Usage}
	}
	if err := scanner.Err(); err != nil {
		return TranscriptUsage{}, err
	}

	usage := TranscriptUsage{APICalls: len(calls), ParseErrors: parseErrors, Calls: make([]APICall, 0, len(calls))}
	for _, c := range calls {
		u := c.usage
		usage.InputTokens += u.InputTokens
		usage.OutputTokens += u.OutputTokens
		usage.CacheCreationTokens += u.CacheCreationInputTokens
		usage.CacheReadTokens += u.CacheReadInputTokens

		at, _ := time.Parse(time.RFC3339Nano, c.at)
		usage.Calls = append(usage.Calls, APICall{At: at, Usage: model.PhaseMetrics{
			InputTokens:         u.InputTokens,
			OutputTokens:        u.OutputTokens,
			CacheCreationTokens: u.CacheCreationInputTokens,
			CacheReadTokens:     u.CacheReadInputTokens,
			TotalTokens:         u.InputTokens + u.OutputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens,
		}})
	}
	return usage, nil
}

var typeKey = []byte(`"type"`)

// extractTopLevelType finds the value of the top-level "type" key.
// Nested "type" keys are ignored by tracking brace depth and string bounds.
func extractTopLevelType(line []byte) string {
	depth := 0
	for i := 0; i < len(line); {
		switch line[i] {
		case '"':
			if depth == 1 && bytes.HasPrefix(line[i:], typeKey) {
				if val, isKey := typeValue(line, i+len(typeKey)); isKey {
					return val
				}
			}
			i = skipJSONString(line, i)
		case '{':
			depth++
			i++
		case '}':
			depth--
			i++
		default:
			i++
		}
	}
	return ""
}

// typeValue reads the string following a "type" token. isKey is false when
// the token was itself a value rather than a key.
func typeValue(line []byte, pos int) (val string, isKey bool) {
	i := skipSpaces(line, pos)
	if i >= len(line) || line[i] != ':' {
		return "", false
	}
	i = skipSpaces(line, i+1)
	if i >= len(line) || line[i] != '"' {
		return "", true
	}
	i++

	end := bytes.IndexByte(line[i:], '"')
	if end < 0 || end > 20 {
		return "", true
	}
	return string(line[i : i+end]), true
}

//nolint:gosec // manual bounds checking throughout
func skipJSONString(line []byte, i int) int {
	i++
	for i < len(line) {
		switch line[i] {
		case '\\':
			i += 2
		case '"':
			return i + 1
		default:
			i++
		}
	}
	return i
}

func skipSpaces(line []byte, i int) int {
	for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
		i++
	}
	return i
}
