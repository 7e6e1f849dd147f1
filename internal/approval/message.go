package approval

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/provtools/userbot/internal/faults"
	"github.com/provtools/userbot/internal/teamname"
)

// Marker strings open every bot-authored comment that carries a structured
// payload. The version tag is part of the protocol: a parser for v2 must
// reject payloads behind any other version rather than misread them.
const (
	markerVersion = "v2"

	// RequestMarker prefixes approval-request comments.
	RequestMarker = "[userbot:approval-request:" + markerVersion + "]"

	// ReportMarker prefixes final-report comments.
	ReportMarker = "[userbot:final-report:" + markerVersion + "]"
)

var (
	anyRequestMarker = regexp.MustCompile(`\[userbot:approval-request:v(\d+)\]`)
	codeBlockRe      = regexp.MustCompile(`(?s)\{code(?::[^}]*)?\}(.*?)\{code\}`)
	fenceBlockRe     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
)

// ErrStaleMarker reports a request comment written by an older payload
// version. It is never treated as a current request.
var ErrStaleMarker = fmt.Errorf("%w: approval-request marker from a different version", faults.ErrIntegrity)

// RenderMessage produces the approval-request comment body: the marker, a
// human-readable summary, the split warning section when any team name was
// judged ambiguous, and the serialized request in a recoverable fenced block.
func RenderMessage(req Request, analyses []teamname.Analysis, extra map[string]string) (string, error) {
	payload, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal approval request: %w", err)
	}

	var b strings.Builder
	b.WriteString(RequestMarker)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Approval needed before uploading to tenant *%s*.\n\n", req.Tenant)
	fmt.Fprintf(&b, "* Users to create: %d\n", req.UserCount)
	fmt.Fprintf(&b, "* Teams referenced: %d\n", req.TeamCount)
	fmt.Fprintf(&b, "* Files reviewed: %d\n", len(req.Attachments))
	for _, att := range req.Attachments {
		fmt.Fprintf(&b, "** %s (%s, %d bytes)\n", att.Filename, att.ShortHash(), att.SizeBytes)
	}

	if len(req.ColumnMapping) > 0 {
		b.WriteString("\nColumn mapping applied:\n")
		froms := make([]string, 0, len(req.ColumnMapping))
		for from := range req.ColumnMapping {
			froms = append(froms, from)
		}
		sort.Strings(froms)
		for _, from := range froms {
			fmt.Fprintf(&b, "* %q -> %q\n", from, req.ColumnMapping[from])
		}
	}

	if len(extra) > 0 {
		b.WriteString("\n")
		keys := make([]string, 0, len(extra))
		for k := range extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "* %s: %s\n", k, extra[k])
		}
	}

	writeSplitWarnings(&b, analyses)

	b.WriteString("\nReply *approved* to proceed. Any change to the attached files invalidates this request.\n")
	b.WriteString("\n{code:json}\n")
	b.Write(payload)
	b.WriteString("\n{code}\n")
	return b.String(), nil
}

func writeSplitWarnings(b *strings.Builder, analyses []teamname.Analysis) {
	var ambiguous []teamname.Analysis
	for _, a := range analyses {
		if a.Ambiguous {
			ambiguous = append(ambiguous, a)
		}
	}
	if len(ambiguous) == 0 {
		return
	}

	b.WriteString("\n---- TEAM NAME SPLITS ----\n")
	fmt.Fprintf(b, "%d team name(s) contained whitespace and will be split:\n", len(ambiguous))
	for _, a := range ambiguous {
		fmt.Fprintf(b, "* %q -> %s (confidence: %s; %s)\n",
			a.RawName, strings.Join(a.Candidates, " | "), a.Confidence, a.Reason)
	}
	b.WriteString("If a split is wrong, edit the source file and use | to separate teams explicitly, then re-attach.\n")
	b.WriteString("--------------------------\n")
}

// ParseEmbedded recovers the request payload embedded by RenderMessage. It
// tolerates the ticket system re-serializing the surrounding rich text: the
// payload is searched for in {code} blocks, backtick fences, and finally as a
// balanced JSON object following the marker. A marker from a different
// version yields ErrStaleMarker; a missing marker yields faults.ErrNotFound.
func ParseEmbedded(text string) (Request, error) {
	idx := strings.Index(text, RequestMarker)
	if idx < 0 {
		if anyRequestMarker.MatchString(text) {
			return Request{}, ErrStaleMarker
		}
		return Request{}, fmt.Errorf("%w: no approval-request marker", faults.ErrNotFound)
	}

	payload, ok := extractPayload(text[idx+len(RequestMarker):])
	if !ok {
		return Request{}, faults.Integrityf("approval request has no recoverable payload")
	}

	var req Request
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return Request{}, faults.Integrityf("approval request payload unparseable: %v", err)
	}
	if req.TicketKey == "" {
		return Request{}, faults.Integrityf("approval request payload missing ticket key")
	}
	return req, nil
}

func extractPayload(text string) (string, bool) {
	if m := codeBlockRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	if m := fenceBlockRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	// Last resort: the first balanced JSON object in the remaining text.
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		if obj, ok := balancedObject(text[i:]); ok {
			return obj, true
		}
	}
	return "", false
}

// balancedObject returns the shortest balanced {...} prefix of s, tracking
// quoted strings so braces inside values are not counted.
func balancedObject(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := s[:i+1]
				if json.Valid([]byte(candidate)) {
					return candidate, true
				}
				return "", false
			}
		}
	}
	return "", false
}
