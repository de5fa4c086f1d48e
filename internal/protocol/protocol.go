// Package protocol is the human-legible coordination grammar agents exchange over the bus:
//
//	[NEED] <kind>
//	[CAN_PROVIDE] <items> steps=<n> [need=<kind>]
//	[ACCEPT_PROVIDER] <providerId> [need=<kind>]
//	[PROVIDE_AT] <x,y,z> items=<items> [need=<kind>]
//	[NEED_FULFILLED] <kind>
//
// Items are written "2xoak_planks,2xstick". The need= suffix names the request a reply
// belongs to; it may be omitted when the requester has a single open request.
package protocol

import (
	"strconv"
	"strings"

	"agentcraft.ai/internal/agent/ports"
)

const Version = "1.0"

// Message tags.
const (
	TagNeed           = "NEED"
	TagCanProvide     = "CAN_PROVIDE"
	TagAcceptProvider = "ACCEPT_PROVIDER"
	TagProvideAt      = "PROVIDE_AT"
	TagNeedFulfilled  = "NEED_FULFILLED"
)

// Message is one parsed coordination line. Which fields are set depends on Tag.
type Message struct {
	Tag        string            `json:"tag"`
	Kind       string            `json:"kind,omitempty"`
	Items      []ports.ItemCount `json:"items,omitempty"`
	Steps      int               `json:"steps,omitempty"`
	ProviderID string            `json:"provider_id,omitempty"`
	Pos        ports.Vec3        `json:"pos"`
}

// IsCoordination reports whether line looks like a coordination message at all. Other
// lines on the channel are chatter and are ignored without a warning.
func IsCoordination(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "[")
}

// Parse reads one coordination line. Errors wrap ErrMalformed and carry a code.
func Parse(line string) (Message, error) {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, "[") {
		return Message{}, reject(CodeBadLine, line, "missing tag")
	}
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return Message{}, reject(CodeBadLine, line, "unterminated tag")
	}
	tag := s[1:end]
	fields := strings.Fields(s[end+1:])

	args, opts, err := splitOptions(line, fields)
	if err != nil {
		return Message{}, err
	}
	m := Message{Tag: tag}
	switch tag {
	case TagNeed, TagNeedFulfilled:
		if len(args) != 1 || len(opts) != 0 {
			return Message{}, reject(CodeBadLine, line, "want exactly one kind")
		}
		if !validToken(args[0]) {
			return Message{}, reject(CodeBadKind, line, "bad kind %q", args[0])
		}
		m.Kind = args[0]
		return m, nil

	case TagCanProvide:
		if len(args) != 1 {
			return Message{}, reject(CodeBadLine, line, "want one item list")
		}
		items, err := ports.ParseItems(args[0])
		if err != nil || len(items) == 0 {
			return Message{}, reject(CodeBadItems, line, "bad items %q", args[0])
		}
		m.Items = items
		raw, ok := opts["steps"]
		if !ok {
			return Message{}, reject(CodeBadSteps, line, "missing steps")
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Message{}, reject(CodeBadSteps, line, "bad steps %q", raw)
		}
		m.Steps = n

	case TagAcceptProvider:
		if len(args) != 1 || !validToken(args[0]) {
			return Message{}, reject(CodeBadLine, line, "want one provider id")
		}
		m.ProviderID = args[0]

	case TagProvideAt:
		if len(args) != 1 {
			return Message{}, reject(CodeBadPos, line, "want one position")
		}
		pos, err := ports.ParseVec3(args[0])
		if err != nil {
			return Message{}, reject(CodeBadPos, line, "%v", err)
		}
		m.Pos = pos
		items, err := ports.ParseItems(opts["items"])
		if err != nil || len(items) == 0 {
			return Message{}, reject(CodeBadItems, line, "bad items %q", opts["items"])
		}
		m.Items = items

	default:
		return Message{}, reject(CodeUnknownTag, line, "unknown tag %q", tag)
	}

	if k, ok := opts["need"]; ok {
		if !validToken(k) {
			return Message{}, reject(CodeBadKind, line, "bad need %q", k)
		}
		m.Kind = k
	}
	return m, nil
}

// splitOptions separates positional arguments from key=value options.
func splitOptions(line string, fields []string) ([]string, map[string]string, error) {
	var args []string
	opts := map[string]string{}
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			if len(opts) > 0 {
				return nil, nil, reject(CodeBadLine, line, "argument %q after options", f)
			}
			args = append(args, f)
			continue
		}
		if k == "" || v == "" {
			return nil, nil, reject(CodeBadLine, line, "bad option %q", f)
		}
		if _, dup := opts[k]; dup {
			return nil, nil, reject(CodeBadLine, line, "duplicate option %q", k)
		}
		opts[k] = v
	}
	return args, opts, nil
}

func validToken(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == ':' || r == '.':
		default:
			return false
		}
	}
	return true
}

// Format renders m in the grammar. It is the inverse of Parse.
func Format(m Message) string {
	var b strings.Builder
	b.WriteString("[" + m.Tag + "]")
	switch m.Tag {
	case TagNeed, TagNeedFulfilled:
		b.WriteString(" " + m.Kind)
		return b.String()
	case TagCanProvide:
		b.WriteString(" " + ports.FormatItems(m.Items))
		b.WriteString(" steps=" + strconv.Itoa(m.Steps))
	case TagAcceptProvider:
		b.WriteString(" " + m.ProviderID)
	case TagProvideAt:
		b.WriteString(" " + m.Pos.String())
		b.WriteString(" items=" + ports.FormatItems(m.Items))
	}
	if m.Kind != "" {
		b.WriteString(" need=" + m.Kind)
	}
	return b.String()
}
