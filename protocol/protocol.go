// Package protocol parses the model's free-text reply into a
// (thought, tool name, tool args) triplet. Models drift from the wire
// format constantly, so parsing is layered: label canonicalization,
// ordering checks, then a decode chain for the argument payload that
// falls back from strict JSON to a relaxed literal form to positional
// regex recovery. Errors are never swallowed into an empty call.
package protocol

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"patchloop/fault"
)

const (
	labelThought  = "next_thought:"
	labelToolName = "next_tool_name:"
	labelToolArgs = "next_tool_args:"
	labelObserved = "observation:"
)

// Triplet is one parsed model reply. Names and Args are parallel: one
// argument object per tool name.
type Triplet struct {
	Thought string
	Names   []string
	Args    []map[string]any
}

// Single returns the name and args of the common one-tool case.
func (t Triplet) Single() (string, map[string]any) {
	if len(t.Names) == 0 {
		return "", nil
	}
	return t.Names[0], t.Args[0]
}

var (
	quotedThought  = regexp.MustCompile(`['"]*next_thought['"]*:`)
	quotedToolName = regexp.MustCompile(`['"]*next_tool_name['"]*:`)
	quotedToolArgs = regexp.MustCompile(`['"]*next_tool_args['"]*:`)
	quotedObserved = regexp.MustCompile(`['"]*observation['"]*:`)
)

// sanitize canonicalizes quoted label variants and, when the thought
// label is missing but the other two are present in order past the
// start of the text, prefixes one rather than rejecting the reply.
func sanitize(text string) string {
	text = quotedThought.ReplaceAllString(text, labelThought)
	text = quotedToolName.ReplaceAllString(text, labelToolName)
	text = quotedToolArgs.ReplaceAllString(text, labelToolArgs)
	text = quotedObserved.ReplaceAllString(text, labelObserved)

	nameAt := strings.Index(text, labelToolName)
	argsAt := strings.Index(text, labelToolArgs)
	if !strings.Contains(text, "next_thought") && nameAt >= 0 && argsAt >= 0 && nameAt < argsAt && nameAt > 10 {
		text = labelThought + " " + text
	}
	return text
}

// Parse extracts the triplet from a raw model reply. requiredParams
// reports the declared required parameters of a tool, in order; it is
// consulted only by the last-resort positional recovery and may be nil.
func Parse(raw string, requiredParams func(tool string) []string) (Triplet, error) {
	text := strings.TrimSpace(raw)
	// The model sometimes continues past its own turn and hallucinates
	// an observation. Everything after that label is discarded.
	if i := strings.Index(text, labelObserved); i >= 0 {
		text = text[:i]
	}
	text = sanitize(strings.TrimSpace(text))

	thoughtAt := strings.Index(text, labelThought)
	nameAt := strings.Index(text, labelToolName)
	argsAt := strings.Index(text, labelToolArgs)

	switch {
	case thoughtAt < 0:
		return Triplet{}, fault.New(fault.InvalidResponse, "next_thought not found")
	case nameAt < 0:
		return Triplet{}, fault.New(fault.InvalidResponse, "next_tool_name not found")
	case argsAt < 0:
		return Triplet{}, fault.New(fault.InvalidResponse, "next_tool_args not found")
	case thoughtAt > nameAt:
		return Triplet{}, fault.New(fault.InvalidResponse, "next_thought appears after next_tool_name")
	case nameAt > argsAt:
		return Triplet{}, fault.New(fault.InvalidResponse, "next_tool_name appears after next_tool_args")
	}

	thought := strings.TrimSpace(text[thoughtAt+len(labelThought) : nameAt])
	nameRaw := strings.TrimSpace(text[nameAt+len(labelToolName) : argsAt])
	nameRaw = strings.TrimSpace(strings.Trim(nameRaw, `'"`))
	argsRaw := text[argsAt+len(labelToolArgs):]
	// A second triplet in the same reply is model runoff, not input.
	if i := strings.Index(argsRaw, labelThought); i >= 0 {
		argsRaw = argsRaw[:i]
	}
	argsRaw = strings.TrimSpace(argsRaw)

	names, err := parseNames(nameRaw)
	if err != nil {
		return Triplet{}, err
	}

	args, err := parseArgs(names, argsRaw, requiredParams)
	if err != nil {
		return Triplet{}, err
	}

	return Triplet{Thought: thought, Names: names, Args: args}, nil
}

// parseNames accepts either a bare tool name or a JSON array of names.
func parseNames(raw string) ([]string, error) {
	if !strings.HasPrefix(raw, "[") {
		return []string{raw}, nil
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		relaxed, rerr := decodeRelaxed(raw)
		if rerr != nil {
			return nil, fault.New(fault.InvalidResponse, "invalid tool name list: %s", raw)
		}
		list, ok := relaxed.([]any)
		if !ok {
			return nil, fault.New(fault.InvalidResponse, "invalid tool name list: %s", raw)
		}
		for _, v := range list {
			s, ok := v.(string)
			if !ok {
				return nil, fault.New(fault.InvalidResponse, "invalid tool name list: %s", raw)
			}
			names = append(names, s)
		}
	}
	if len(names) == 0 {
		return nil, fault.New(fault.InvalidResponse, "empty tool name list")
	}
	return names, nil
}

// parseArgs runs the decode chain and shapes the result to one argument
// object per name. A single object is broadcast to every name; an array
// maps positionally and must match the name count.
func parseArgs(names []string, raw string, requiredParams func(tool string) []string) ([]map[string]any, error) {
	raw = strings.ReplaceAll(raw, "```json", "")
	raw = strings.Trim(raw, "`")
	raw = strings.TrimSpace(raw)

	decoded, err := decodeValue(raw)
	if err != nil {
		if requiredParams == nil {
			return nil, fault.New(fault.InvalidResponse, "invalid JSON in next_tool_args: %s", raw)
		}
		recovered, rerr := recoverPositional(requiredParams(names[0]), raw)
		if rerr != nil {
			return nil, fault.New(fault.InvalidResponse, "invalid JSON in next_tool_args: %s", raw)
		}
		decoded = recovered
	}

	switch v := decoded.(type) {
	case map[string]any:
		args := make([]map[string]any, len(names))
		for i := range names {
			args[i] = v
		}
		return args, nil
	case []any:
		if len(v) != len(names) {
			return nil, fault.New(fault.InvalidResponse,
				"%d tool names but %d argument objects", len(names), len(v))
		}
		args := make([]map[string]any, len(v))
		for i, e := range v {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, fault.New(fault.InvalidResponse, "argument %d is not an object: %v", i, e)
			}
			args[i] = m
		}
		return args, nil
	default:
		return nil, fault.New(fault.InvalidResponse, "next_tool_args is not an object or array: %s", raw)
	}
}

// decodeValue tries strict JSON first, then the relaxed literal form.
func decodeValue(raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v, nil
	}
	return decodeRelaxed(raw)
}

// decodeRelaxed rewrites Python-flavored literals into JSON and decodes
// the result: single-quoted strings become double-quoted, and the bare
// words True, False and None become their JSON spellings. The rewrite
// tracks string state so quoted content is never touched.
func decodeRelaxed(raw string) (any, error) {
	var out strings.Builder
	out.Grow(len(raw))

	inDouble, inSingle := false, false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case inDouble:
			out.WriteByte(c)
			if c == '\\' && i+1 < len(raw) {
				i++
				out.WriteByte(raw[i])
			} else if c == '"' {
				inDouble = false
			}
		case inSingle:
			switch c {
			case '\\':
				if i+1 < len(raw) {
					i++
					if raw[i] == '\'' {
						out.WriteByte('\'')
					} else {
						out.WriteByte('\\')
						out.WriteByte(raw[i])
					}
				}
			case '\'':
				out.WriteByte('"')
				inSingle = false
			case '"':
				out.WriteString(`\"`)
			default:
				out.WriteByte(c)
			}
		case c == '"':
			inDouble = true
			out.WriteByte(c)
		case c == '\'':
			inSingle = true
			out.WriteByte('"')
		case hasWordAt(raw, i, "True"):
			out.WriteString("true")
			i += 3
		case hasWordAt(raw, i, "False"):
			out.WriteString("false")
			i += 4
		case hasWordAt(raw, i, "None"):
			out.WriteString("null")
			i += 3
		default:
			out.WriteByte(c)
		}
	}

	var v any
	if err := json.Unmarshal([]byte(out.String()), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// hasWordAt reports whether word occurs at raw[i] as a standalone token.
func hasWordAt(raw string, i int, word string) bool {
	if !strings.HasPrefix(raw[i:], word) {
		return false
	}
	if i > 0 && isWordByte(raw[i-1]) {
		return false
	}
	end := i + len(word)
	return end >= len(raw) || !isWordByte(raw[end])
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// recoverPositional is the last resort for argument payloads whose
// string values contain unescaped quotes. It anchors on the declared
// required parameters of the tool, in order, and captures everything
// between them.
func recoverPositional(params []string, raw string) (map[string]any, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no declared parameters to anchor on")
	}

	var pattern strings.Builder
	for i, p := range params {
		pattern.WriteString(fmt.Sprintf(`"%s": (.*)`, regexp.QuoteMeta(p)))
		if i != len(params)-1 {
			pattern.WriteString(`,\s*`)
		}
	}
	re, err := regexp.Compile(`(?s)` + pattern.String())
	if err != nil {
		return nil, err
	}

	match := re.FindStringSubmatch(raw)
	if match == nil {
		return nil, fmt.Errorf("%q does not match parameter pattern %q", raw, pattern.String())
	}

	result := make(map[string]any, len(params))
	for i, p := range params {
		value := strings.TrimSpace(match[i+1])
		value = strings.TrimSuffix(value, "}")
		value = strings.TrimSpace(value)
		if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
			value = value[1 : len(value)-1]
		}
		value = strings.ReplaceAll(value, `\n`, "\n")
		result[p] = value
	}
	return result, nil
}
