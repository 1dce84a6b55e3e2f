package llm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/agentup/agentup/pkg/logger"
)

// functionCallMarker is the line prefix of the prompt-based calling grammar.
const functionCallMarker = "FUNCTION_CALL:"

var functionCallPattern = regexp.MustCompile(`^(\w+)\((.*)\)$`)

// injectFunctionPrompt prepends (or extends) a system message describing the
// available functions and the FUNCTION_CALL grammar.
func injectFunctionPrompt(messages []ChatMessage, functions []FunctionDef) []ChatMessage {
	var sb strings.Builder
	sb.WriteString("Available functions:\n")
	for _, fn := range functions {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", fn.Name, fn.Description))
		if props, ok := fn.Parameters["properties"].(map[string]any); ok && len(props) > 0 {
			var params []string
			for name, info := range props {
				typ, desc := "any", ""
				if m, ok := info.(map[string]any); ok {
					if t, ok := m["type"].(string); ok {
						typ = t
					}
					if d, ok := m["description"].(string); ok {
						desc = d
					}
				}
				params = append(params, fmt.Sprintf("%s (%s): %s", name, typ, desc))
			}
			sb.WriteString("  Parameters: " + strings.Join(params, ", ") + "\n")
		}
	}
	sb.WriteString("\nTo use a function, respond with:\n")
	sb.WriteString(`FUNCTION_CALL: function_name(param1="value1", param2="value2")`)
	sb.WriteString("\n\nYou can call multiple functions by using multiple FUNCTION_CALL lines.\n")
	sb.WriteString("After function calls, provide a natural response based on the results.")
	prompt := sb.String()

	enhanced := make([]ChatMessage, len(messages))
	copy(enhanced, messages)
	if len(enhanced) > 0 && enhanced[0].Role == "system" {
		enhanced[0].Content += "\n\n" + prompt
		return enhanced
	}
	return append([]ChatMessage{{Role: "system", Content: prompt}}, enhanced...)
}

// ParseFunctionCalls scans a completion line by line for the FUNCTION_CALL
// grammar and synthesizes function calls. Malformed lines are logged and
// treated as plain text.
func ParseFunctionCalls(content string) []FunctionCall {
	log := logger.WithComponent("llm")

	var calls []FunctionCall
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, functionCallMarker) {
			continue
		}
		raw := strings.TrimSpace(strings.TrimPrefix(line, functionCallMarker))

		match := functionCallPattern.FindStringSubmatch(raw)
		if match == nil {
			log.Warn("failed to parse function call", "line", raw)
			continue
		}

		args, err := parseArguments(match[2])
		if err != nil {
			log.Warn("failed to parse function call arguments", "line", raw, "error", err)
			continue
		}

		calls = append(calls, FunctionCall{Name: match[1], Arguments: args})
	}
	return calls
}

// parseArguments tokenizes `key="value", n=3, flag=true`. Quoted values may
// contain escaped quotes and commas; bare values are typed as bool, int, or
// float when they parse as such.
func parseArguments(s string) (map[string]any, error) {
	args := make(map[string]any)
	i := 0
	n := len(s)

	skipSpace := func() {
		for i < n && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
	}

	for {
		skipSpace()
		if i >= n {
			return args, nil
		}

		start := i
		for i < n && s[i] != '=' {
			i++
		}
		if i >= n {
			return nil, fmt.Errorf("expected '=' after %q", strings.TrimSpace(s[start:]))
		}
		key := strings.TrimSpace(s[start:i])
		if key == "" {
			return nil, fmt.Errorf("empty parameter name")
		}
		i++ // consume '='
		skipSpace()

		var value any
		if i < n && s[i] == '"' {
			i++
			var sb strings.Builder
			closed := false
			for i < n {
				c := s[i]
				if c == '\\' && i+1 < n {
					next := s[i+1]
					if next == '"' || next == '\\' {
						sb.WriteByte(next)
						i += 2
						continue
					}
				}
				if c == '"' {
					closed = true
					i++
					break
				}
				sb.WriteByte(c)
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string for parameter %q", key)
			}
			value = sb.String()
		} else {
			start = i
			for i < n && s[i] != ',' {
				i++
			}
			value = typeBareValue(strings.TrimSpace(s[start:i]))
		}

		args[key] = value

		skipSpace()
		if i >= n {
			return args, nil
		}
		if s[i] != ',' {
			return nil, fmt.Errorf("expected ',' after parameter %q", key)
		}
		i++
	}
}

func typeBareValue(v string) any {
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	case "null", "none":
		return nil
	}
	if intVal, err := strconv.Atoi(v); err == nil {
		return intVal
	}
	if floatVal, err := strconv.ParseFloat(v, 64); err == nil {
		return floatVal
	}
	return v
}
