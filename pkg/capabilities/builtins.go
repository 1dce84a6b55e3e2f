package capabilities

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/mitchellh/mapstructure"

	"github.com/agentup/agentup/pkg/a2a"
	"github.com/agentup/agentup/pkg/functions"
)

func init() {
	RegisterPlugin(&EchoPlugin{})
	RegisterPlugin(&StatusPlugin{})
	RegisterPlugin(&ListPlugin{})
}

// echoConfig is the capability config accepted by echo.
type echoConfig struct {
	Format string `mapstructure:"format"` // uppercase, lowercase, title
}

// EchoPlugin echoes the user text back, optionally reformatted. It declares
// the "echo" keyword so direct routing can pick it up.
type EchoPlugin struct{}

func (p *EchoPlugin) RegisterCapability() CapabilityInfo {
	return CapabilityInfo{
		ID:           "echo",
		Name:         "Echo",
		Version:      "1.0.0",
		Description:  "Echoes the input text back, optionally uppercased, lowercased, or title-cased",
		Tags:         []string{"builtin", "text"},
		Capabilities: []CapabilityType{CapabilityText},
		InputMode:    "text",
		OutputMode:   "text",
		PluginName:   "builtin",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"format": map[string]any{
					"type": "string",
					"enum": []any{"uppercase", "lowercase", "title"},
				},
			},
		},
	}
}

func (p *EchoPlugin) CanHandleTask(ctx context.Context, cc *CapabilityContext) float64 {
	if strings.Contains(strings.ToLower(cc.UserInput), "echo") {
		return 1.0
	}
	return 0.1
}

func (p *EchoPlugin) ExecuteCapability(ctx context.Context, cc *CapabilityContext) (*CapabilityResult, error) {
	var cfg echoConfig
	if err := mapstructure.Decode(cc.Config, &cfg); err != nil {
		return nil, fmt.Errorf("decode echo config: %w", err)
	}

	text := stripEchoKeyword(cc.UserInput)
	formatted, err := formatText(text, cfg.Format)
	if err != nil {
		return nil, err
	}

	return &CapabilityResult{Content: formatted, Success: true}, nil
}

func (p *EchoPlugin) ValidateConfig(cfg map[string]any) ValidationResult {
	var decoded echoConfig
	if err := mapstructure.Decode(cfg, &decoded); err != nil {
		return ValidationResult{Errors: []string{err.Error()}}
	}
	switch decoded.Format {
	case "", "uppercase", "lowercase", "title":
		return ValidationResult{Valid: true}
	default:
		return ValidationResult{Errors: []string{fmt.Sprintf("unknown format %q", decoded.Format)}}
	}
}

type echoParams struct {
	Text   string `json:"text" jsonschema:"description=The text to echo back"`
	Format string `json:"format,omitempty" jsonschema:"description=Optional formatting,enum=uppercase,enum=lowercase,enum=title"`
}

func (p *EchoPlugin) AIFunctions() []*functions.Function {
	return []*functions.Function{{
		Name:        "echo_text",
		Description: "Echo the given text back, optionally reformatted",
		Parameters:  schemaFor(&echoParams{}),
		Handler: func(ctx context.Context, task *a2a.Task, args map[string]any) (any, error) {
			var params echoParams
			if err := mapstructure.Decode(args, &params); err != nil {
				return nil, fmt.Errorf("decode echo arguments: %w", err)
			}
			return formatText(params.Text, params.Format)
		},
	}}
}

// stripEchoKeyword drops the routing keyword, returning the remainder with
// case preserved.
func stripEchoKeyword(input string) string {
	lower := strings.ToLower(input)
	idx := strings.Index(lower, "echo")
	if idx < 0 {
		return strings.TrimSpace(input)
	}
	rest := strings.TrimSpace(input[idx+len("echo"):])
	if rest == "" {
		return strings.TrimSpace(input)
	}
	return rest
}

func formatText(text, format string) (string, error) {
	switch format {
	case "", "none":
		return text, nil
	case "uppercase":
		return strings.ToUpper(text), nil
	case "lowercase":
		return strings.ToLower(text), nil
	case "title":
		return titleCase(text), nil
	default:
		return "", fmt.Errorf("unknown format %q", format)
	}
}

func titleCase(s string) string {
	var sb strings.Builder
	startOfWord := true
	for _, r := range s {
		if unicode.IsSpace(r) {
			startOfWord = true
			sb.WriteRune(r)
			continue
		}
		if startOfWord {
			sb.WriteRune(unicode.ToUpper(r))
			startOfWord = false
		} else {
			sb.WriteRune(unicode.ToLower(r))
		}
	}
	return sb.String()
}

// StatusPlugin reports agent liveness. It serves as the default fallback
// capability.
type StatusPlugin struct {
	svc *Services
}

func (p *StatusPlugin) RegisterCapability() CapabilityInfo {
	return CapabilityInfo{
		ID:           "status",
		Name:         "Agent Status",
		Version:      "1.0.0",
		Description:  "Reports agent name, version, and uptime",
		Tags:         []string{"builtin", "diagnostics"},
		Capabilities: []CapabilityType{CapabilityText},
		InputMode:    "text",
		OutputMode:   "text",
		PluginName:   "builtin",
	}
}

func (p *StatusPlugin) CanHandleTask(ctx context.Context, cc *CapabilityContext) float64 {
	if strings.Contains(strings.ToLower(cc.UserInput), "status") {
		return 1.0
	}
	return 0.5
}

func (p *StatusPlugin) ConfigureServices(svc *Services) {
	p.svc = svc
}

func (p *StatusPlugin) ExecuteCapability(ctx context.Context, cc *CapabilityContext) (*CapabilityResult, error) {
	status := p.HealthStatus()
	summary := "Agent is running"
	if p.svc != nil {
		summary = fmt.Sprintf("%s %s is running (up %s)",
			p.svc.AgentName, p.svc.AgentVersion, time.Since(p.svc.StartedAt).Round(time.Second))
	}
	return &CapabilityResult{
		Content: summary,
		Success: true,
		Data:    status,
	}, nil
}

func (p *StatusPlugin) HealthStatus() map[string]any {
	status := map[string]any{"status": "ok"}
	if p.svc != nil {
		status["agent"] = p.svc.AgentName
		status["version"] = p.svc.AgentVersion
		status["uptime"] = time.Since(p.svc.StartedAt).String()
		if p.svc.Functions != nil {
			status["functions"] = p.svc.Functions.Count()
		}
	}
	return status
}

func (p *StatusPlugin) AIFunctions() []*functions.Function {
	return []*functions.Function{{
		Name:        "get_agent_status",
		Description: "Report the agent's name, version, uptime, and health",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(ctx context.Context, task *a2a.Task, args map[string]any) (any, error) {
			return p.HealthStatus(), nil
		},
	}}
}

// ListPlugin lists the registered capabilities.
type ListPlugin struct {
	svc *Services
}

func (p *ListPlugin) RegisterCapability() CapabilityInfo {
	return CapabilityInfo{
		ID:           "capabilities",
		Name:         "Capability Listing",
		Version:      "1.0.0",
		Description:  "Lists registered capabilities and their status",
		Tags:         []string{"builtin", "diagnostics"},
		Capabilities: []CapabilityType{CapabilityText, CapabilityAIFunction},
		InputMode:    "text",
		OutputMode:   "text",
		PluginName:   "builtin",
	}
}

func (p *ListPlugin) CanHandleTask(ctx context.Context, cc *CapabilityContext) float64 {
	if strings.Contains(strings.ToLower(cc.UserInput), "capabilities") {
		return 1.0
	}
	return 0.1
}

func (p *ListPlugin) ConfigureServices(svc *Services) {
	p.svc = svc
}

func (p *ListPlugin) ExecuteCapability(ctx context.Context, cc *CapabilityContext) (*CapabilityResult, error) {
	if p.svc == nil || p.svc.Capabilities == nil {
		return &CapabilityResult{Content: "no capabilities registered", Success: true}, nil
	}

	entries := p.svc.Capabilities.List()
	listing := make([]map[string]any, 0, len(entries))
	var lines []string
	for _, entry := range entries {
		listing = append(listing, map[string]any{
			"id":       entry.Info.ID,
			"name":     entry.Info.Name,
			"version":  entry.Info.Version,
			"status":   string(entry.Status),
			"routable": entry.Routable(),
		})
		lines = append(lines, fmt.Sprintf("%s (%s): %s", entry.Info.ID, entry.Info.Version, entry.Status))
	}

	return &CapabilityResult{
		Content: "Registered capabilities:\n" + strings.Join(lines, "\n"),
		Success: true,
		Data:    map[string]any{"capabilities": listing},
	}, nil
}
