package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/agentup/agentup/pkg/a2a"
)

// shapeParts converts a raw capability or function result into artifact
// parts. Strings become a TextPart; maps with a "summary" key become a
// TextPart plus a DataPart of the whole map; other maps a single DataPart;
// lists a DataPart wrapping {"items": list}; everything else is stringified.
func shapeParts(result any) []a2a.Part {
	switch v := result.(type) {
	case nil:
		return []a2a.Part{a2a.NewTextPart("")}
	case string:
		return []a2a.Part{a2a.NewTextPart(v)}
	case map[string]any:
		if summary, ok := v["summary"].(string); ok {
			return []a2a.Part{a2a.NewTextPart(summary), a2a.NewDataPart(v)}
		}
		return []a2a.Part{a2a.NewDataPart(v)}
	case []any:
		return []a2a.Part{a2a.NewDataPart(map[string]any{"items": v})}
	default:
		return []a2a.Part{a2a.NewTextPart(stringify(v))}
	}
}

// ResultArtifact shapes a synchronous result into the task's final artifact.
func ResultArtifact(agentName string, result any) a2a.Artifact {
	return a2a.NewArtifact(agentName+"-result", shapeParts(result)...)
}

// StreamArtifact shapes one streaming chunk.
func StreamArtifact(agentName string, n int, chunk any) a2a.Artifact {
	return a2a.NewArtifact(fmt.Sprintf("%s-stream-%d", agentName, n), shapeParts(chunk)...)
}

func stringify(v any) string {
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", v)
}
