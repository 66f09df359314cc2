package workspace

import (
	"fmt"

	"github.com/opencode-ai/lsphub/internal/protocol"
	"github.com/opencode-ai/lsphub/pkg/types"
)

// normalizeDiagnostics converts raw LSP diagnostics to the public shape:
// numeric severity to a name, zero-indexed positions to one-indexed. A
// missing range therefore comes out as line 1, character 1.
func normalizeDiagnostics(raw []protocol.Diagnostic) []types.Diagnostic {
	out := make([]types.Diagnostic, 0, len(raw))
	for _, d := range raw {
		out = append(out, types.Diagnostic{
			Severity:  normalizeSeverity(d.Severity),
			Message:   d.Message,
			Line:      d.Range.Start.Line + 1,
			Character: d.Range.Start.Character + 1,
			Source:    d.Source,
		})
	}
	return out
}

// normalizeSeverity maps LSP severity 1/2/3/4 to a name; anything else,
// including absent, is a warning.
func normalizeSeverity(severity int) types.Severity {
	switch severity {
	case 1:
		return types.SeverityError
	case 2:
		return types.SeverityWarning
	case 3:
		return types.SeverityInfo
	case 4:
		return types.SeverityHint
	default:
		return types.SeverityWarning
	}
}

// dedupeDiagnostics drops diagnostics whose (line, character, message) triple
// was already seen, keeping the first occurrence.
func dedupeDiagnostics(diags []types.Diagnostic) []types.Diagnostic {
	seen := make(map[string]struct{}, len(diags))
	out := make([]types.Diagnostic, 0, len(diags))
	for _, d := range diags {
		key := fmt.Sprintf("%d:%d:%s", d.Line, d.Character, d.Message)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}
	return out
}
