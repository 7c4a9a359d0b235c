package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/internal/common/logger"
	v1 "github.com/agentmesh/agentmesh/pkg/api/v1"
)

const shapingSystemPrompt = `Rewrite the raw task result below as a short reply to the user.
Use plain prose. Do not add headings, bullet points, code fences, or any other formatting.`

const shapingMaxTokens = 512

// Shaper turns a raw agent result into user-facing prose. The LLM does the
// rewrite; a deterministic template covers LLM failure.
type Shaper struct {
	llm    LLMClient
	logger *logger.Logger
}

// NewShaper creates a shaper. A nil llm always takes the fallback path.
func NewShaper(llm LLMClient, log *logger.Logger) *Shaper {
	return &Shaper{llm: llm, logger: log}
}

// Shape produces the user-facing message for a terminal task record.
func (s *Shaper) Shape(ctx context.Context, instruction string, record *v1.TaskRecord) string {
	if s.llm != nil {
		prompt := s.buildPrompt(instruction, record)
		generation, err := s.llm.Generate(ctx, prompt, shapingMaxTokens)
		if err == nil && strings.TrimSpace(generation.Output()) != "" {
			return strings.TrimSpace(generation.Output())
		}
		if err != nil {
			s.logger.Warn("result shaping fell back to template",
				zap.String("task_id", record.TaskID),
				zap.Error(err))
		}
	}
	return fallbackMessage(instruction, record)
}

func (s *Shaper) buildPrompt(instruction string, record *v1.TaskRecord) string {
	raw, err := json.Marshal(record.Result)
	if err != nil {
		raw = []byte("{}")
	}
	var b strings.Builder
	b.WriteString(shapingSystemPrompt)
	b.WriteString("\n\nInstruction: ")
	b.WriteString(instruction)
	b.WriteString("\nStatus: ")
	b.WriteString(string(record.Status))
	b.WriteString("\nRaw result: ")
	b.Write(raw)
	if record.Error != "" {
		b.WriteString("\nError: ")
		b.WriteString(record.Error)
	}
	return b.String()
}

// fallbackMessage is the deterministic template: a status glyph, the
// instruction verbatim, and the error string for failures.
func fallbackMessage(instruction string, record *v1.TaskRecord) string {
	if record.Status == v1.TaskStatusCompleted {
		return fmt.Sprintf("✓ %s", instruction)
	}
	if record.Error != "" {
		return fmt.Sprintf("✗ %s: %s", instruction, record.Error)
	}
	return fmt.Sprintf("✗ %s", instruction)
}
