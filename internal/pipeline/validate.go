package pipeline

import (
	"fmt"
	"strings"

	"github.com/irgordon/deploycenter/internal/core/domain"
)

// ValidatePipeline checks the structural rules the orchestrator enforces
// before execution: at least one step, every step named, every step with at
// least one non-empty command. An empty pipeline is legal at the project
// level (sync-only mode); callers only validate when steps exist.
func ValidatePipeline(steps []domain.PipelineStep) error {
	if len(steps) == 0 {
		return fmt.Errorf("pipeline: must contain at least one step")
	}
	for i, s := range steps {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("pipeline: step %d has no name", i+1)
		}
		if len(s.Run) == 0 {
			return fmt.Errorf("pipeline: step %q has no commands", s.Name)
		}
		for j, cmd := range s.Run {
			if strings.TrimSpace(cmd) == "" {
				return fmt.Errorf("pipeline: step %q command %d is empty", s.Name, j+1)
			}
		}
	}
	return nil
}
