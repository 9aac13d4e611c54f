package runner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hookline/hookline/pkg/types"
)

const systemPrompt = `You are an automated code assistant reacting to file events.
Respond with a single JSON object of the form
{"files": [{"path": "<workspace-relative path>", "content": "<full new file content>"}], "done": true|false, "note": "<short summary>"}.
Set "done" to false only if you need another round to finish the task.
Paths must stay inside the workspace. Do not wrap the JSON in markdown fences unless necessary.`

const continuePrompt = `Continue. Reply with the same JSON shape; set "done" to true when finished.`

// fileEdit is one file replacement produced by the model.
type fileEdit struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// editPlan is the structured reply the model is instructed to produce.
type editPlan struct {
	Files []fileEdit `json:"files"`
	Done  bool       `json:"done"`
	Note  string     `json:"note,omitempty"`
}

// buildUserPrompt renders the trigger into the opening user message.
func buildUserPrompt(hook *types.Hook, trigger *types.TriggerContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Instruction: %s\n", hook.Instruction)
	fmt.Fprintf(&b, "Event: %s on %s\n", trigger.Kind, trigger.FilePath)
	if trigger.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", trigger.Language)
	}
	if trigger.Content != "" {
		fmt.Fprintf(&b, "\nCurrent file content:\n```\n%s\n```\n", trigger.Content)
	}

	return b.String()
}

// parsePlan extracts the edit plan from a model reply. Markdown fences and
// surrounding prose are tolerated; the outermost JSON object wins.
func parsePlan(content string) (*editPlan, error) {
	trimmed := strings.TrimSpace(content)

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("response contains no JSON object")
	}

	var plan editPlan
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &plan); err != nil {
		return nil, fmt.Errorf("response JSON is malformed: %w", err)
	}
	return &plan, nil
}
