// Package prompt folds session history into the next generation prompt.
package prompt

import (
	"strings"

	"github.com/pario-ai/meshbridge/pkg/models"
)

// ContextWindow is how many previous prompts are carried into a new one.
const ContextWindow = 3

const template = `Task: Generate a 3D mesh.

{context}Update instructions:
- {edit}

Constraints:
- Camera-neutral (not an image render).
- Coherent topology.
- Keep proportions from context unless directly changed above.
- If colors are specified, apply them to materials.

Output: A single .glb file.
`

// Compose renders edit on top of the last ContextWindow prompts in history.
func Compose(history []models.SessionItem, edit string) string {
	var context string
	if len(history) > 0 {
		recent := history[max(0, len(history)-ContextWindow):]
		prompts := make([]string, len(recent))
		for i, item := range recent {
			prompts[i] = item.Prompt
		}
		context = "Previous design context:\n- " + strings.Join(prompts, "\n- ") + "\n\n"
	}
	r := strings.NewReplacer("{context}", context, "{edit}", edit)
	return r.Replace(template)
}
