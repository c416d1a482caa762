package relationships

import (
	"strings"
	"text/template"

	"github.com/Ramsey-B/fern/pkg/models"
)

const systemPrompt = `You extract relationships between known entities from web page text.
Respond with a single JSON array and nothing else.`

const promptTemplate = `Identify relationships stated or clearly implied in the text between pairs of the entities listed below.

Rules:
- Use only entities from the list, spelled exactly as listed.
- Use only these labels: {{.Labels}}
- Direction matters: "subject LABEL object", e.g. "Ada Lovelace WORKS_AT Analytical Society".
- Skip anything the text does not support. An empty array is a valid answer.

Entities:
{{range .Entities}}- {{.Text}} ({{.Category}})
{{end}}
Text:
"""
{{.Text}}
"""

Answer format:
[{"subject": "<entity>", "label": "<LABEL>", "object": "<entity>", "confidence": <0..1>, "evidence": "<short quote>"}]`

var prompt = template.Must(template.New("relationships").Parse(promptTemplate))

type promptData struct {
	Labels   string
	Entities []models.Entity
	Text     string
}

func renderPrompt(text string, entities []models.Entity) (string, error) {
	labels := make([]string, len(models.RelationshipLabels))
	for i, l := range models.RelationshipLabels {
		labels[i] = string(l)
	}

	var b strings.Builder
	err := prompt.Execute(&b, promptData{
		Labels:   strings.Join(labels, ", "),
		Entities: entities,
		Text:     text,
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
