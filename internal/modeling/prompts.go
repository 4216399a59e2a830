package modeling

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/academiaos/academiaos/internal/models"
)

const brainstormSystemPrompt = `You are a management scholar building grounded theory with the Gioia method.
Given the aggregate dimensions of a study and their themes, brainstorm existing or novel theories that could explain them.
Return JSON of the form {"theories": [{"theory": "...", "description": "...", "relatedDimensions": ["..."], "possibleResearchQuestions": ["..."]}]}.`

const hypothesizeSystemPrompt = `You are a management scholar building grounded theory with the Gioia method.
Given the aggregate dimensions, themes and candidate theories, propose 10 to 20 pairs of concepts whose relationship is worth investigating in the data.
Use concept names taken from the dimensions and themes.
Return JSON of the form {"pairs": [["concept A", "concept B"], ...]}.`

const relateSystemPrompt = `You are a management scholar analysing qualitative evidence.
Summarize, in one sentence, the relationship between the two concepts as supported by the evidence: whether it is causal or correlational, its direction and its strength.
If the evidence does not support a relationship, say so.`

const constructSystemPrompt = `You are a management scholar building grounded theory with the Gioia method.
Combine the candidate theories, the concept relationships and the aggregate dimensions into one coherent theoretical model.
Describe its constructs, how they relate, and the boundary conditions of the model.`

const nameSystemPrompt = `You name theoretical models. Reply with a short, memorable name for the model described, and nothing else.`

const visualizeSystemPrompt = `You draw theoretical models as Mermaid flowcharts.
Represent aggregate dimensions and themes as nodes and the relationships of the model as labelled edges.
Reply with Mermaid source only, starting with "graph" or "flowchart".`

const critiqueSystemPrompt = `You are a critical reviewer for a top management journal.
Critique the theoretical model: its novelty, its clarity, its grounding in the data and the gaps a revision should address.`

func withRemarks(prompt, remarks string) string {
	remarks = strings.TrimSpace(remarks)
	if remarks == "" {
		return prompt
	}
	return fmt.Sprintf("%s\n\nThe researcher added these remarks; take them into account:\n%s", prompt, remarks)
}

func jsonBlock(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func brainstormUserPrompt(in *Input) string {
	return fmt.Sprintf("Aggregate dimensions:\n%s\n\nThemes:\n%s", jsonBlock(in.Dimensions), jsonBlock(in.Themes))
}

func hypothesizeUserPrompt(in *Input, theories []models.Theory) string {
	return fmt.Sprintf("Aggregate dimensions:\n%s\n\nThemes:\n%s\n\nTheories:\n%s",
		jsonBlock(in.Dimensions), jsonBlock(in.Themes), jsonBlock(theories))
}

func relateUserPrompt(pair [2]string, evidence string) string {
	if strings.TrimSpace(evidence) == "" {
		evidence = "(no evidence found)"
	}
	return fmt.Sprintf("Concepts: %s and %s\n\nEvidence:\n%s", pair[0], pair[1], evidence)
}

func constructUserPrompt(in *Input, theories []models.Theory, rels []models.Interrelationship) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Theories:\n%s\n\n", jsonBlock(theories))
	b.WriteString("Concept relationships:\n")
	for _, r := range rels {
		fmt.Fprintf(&b, "- %s / %s: %s\n", r.Concepts[0], r.Concepts[1], r.Interrelationship)
	}
	fmt.Fprintf(&b, "\nAggregate dimensions:\n%s", jsonBlock(in.Dimensions))
	if s := strings.TrimSpace(in.ModelDescription); s != "" {
		fmt.Fprintf(&b, "\n\nPrevious model:\n%s", s)
	}
	if s := strings.TrimSpace(in.Critique); s != "" {
		fmt.Fprintf(&b, "\n\nCritique of the previous model; address it:\n%s", s)
	}
	return b.String()
}

func nameUserPrompt(description string) string {
	return "Model:\n" + description
}

func visualizeUserPrompt(in *Input, description string) string {
	return fmt.Sprintf("Model:\n%s\n\nFirst-order codes:\n%s\n\nThemes:\n%s",
		description, jsonBlock(in.FirstOrderCodes), jsonBlock(in.Themes))
}

func critiqueUserPrompt(name, description string) string {
	if name == "" {
		return "Model:\n" + description
	}
	return fmt.Sprintf("Model: %s\n\n%s", name, description)
}
