package coding

import (
	"fmt"
	"strings"
)

const codesSystemPrompt = `You are a qualitative researcher applying the Gioia method.
Read the excerpt of a research paper and assign first-order codes: short, informant-centric labels (two to six words) that stay close to the language of the text.
Return JSON of the form {"codes": ["code", ...]}.`

const themesSystemPrompt = `You are a qualitative researcher applying the Gioia method.
You receive part of a JSON list of first-order codes. Group them into about 12 second-order themes: researcher-centric concepts that explain what the codes have in common.
Every theme maps to the codes it covers, using the exact code strings. A code may belong to more than one theme.
Return a JSON object of the form {"Theme name": ["code", ...], ...}.`

const dimensionsSystemPrompt = `You are a qualitative researcher applying the Gioia method.
You receive a JSON array of second-order themes. Distil them into 5 to 7 aggregate dimensions: the overarching theoretical constructs of the study.
Every dimension maps to the themes it covers, using the exact theme strings.
Return a JSON object of the form {"Dimension name": ["theme", ...], ...}.`

func withRemarks(prompt, remarks string) string {
	remarks = strings.TrimSpace(remarks)
	if remarks == "" {
		return prompt
	}
	return fmt.Sprintf("%s\n\nThe researcher added these remarks; take them into account:\n%s", prompt, remarks)
}

func codesUserPrompt(title, excerpt string) string {
	if title == "" {
		return "Excerpt:\n" + excerpt
	}
	return fmt.Sprintf("Paper: %s\n\nExcerpt:\n%s", title, excerpt)
}

func themesUserPrompt(fragment string) string {
	return "Codes:\n" + fragment
}

func dimensionsUserPrompt(themes string) string {
	return "Themes:\n" + themes
}
