package openai

import (
	"fmt"
	"strings"

	"github.com/poiesic/bizkb/ai"
)

// maxPromptRunes bounds the document text sent to the model.
const maxPromptRunes = 8000

const extractionResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "entities": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "category": {"type": "string"}
        },
        "required": ["name", "category"],
        "additionalProperties": false
      }
    }
  },
  "required": ["entities"],
  "additionalProperties": false
}`

const extractionPromptTemplate = `Extract the key entities of the given business document and return them as JSON.

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble, explanation,
greeting, or acknowledgment. Start your response directly with the opening brace { and end with the closing
brace }. Your output must exactly follow this schema:

%s

Rules:
- Return at most %d entities, most important first.
- Entity names are short noun phrases (1-4 words) copied from the text, in the document's language.
- Latin-script names are lowercase and singular.
- Category must be one of: %s.
- Prefer specific entities (product names, systems, standards, organizations) over generic words.
- Include only entities that are explicitly mentioned in the text. Do not hallucinate.
- If no entities can be identified, return "entities": [].
- The JSON must parse without errors; no trailing commas, no extra keys, and no extraneous text outside the object.

Example:
Input: "The Acme widget ships with the ISO 9001 quality manual from the Berlin plant."
Output:
{
  "entities": [
    {"name":"acme widget","category":"product"},
    {"name":"iso 9001","category":"standard"},
    {"name":"quality manual","category":"process"},
    {"name":"berlin plant","category":"place"}
  ]
}`

// buildSystemPrompt creates the system prompt with the entity cap and categories embedded.
func buildSystemPrompt(maxEntities int) string {
	return fmt.Sprintf(extractionPromptTemplate,
		extractionResponseSchema,
		maxEntities,
		strings.Join(ai.EntityCategories, ", "))
}
