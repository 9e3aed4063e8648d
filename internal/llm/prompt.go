package llm

import (
	"encoding/json"
	"strings"

	"github.com/joseph-ayodele/doc-digitizer/constants"
)

// BuildImageSystemPrompt composes the system message for image analysis: the
// closed category set, the schema and strict output rules.
func BuildImageSystemPrompt() string {
	parts := []string{
		"You are an expert in analyzing images taken from scanned technical documentation.",
		"The image may be a screenshot of a user interface, a schematic or block diagram, a code listing rendered as an image, a chart or table, or a photograph of hardware.",
		"Return ONLY a single JSON object that matches the JSON Schema below.",
		"'category' MUST be exactly one of: " + strings.Join(constants.AsStringSlice(), ", ") + ". If uncertain, choose 'Other'.",
		"'description' is a technically accurate paragraph describing the content and purpose of the image (at least a full sentence).",
		"'entities' lists key technical terms, components or values visible in the image.",
		"Do not include any text or formatting outside the JSON object.",
		"JSON Schema:\n" + mustJSON(BuildImageAnalysisSchema()),
	}
	return strings.Join(parts, " ")
}

// BuildImageUserPrompt is the per-image user message.
func BuildImageUserPrompt(filename string) string {
	return "Analyze this image from the document (file: " + filename + ") and return the JSON object."
}

// BuildStrictImagePrompt is used for the single retry after a response failed validation.
func BuildStrictImagePrompt(filename, previousError string) string {
	var b strings.Builder
	b.WriteString("Your previous answer for ")
	b.WriteString(filename)
	b.WriteString(" was not valid")
	if previousError != "" {
		b.WriteString(" (")
		b.WriteString(truncate(previousError, 300))
		b.WriteString(")")
	}
	b.WriteString(". Respond with ONLY a raw JSON object, no code fences and no prose, with exactly these keys: ")
	b.WriteString(`"category" (one of `)
	b.WriteString(strings.Join(constants.AsStringSlice(), ", "))
	b.WriteString(`), "description" (at least 10 characters), "entities" (array of strings).`)
	return b.String()
}

// CleanupSystemPrompt instructs the model to fix OCR noise in one chunk without adding content.
const CleanupSystemPrompt = `You are an expert technical editor. Clean up a chunk of Markdown text that was extracted via OCR.
- Correct obvious OCR errors (e.g. '1' for 'l', 'O' for '0', mis-joined words).
- Ensure code blocks are fenced, with a language specifier when it is evident.
- Fix broken Markdown table syntax.
- Remove stray page numbers, running headers and footers mixed into the content.
- Keep the original structure (headings, lists, order) exactly.
- Do not add new content, commentary or explanations.
Your output must be only the cleaned Markdown text.`

// SynthesisSystemPrompt instructs the editor pass of the final stage.
const SynthesisSystemPrompt = `You are an expert technical writer and editor.
You will be given a Markdown document extracted from a scanned technical manual. It contains cleaned OCR text followed by a section titled '## Extracted Image Analysis' with structured descriptions of every image in the original.
- Integrate each image description into the body where it is contextually relevant (for example right after the paragraph that references the figure), as a blockquote or figure caption.
- Treat the image descriptions as authoritative and keep every one of them; if a description has no natural place, keep it near the end of the closest section.
- After integrating, remove the standalone '## Extracted Image Analysis' section.
- Give the document a clear heading hierarchy (#, ##, ###), fix remaining OCR errors, format tables as Markdown tables and fence code blocks.
- Preserve every technical specification and the original terminology.
Output only the complete Markdown document, with no commentary about your process.`

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
