package rag

import (
	"fmt"
	"strings"

	"pagechat/internal/conversation"
	"pagechat/internal/vector"
)

const SystemInstruction = `You answer questions about one document using only the context provided.
Cite the page for every fact you use, written as (page N), when the context gives one.
If the context does not contain the answer, say that the document does not contain this information. Do not guess and do not use outside knowledge.`

// NoContextMarker replaces the context section when retrieval found nothing,
// so the model is told explicitly that there is nothing to ground on.
const NoContextMarker = "NO RELEVANT CONTENT FOUND IN THE DOCUMENT."

// BuildPrompt serialises prior turns (oldest first), the retrieved chunks
// tagged with their page or position, and the question.
func BuildPrompt(history []conversation.Message, matches []vector.Match, question string) string {
	var b strings.Builder

	b.WriteString("CONVERSATION HISTORY:\n")
	if len(history) == 0 {
		b.WriteString("(none)\n")
	}
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Author, strings.TrimSpace(m.Text))
	}

	b.WriteString("\nCONTEXT:\n")
	if len(matches) == 0 {
		b.WriteString(NoContextMarker)
		b.WriteString("\n")
	}
	for i, m := range matches {
		if i > 0 {
			b.WriteString("---\n")
		}
		fmt.Fprintf(&b, "%s %s\n", citationTag(m.Metadata), strings.TrimSpace(m.Metadata.Text))
	}

	b.WriteString("\nQUESTION:\n")
	b.WriteString(strings.TrimSpace(question))
	return b.String()
}

func citationTag(md vector.Metadata) string {
	if md.Page > 0 {
		return fmt.Sprintf("[page %d]", md.Page)
	}
	return fmt.Sprintf("[position %d]", md.Position)
}
