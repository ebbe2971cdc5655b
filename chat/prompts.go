package chat

import (
	"fmt"
	"strings"

	"github.com/fabfab/kb-agent/document"
	"github.com/fabfab/kb-agent/session"
)

// NoInformationAnswer is returned without calling the model when retrieval finds nothing.
const NoInformationAnswer = "Answer:\n• No information about this question was found in the uploaded documents.\n\n" +
	"Summary:\nThe knowledge base has no relevant content.\n\n" +
	"Evidence:\n• None\n\n" +
	"Confidence:\nLow"

const answerTemplate = `You are a Knowledge Base Answering Agent.

Always return output in the following structured format.
Do not merge sections. Do not return prose paragraphs.

Answer:
• Short bullet points only
• Direct factual statements
• No paragraph responses

Steps (if process/procedure is involved):
1. Step one
2. Step two
3. Step three
(continue until complete)

Summary:
One short sentence summarizing the entire answer.

Evidence:
• Quote the lines used from context with metadata

Confidence:
High / Medium / Low

Context:
%s

Question: %s

Now generate the formatted answer exactly in this structure.

Answer:`

const condenseTemplate = `Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question, in its original language. Reply with the standalone question only.

Chat History:
%s
Follow Up Input: %s
Standalone question:`

func answerPrompt(question string, matches []document.Match) string {
	return fmt.Sprintf(answerTemplate, contextBlock(matches), question)
}

func condensePrompt(question string, history []session.Turn) string {
	var sb strings.Builder
	for _, turn := range history {
		sb.WriteString("Human: ")
		sb.WriteString(turn.Question)
		sb.WriteString("\nAssistant: ")
		sb.WriteString(turn.Answer)
		sb.WriteString("\n")
	}
	return fmt.Sprintf(condenseTemplate, sb.String(), question)
}

// contextBlock joins chunk texts with their metadata so the model can quote evidence.
func contextBlock(matches []document.Match) string {
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		var sb strings.Builder
		sb.WriteString("[source: ")
		sb.WriteString(sourceName(m.Chunk.Metadata))
		if page, ok := m.Chunk.Metadata[document.MetaPage]; ok {
			fmt.Fprintf(&sb, ", page: %v", page)
		}
		sb.WriteString("]\n")
		sb.WriteString(m.Chunk.Text)
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, "\n\n")
}

func sourceName(meta document.Metadata) string {
	if s := meta.Source(); s != "" {
		return s
	}
	return "Unknown"
}
