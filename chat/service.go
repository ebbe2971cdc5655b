// Package chat answers questions from retrieved document chunks.
package chat

import (
	"context"
	"log"
	"strings"

	"github.com/fabfab/kb-agent/document"
	"github.com/fabfab/kb-agent/llm"
	"github.com/fabfab/kb-agent/session"
)

const excerptRunes = 400

// Retriever finds the chunks most similar to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]document.Match, error)
}

type Service struct {
	retriever     Retriever
	llm           llm.Client
	historyWindow int
	logger        *log.Logger
}

// NewService wires retrieval and completion. Only the last historyWindow turns of a session
// reach the model; 0 forwards all of them.
func NewService(retriever Retriever, llmClient llm.Client, historyWindow int, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}

	return &Service{
		retriever:     retriever,
		llm:           llmClient,
		historyWindow: historyWindow,
		logger:        logger,
	}
}

// Answer condenses history and question into a standalone question, retrieves context for it
// and asks the model for a structured answer. Confidence is derived from how many retrieved
// chunks agree with the answer text, not from the model.
func (s *Service) Answer(ctx context.Context, question string, history []session.Turn) (Response, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Response{}, ErrEmptyQuestion
	}

	history = session.Last(history, s.historyWindow)

	standalone := question
	if len(history) > 0 {
		condensed, err := s.llm.Generate(ctx, []llm.Message{
			{Role: llm.RoleUser, Content: condensePrompt(question, history)},
		})
		if err != nil {
			return Response{}, &GenerationError{Stage: StageCondense, Err: err}
		}
		if condensed = strings.TrimSpace(condensed); condensed != "" {
			standalone = condensed
		}
	}

	matches, err := s.retriever.Retrieve(ctx, standalone)
	if err != nil {
		return Response{}, &GenerationError{Stage: StageRetrieve, Err: err}
	}

	if len(matches) == 0 {
		s.logger.Printf("no context found for question %q", standalone)
		return Response{
			Answer:     NoInformationAnswer,
			Sources:    []Source{},
			Confidence: ConfidenceLow,
			Question:   standalone,
		}, nil
	}

	messages := make([]llm.Message, 0, 2*len(history)+1)
	for _, turn := range history {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: turn.Question},
			llm.Message{Role: llm.RoleAssistant, Content: turn.Answer},
		)
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: answerPrompt(standalone, matches)})

	answer, err := s.llm.Generate(ctx, messages)
	if err != nil {
		return Response{}, &GenerationError{Stage: StageComplete, Err: err}
	}
	answer = strings.TrimSpace(answer)

	return Response{
		Answer:     answer,
		Sources:    sources(matches),
		Confidence: ScoreConfidence(answer, matches),
		Question:   standalone,
	}, nil
}

// ScoreConfidence counts chunks that contain the answer or are contained in it, ignoring case.
// Two or more is High, one is Medium, none is Low. Paraphrased answers score Low.
func ScoreConfidence(answer string, matches []document.Match) Confidence {
	lowered := strings.ToLower(answer)
	overlap := 0
	for _, m := range matches {
		chunk := strings.ToLower(m.Chunk.Text)
		if strings.Contains(chunk, lowered) || strings.Contains(lowered, chunk) {
			overlap++
		}
	}

	switch {
	case overlap >= 2:
		return ConfidenceHigh
	case overlap == 1:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func sources(matches []document.Match) []Source {
	out := make([]Source, len(matches))
	for i, m := range matches {
		out[i] = Source{
			Text:   excerpt(m.Chunk.Text),
			Source: sourceName(m.Chunk.Metadata),
		}
	}
	return out
}

// excerpt keeps the first 400 runes and always marks the cut with "...".
func excerpt(text string) string {
	runes := []rune(text)
	if len(runes) > excerptRunes {
		runes = runes[:excerptRunes]
	}
	return string(runes) + "..."
}
