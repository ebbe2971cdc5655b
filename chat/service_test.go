package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/kb-agent/document"
	"github.com/fabfab/kb-agent/embeddings"
	"github.com/fabfab/kb-agent/llm"
	"github.com/fabfab/kb-agent/session"
)

type stubRetriever struct {
	matches []document.Match
	err     error
	queries []string
}

func (r *stubRetriever) Retrieve(_ context.Context, query string) ([]document.Match, error) {
	r.queries = append(r.queries, query)
	return r.matches, r.err
}

type stubLLM struct {
	replies []string
	err     error
	calls   [][]llm.Message
}

func (c *stubLLM) Generate(_ context.Context, messages []llm.Message) (string, error) {
	c.calls = append(c.calls, messages)
	if c.err != nil {
		return "", c.err
	}
	if len(c.replies) == 0 {
		return "", nil
	}
	reply := c.replies[0]
	c.replies = c.replies[1:]
	return reply, nil
}

func match(source, text string) document.Match {
	meta := document.Metadata{}
	if source != "" {
		meta[document.MetaSource] = source
	}
	return document.Match{Chunk: document.Chunk{Text: text, Metadata: meta}}
}

func TestAnswerBuildsPromptAndSources(t *testing.T) {
	retriever := &stubRetriever{matches: []document.Match{
		match("notes.txt", "The capital of France is Paris."),
		match("", "Unrelated filler."),
	}}
	model := &stubLLM{replies: []string{"  Answer:\n• Paris  "}}
	svc := NewService(retriever, model, 6, nil)

	resp, err := svc.Answer(context.Background(), "What is the capital of France?", nil)
	require.NoError(t, err)

	assert.Equal(t, "Answer:\n• Paris", resp.Answer)
	assert.Equal(t, "What is the capital of France?", resp.Question)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, "notes.txt", resp.Sources[0].Source)
	assert.Equal(t, "The capital of France is Paris....", resp.Sources[0].Text)
	assert.Equal(t, "Unknown", resp.Sources[1].Source)

	require.Len(t, model.calls, 1)
	require.Len(t, model.calls[0], 1)
	prompt := model.calls[0][0].Content
	assert.Contains(t, prompt, "Knowledge Base Answering Agent")
	assert.Contains(t, prompt, "The capital of France is Paris.")
	assert.Contains(t, prompt, "[source: notes.txt]")
	assert.Contains(t, prompt, "Question: What is the capital of France?")
	assert.Equal(t, []string{"What is the capital of France?"}, retriever.queries)
}

func TestAnswerEmptyQuestion(t *testing.T) {
	svc := NewService(&stubRetriever{}, &stubLLM{}, 0, nil)
	_, err := svc.Answer(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestAnswerWithoutContextSkipsModel(t *testing.T) {
	model := &stubLLM{}
	svc := NewService(&stubRetriever{matches: []document.Match{}}, model, 0, nil)

	resp, err := svc.Answer(context.Background(), "anything?", nil)
	require.NoError(t, err)
	assert.Equal(t, NoInformationAnswer, resp.Answer)
	assert.Equal(t, ConfidenceLow, resp.Confidence)
	assert.Empty(t, resp.Sources)
	assert.Empty(t, model.calls)
}

func TestAnswerCondensesHistoryForRetrieval(t *testing.T) {
	retriever := &stubRetriever{matches: []document.Match{match("a.txt", "Berlin has many museums.")}}
	model := &stubLLM{replies: []string{"How many museums does Berlin have?", "Answer:\n• Many"}}
	svc := NewService(retriever, model, 6, nil)

	history := []session.Turn{{Question: "What is the capital of Germany?", Answer: "Berlin"}}
	resp, err := svc.Answer(context.Background(), "How many museums does it have?", history)
	require.NoError(t, err)

	assert.Equal(t, []string{"How many museums does Berlin have?"}, retriever.queries)
	assert.Equal(t, "How many museums does Berlin have?", resp.Question)

	require.Len(t, model.calls, 2)
	condense := model.calls[0][0].Content
	assert.Contains(t, condense, "Human: What is the capital of Germany?")
	assert.Contains(t, condense, "Assistant: Berlin")
	assert.Contains(t, condense, "Follow Up Input: How many museums does it have?")

	answerCall := model.calls[1]
	require.Len(t, answerCall, 3)
	assert.Equal(t, llm.RoleUser, answerCall[0].Role)
	assert.Equal(t, "What is the capital of Germany?", answerCall[0].Content)
	assert.Equal(t, llm.RoleAssistant, answerCall[1].Role)
	assert.Contains(t, answerCall[2].Content, "Question: How many museums does Berlin have?")
}

func TestAnswerHistoryChangesRetrievalQuery(t *testing.T) {
	run := func(history []session.Turn) string {
		retriever := &stubRetriever{}
		model := &stubLLM{replies: []string{"standalone about berlin"}}
		svc := NewService(retriever, model, 6, nil)
		_, err := svc.Answer(context.Background(), "and its population?", history)
		require.NoError(t, err)
		return retriever.queries[0]
	}

	assert.Equal(t, "and its population?", run(nil))
	assert.Equal(t, "standalone about berlin", run([]session.Turn{{Question: "Berlin?", Answer: "A city."}}))
}

func TestAnswerHonoursHistoryWindow(t *testing.T) {
	model := &stubLLM{replies: []string{"condensed", "answer"}}
	svc := NewService(&stubRetriever{matches: []document.Match{match("a.txt", "x")}}, model, 2, nil)

	var history []session.Turn
	for i := 1; i <= 5; i++ {
		history = append(history, session.Turn{Question: fmt.Sprintf("q%d", i), Answer: fmt.Sprintf("a%d", i)})
	}
	_, err := svc.Answer(context.Background(), "next?", history)
	require.NoError(t, err)

	condense := model.calls[0][0].Content
	assert.NotContains(t, condense, "q3")
	assert.Contains(t, condense, "q4")
	assert.Contains(t, condense, "q5")
	assert.Len(t, model.calls[1], 5)
}

func TestAnswerFailuresAreGenerationErrors(t *testing.T) {
	tests := []struct {
		name      string
		retriever *stubRetriever
		model     *stubLLM
		history   []session.Turn
		stage     Stage
		cause     error
	}{
		{
			name:      "retrieval",
			retriever: &stubRetriever{err: fmt.Errorf("embed query: %w", embeddings.ErrService)},
			model:     &stubLLM{},
			stage:     StageRetrieve,
			cause:     embeddings.ErrService,
		},
		{
			name:      "completion",
			retriever: &stubRetriever{matches: []document.Match{match("a.txt", "x")}},
			model:     &stubLLM{err: llm.ErrService},
			stage:     StageComplete,
			cause:     llm.ErrService,
		},
		{
			name:      "condense",
			retriever: &stubRetriever{},
			model:     &stubLLM{err: llm.ErrService},
			history:   []session.Turn{{Question: "q", Answer: "a"}},
			stage:     StageCondense,
			cause:     llm.ErrService,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.retriever, tt.model, 0, nil)
			resp, err := svc.Answer(context.Background(), "question?", tt.history)

			var genErr *GenerationError
			require.True(t, errors.As(err, &genErr))
			assert.Equal(t, tt.stage, genErr.Stage)
			assert.ErrorIs(t, err, tt.cause)
			assert.Empty(t, resp.Answer)
		})
	}
}

func TestScoreConfidence(t *testing.T) {
	matches := []document.Match{
		match("a", "Paris is the capital of France."),
		match("b", "PARIS IS THE CAPITAL OF FRANCE. It is large."),
		match("c", "Rome is in Italy."),
	}

	assert.Equal(t, ConfidenceHigh, ScoreConfidence("paris is the capital of france.", matches))
	assert.Equal(t, ConfidenceMedium, ScoreConfidence("It is large.", matches[1:]))
	assert.Equal(t, ConfidenceLow, ScoreConfidence("The French capital is Paris.", matches))
	// A chunk quoted inside the answer also counts.
	assert.Equal(t, ConfidenceMedium, ScoreConfidence("Context says: Rome is in Italy. Done.", matches))
}

func TestScoreConfidenceIsMonotonic(t *testing.T) {
	answer := "paris"
	rank := map[Confidence]int{ConfidenceLow: 0, ConfidenceMedium: 1, ConfidenceHigh: 2}

	var matches []document.Match
	prev := ScoreConfidence(answer, matches)
	for i := 0; i < 4; i++ {
		matches = append(matches, match("x", "paris"))
		next := ScoreConfidence(answer, matches)
		assert.GreaterOrEqual(t, rank[next], rank[prev])
		prev = next
	}
	assert.Equal(t, ConfidenceHigh, prev)
}

func TestExcerptTruncatesByRunes(t *testing.T) {
	long := strings.Repeat("é", 450)
	got := excerpt(long)
	assert.Equal(t, strings.Repeat("é", 400)+"...", got)
	assert.Equal(t, "short...", excerpt("short"))
}

func TestContextBlockIncludesPage(t *testing.T) {
	m := document.Match{Chunk: document.Chunk{
		Text:     "page text",
		Metadata: document.Metadata{document.MetaSource: "doc.pdf", document.MetaPage: 2},
	}}
	assert.Equal(t, "[source: doc.pdf, page: 2]\npage text", contextBlock([]document.Match{m}))
}
