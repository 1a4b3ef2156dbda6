package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/globalbrain-ai/globalbrain/internal/core"
	"github.com/globalbrain-ai/globalbrain/internal/log"
)

// InsufficientAnswer is returned verbatim when the retrieved sources do
// not support an answer. The model is instructed to emit the same
// sentence, so both paths look identical to the client.
const InsufficientAnswer = "I don't have enough information in your documents to answer that."

// Explanation levels, plainest to most technical.
const (
	LevelElementary = "elementary"
	LevelMiddle     = "middle"
	LevelHighSchool = "high_school"
	LevelCollege    = "college"
)

var levelStyles = map[string]string{
	LevelElementary: "Explain like the student is about 10 years old. Short sentences, everyday words, a simple analogy where it helps.",
	LevelMiddle:     "Explain for a middle school student. Plain language, define any technical term the first time it appears.",
	LevelHighSchool: "Explain for a high school student. Correct terminology with brief definitions, moderate depth.",
	LevelCollege:    "Explain for a college student. Full technical vocabulary and precise mechanism-level detail.",
}

var citationPattern = regexp.MustCompile(`\[S(\d+)\]`)

// Answer is a composed response with its verified citations.
type Answer struct {
	Text         string   `json:"text"`
	Sources      []Source `json:"sources"`
	CitedLabels  []string `json:"cited_labels"`
	Insufficient bool     `json:"insufficient"`
	Model        string   `json:"model,omitempty"`
	TokensIn     int      `json:"tokens_in,omitempty"`
	TokensOut    int      `json:"tokens_out,omitempty"`
}

// Composer turns retrieved sources into a grounded answer. It never
// invents sources: every [S#] marker in the output is checked against
// the source list, and with no sources at all it answers
// InsufficientAnswer without calling the model.
type Composer struct {
	llm    core.LLMProvider
	logger log.Logger
}

func NewComposer(llm core.LLMProvider, logger log.Logger) *Composer {
	return &Composer{llm: llm, logger: logger.With("component", "composer")}
}

func (c *Composer) Compose(ctx context.Context, question string, sources []Source, level string) (*Answer, error) {
	if len(sources) == 0 {
		return &Answer{Text: InsufficientAnswer, Insufficient: true}, nil
	}

	gen, err := c.llm.Generate(ctx, c.systemPrompt(level), c.userPrompt(question, sources))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	text := strings.TrimSpace(gen.Text)
	ans := &Answer{
		Text:      text,
		Sources:   sources,
		Model:     gen.Model,
		TokensIn:  gen.TokensIn,
		TokensOut: gen.TokensOut,
	}

	if strings.Contains(text, InsufficientAnswer) {
		ans.Insufficient = true
		return ans, nil
	}

	ans.CitedLabels = c.verifyCitations(text, len(sources))
	return ans, nil
}

// verifyCitations extracts [S#] markers and keeps only labels that name
// a supplied source. A fabricated label is logged and dropped from the
// citation list; the answer text is left untouched.
func (c *Composer) verifyCitations(text string, sourceCount int) []string {
	seen := make(map[string]bool)
	var labels []string
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > sourceCount {
			c.logger.Warn("answer cites unknown source", "label", m[0], "sources", sourceCount)
			continue
		}
		label := fmt.Sprintf("S%d", n)
		if !seen[label] {
			seen[label] = true
			labels = append(labels, label)
		}
	}
	if len(labels) == 0 {
		c.logger.Warn("answer carries no citations", "sources", sourceCount)
	}
	return labels
}

func (c *Composer) systemPrompt(level string) string {
	style, ok := levelStyles[level]
	if !ok {
		style = levelStyles[LevelCollege]
	}
	return strings.Join([]string{
		"You are a study tutor. Answer the student's question using ONLY the numbered sources provided.",
		"Cite every claim with the source marker in square brackets, e.g. [S1] or [S2].",
		"Never cite a source number that was not provided.",
		"If the sources do not contain the answer, reply exactly: " + InsufficientAnswer,
		style,
	}, "\n")
}

func (c *Composer) userPrompt(question string, sources []Source) string {
	var b strings.Builder
	b.WriteString("Sources:\n\n")
	for i, s := range sources {
		fmt.Fprintf(&b, "[S%d] %s\n%s\n\n", i+1, s.Citation(), s.Text)
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}
