package prompt

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html"
	"os"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/dmorgan81/illustrate/internal/config"
	"github.com/dmorgan81/illustrate/internal/log"
	"github.com/samber/do"
	"github.com/samber/lo"
)

//go:embed assets/default.tmpl
var defaultTemplate string

// MaxPromptLength bounds prompts in runes; several providers put the prompt
// in a URL path.
const MaxPromptLength = 900

var (
	ErrEmptyCard = errors.New("card has neither question nor answer")

	tagRegexp   = regexp.MustCompile(`<[^>]*>`)
	soundRegexp = regexp.MustCompile(`\[sound:[^\]]*\]`)
)

type Card struct {
	Question string
	Answer   string
}

type Builder struct {
	tmpl      *template.Template
	maxLength int
}

func New(text string, maxLength int) (*Builder, error) {
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing prompt template: %w", err)
	}
	return &Builder{
		tmpl:      tmpl,
		maxLength: lo.Ternary(maxLength > 0, maxLength, MaxPromptLength),
	}, nil
}

func NewBuilder(i *do.Injector) (*Builder, error) {
	cfg := do.MustInvoke[*config.Config](i)
	text := defaultTemplate
	if cfg.Prompt.Template != "" {
		data, err := os.ReadFile(cfg.Prompt.Template)
		if err != nil {
			return nil, fmt.Errorf("reading prompt template: %w", err)
		}
		text = string(data)
	}
	return New(text, cfg.Prompt.MaxLength)
}

// Build renders the prompt for one card. Card fields may carry flashcard
// markup, which is reduced to plain text first.
func (b *Builder) Build(ctx context.Context, question, answer string) (string, error) {
	card := Card{Question: clean(question), Answer: clean(answer)}
	if card.Question == "" && card.Answer == "" {
		return "", ErrEmptyCard
	}

	var sb strings.Builder
	if err := b.tmpl.Execute(&sb, card); err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	prompt := truncate(collapse(sb.String()), b.maxLength)

	log.FromContextOrDiscard(ctx).WithGroup("prompt").Debug("built prompt", "length", utf8.RuneCountInString(prompt))
	return prompt, nil
}

func clean(s string) string {
	s = soundRegexp.ReplaceAllString(s, " ")
	s = tagRegexp.ReplaceAllString(s, " ")
	return collapse(html.UnescapeString(s))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}
