package page

import (
	"bytes"
	"context"
	_ "embed"
	"html/template"
	"sync"

	"github.com/dmorgan81/illustrate/internal/log"
	"github.com/samber/do"
)

//go:embed assets/deck.html
var deckTmpl string

type Card struct {
	ID       int
	Question string
	Answer   string
	Image    string
	Error    string
}

type Params struct {
	Title     string
	Backend   string
	Succeeded int
	Cards     []Card
}

// Templator renders the gallery page previewing an illustrated deck.
type Templator struct {
	tmpl *template.Template
	once sync.Once
}

func NewTemplator(*do.Injector) (*Templator, error) {
	return &Templator{}, nil
}

func (g *Templator) Template(ctx context.Context, params Params) ([]byte, error) {
	g.once.Do(func() {
		g.tmpl = template.Must(template.New("deck").Parse(deckTmpl))
	})

	log := log.FromContextOrDiscard(ctx).WithGroup("templator")
	log.Info("generating page", "cards", len(params.Cards))

	var data bytes.Buffer
	if err := g.tmpl.Execute(&data, params); err != nil {
		return nil, err
	}
	return data.Bytes(), nil
}
