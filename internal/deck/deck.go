package deck

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type Card struct {
	ID       int
	Question string
	Answer   string
	// Extra holds any fields after the answer, written back unchanged.
	Extra []string
	// Image is the file name of the card's illustration, if any.
	Image string
}

// Deck is a tab-separated flashcard export. Leading "#" lines are directives
// for the importing application and are carried through untouched.
type Deck struct {
	Headers []string
	Cards   []Card
}

func Read(r io.Reader) (*Deck, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	d := &Deck{}
	for {
		line, rest, _ := bytes.Cut(data, []byte("\n"))
		header := strings.TrimRight(string(line), "\r")
		if !isHeader(header) {
			break
		}
		d.Headers = append(d.Headers, header)
		data = rest
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading deck: %w", err)
		}
		card := Card{ID: len(d.Cards) + 1, Question: record[0]}
		if len(record) > 1 {
			card.Answer = record[1]
		}
		if len(record) > 2 {
			card.Extra = record[2:]
		}
		d.Cards = append(d.Cards, card)
	}
	return d, nil
}

// isHeader reports whether line is a "#key:value" directive. Values may hold
// tabs ("#columns:Front\tBack"), keys may not.
func isHeader(line string) bool {
	key, _, found := strings.Cut(strings.TrimPrefix(line, "#"), ":")
	return strings.HasPrefix(line, "#") && found && key != "" && !strings.ContainsAny(key, "\t ")
}

func Write(w io.Writer, d *Deck) error {
	for _, h := range d.Headers {
		if _, err := fmt.Fprintln(w, h); err != nil {
			return err
		}
	}

	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	for _, card := range d.Cards {
		answer := card.Answer
		if card.Image != "" {
			answer = strings.TrimSpace(answer + ` <img src="` + card.Image + `">`)
		}
		if err := cw.Write(append([]string{card.Question, answer}, card.Extra...)); err != nil {
			return fmt.Errorf("writing card %d: %w", card.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func Load(path string) (*Deck, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

func Save(path string, d *Deck) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := Write(&buf, d); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
