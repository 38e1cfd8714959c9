package deck

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "#separator:tab\n#html:true\nWhat is H2O?\tWater\nCapital of Japan\tTokyo\tgeography\n\"Multi\tfield\"\tquoted\n"

func TestRead(t *testing.T) {
	d, err := Read(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, []string{"#separator:tab", "#html:true"}, d.Headers)
	require.Len(t, d.Cards, 3)
	assert.Equal(t, Card{ID: 1, Question: "What is H2O?", Answer: "Water"}, d.Cards[0])
	assert.Equal(t, Card{ID: 2, Question: "Capital of Japan", Answer: "Tokyo", Extra: []string{"geography"}}, d.Cards[1])
	assert.Equal(t, "Multi\tfield", d.Cards[2].Question)
}

func TestReadQuestionOnly(t *testing.T) {
	d, err := Read(strings.NewReader("lonely\n"))
	require.NoError(t, err)
	require.Len(t, d.Cards, 1)
	assert.Equal(t, "", d.Cards[0].Answer)
	assert.Empty(t, d.Headers)
}

func TestReadHashQuestionIsACard(t *testing.T) {
	d, err := Read(strings.NewReader("#separator:tab\n#columns:Front\tBack\n#hashtag\tanswer\n# note\tmore\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"#separator:tab", "#columns:Front\tBack"}, d.Headers)
	require.Len(t, d.Cards, 2)
	assert.Equal(t, Card{ID: 1, Question: "#hashtag", Answer: "answer"}, d.Cards[0])
	assert.Equal(t, "# note", d.Cards[1].Question)
}

func TestWriteEmbedsImages(t *testing.T) {
	d, err := Read(strings.NewReader(sample))
	require.NoError(t, err)
	d.Cards[1].Image = "card-002.png"

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, d))
	assert.True(t, strings.HasPrefix(buf.String(), "#separator:tab\n#html:true\n"))

	back, err := Read(&buf)
	require.NoError(t, err)
	require.Len(t, back.Cards, 3)
	assert.Equal(t, "Water", back.Cards[0].Answer)
	assert.Equal(t, `Tokyo <img src="card-002.png">`, back.Cards[1].Answer)
	assert.Equal(t, []string{"geography"}, back.Cards[1].Extra)
	assert.Equal(t, "Multi\tfield", back.Cards[2].Question)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "deck.tsv")
	d := &Deck{Cards: []Card{{ID: 1, Question: "Q", Answer: "A", Image: "card-001.png"}}}
	require.NoError(t, Save(path, d))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, `A <img src="card-001.png">`, back.Cards[0].Answer)
}
