package repositories

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExcerptReturnsShortTextUnchanged(t *testing.T) {
	assert.Equal(t, "the invoice is overdue", Excerpt("the invoice is overdue", "invoice", 80))
}

func TestExcerptCentersOnMatch(t *testing.T) {
	text := strings.Repeat("lorem ipsum ", 20) + "the disputed invoice from March" + strings.Repeat(" dolor sit", 20)

	out := Excerpt(text, "invoice", 80)
	assert.Contains(t, out, "invoice")
	assert.LessOrEqual(t, len([]rune(out)), 82)
	assert.True(t, strings.HasPrefix(out, "…"))
	assert.True(t, strings.HasSuffix(out, "…"))
}

func TestExcerptMatchCaseInsensitive(t *testing.T) {
	text := strings.Repeat("a", 100) + "INVOICE" + strings.Repeat("b", 100)
	out := Excerpt(text, "invoice", 40)
	assert.Contains(t, out, "INVOICE")
}

func TestExcerptWithoutMatchTakesPrefix(t *testing.T) {
	text := strings.Repeat("x", 200)
	out := Excerpt(text, "missing", 40)
	assert.True(t, strings.HasPrefix(out, "x"))
	assert.True(t, strings.HasSuffix(out, "…"))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%`, escapeLike("100%"))
	assert.Equal(t, `client\_name`, escapeLike("client_name"))
	assert.Equal(t, `back\\slash`, escapeLike(`back\slash`))
	assert.Equal(t, "plain words", escapeLike("plain words"))
}
