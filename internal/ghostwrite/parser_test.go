package ghostwrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommandRecognizesTrigger(t *testing.T) {
	query, ok := ParseCommand("@eva draft a polite reminder about the unpaid invoice")
	assert.True(t, ok)
	assert.Equal(t, "draft a polite reminder about the unpaid invoice", query)
}

func TestParseCommandIsCaseInsensitive(t *testing.T) {
	query, ok := ParseCommand("@EVA revise this clause")
	assert.True(t, ok)
	assert.Equal(t, "revise this clause", query)

	query, ok = ParseCommand("@Eva summarize the hearing")
	assert.True(t, ok)
	assert.Equal(t, "summarize the hearing", query)
}

func TestParseCommandTrimsSurroundingWhitespace(t *testing.T) {
	query, ok := ParseCommand("   @eva   answer the client   ")
	assert.True(t, ok)
	assert.Equal(t, "answer the client", query)
}

func TestParseCommandRejectsBareTrigger(t *testing.T) {
	_, ok := ParseCommand("@eva")
	assert.False(t, ok)

	_, ok = ParseCommand("@eva   ")
	assert.False(t, ok)
}

func TestParseCommandRequiresWhitespaceAfterTrigger(t *testing.T) {
	_, ok := ParseCommand("@evaluate the contract")
	assert.False(t, ok)
}

func TestParseCommandRejectsPlainText(t *testing.T) {
	_, ok := ParseCommand("hello, the documents are attached")
	assert.False(t, ok)

	_, ok = ParseCommand("")
	assert.False(t, ok)
}

func TestParseCommandRejectsTriggerInMiddle(t *testing.T) {
	_, ok := ParseCommand("please ask @eva to draft it")
	assert.False(t, ok)
}
