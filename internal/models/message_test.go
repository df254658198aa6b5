package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBodyProjectsTextContent(t *testing.T) {
	msg := Message{Kind: KindText, Content: "hello"}

	body, ok := msg.Body().(TextContent)
	require.True(t, ok)
	assert.Equal(t, "hello", body.Text)
}

func TestBodyProjectsFileContent(t *testing.T) {
	msg := Message{
		Kind:    KindFile,
		Content: "signed contract",
		Attachment: &AttachmentMeta{
			Name:     "contract.pdf",
			MimeType: "application/pdf",
		},
	}

	body, ok := msg.Body().(FileContent)
	require.True(t, ok)
	assert.Equal(t, "signed contract", body.Caption)
	assert.Equal(t, "contract.pdf", body.Attachment.Name)
}

func TestBodyProjectsSystemContent(t *testing.T) {
	msg := Message{Kind: KindSystem, Content: "hearing rescheduled"}

	body, ok := msg.Body().(SystemContent)
	require.True(t, ok)
	assert.Equal(t, "hearing rescheduled", body.Note)
}

func TestBodyDefaultsToText(t *testing.T) {
	msg := Message{Content: "untyped"}

	body, ok := msg.Body().(TextContent)
	require.True(t, ok)
	assert.Equal(t, "untyped", body.Text)
}
