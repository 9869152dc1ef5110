package textextract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_EmptyFile(t *testing.T) {
	_, err := Extract("notes.txt", nil)
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestExtract_UnsupportedType(t *testing.T) {
	_, err := Extract("image.png", []byte{0x89, 0x50})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestExtract_PlainText(t *testing.T) {
	text, err := Extract("notes.txt", []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestExtract_MarkdownByExtension(t *testing.T) {
	text, err := Extract("README.md", []byte("# title"))
	require.NoError(t, err)
	assert.Equal(t, "# title", text)
}

func TestExtract_Latin1Fallback(t *testing.T) {
	// 0xE9 is not valid UTF-8 on its own; Latin-1 maps it to é.
	text, err := Extract("notes.txt", []byte{'c', 'a', 'f', 0xE9})
	require.NoError(t, err)
	assert.Equal(t, "café", text)
}

func TestExtract_CaseInsensitiveExtension(t *testing.T) {
	text, err := Extract("NOTES.TXT", []byte("upper"))
	require.NoError(t, err)
	assert.Equal(t, "upper", text)
}
