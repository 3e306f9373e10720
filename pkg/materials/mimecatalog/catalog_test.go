package mimecatalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeForFilename(t *testing.T) {
	c := Default()

	tests := []struct {
		name     string
		filename string
		want     string
	}{
		{"simple", "syllabus.pdf", "application/pdf"},
		{"upper case", "SLIDES.PPTX", "application/vnd.openxmlformats-officedocument.presentationml.presentation"},
		{"compound extension wins", "viko.tar.gz", "application/x-gtar-compressed"},
		{"last part only", "viko.gz", "application/gzip"},
		{"dots in the stem", "week.1.notes.txt", "text/plain"},
		{"directory is ignored", "archive.tar/readme", DefaultType},
		{"windows path", `C:\course\photo.JPG`, "image/jpeg"},
		{"no extension", "README", DefaultType},
		{"unknown extension", "data.xyz", DefaultType},
		{"trailing dot", "file.", DefaultType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.TypeForFilename(tt.filename))
		})
	}
}

func TestTypeAttributes(t *testing.T) {
	c := Default()

	assert.Equal(t, "document", c.Category("application/pdf"))
	assert.Equal(t, "pdf", c.CSSClass("application/pdf"))
	assert.Equal(t, "pdf", c.Extension("application/pdf"))

	assert.Equal(t, "text", c.Category("text/plain; charset=utf-8"))
	assert.Equal(t, "archive", c.Category("APPLICATION/ZIP"))
	assert.Equal(t, "tar.gz", c.Extension("application/x-gtar-compressed"))

	assert.Equal(t, UnknownCategory, c.Category("application/x-unknown"))
	assert.Equal(t, UnknownCSSClass, c.CSSClass("application/x-unknown"))
	assert.Equal(t, "", c.Extension("application/x-unknown"))
	assert.Equal(t, UnknownCategory, c.Category(""))
}

func TestLoad(t *testing.T) {
	t.Run("custom table", func(t *testing.T) {
		c, err := Load(strings.NewReader(`
extensions:
  .Foo: application/x-foo
  foo.bar: application/x-foobar
types:
  application/x-foo: {category: custom, css: foo, extension: foo}
`))
		require.NoError(t, err)
		assert.Equal(t, "application/x-foo", c.TypeForFilename("a.foo"))
		assert.Equal(t, "application/x-foobar", c.TypeForFilename("a.foo.bar"))
		assert.Equal(t, "custom", c.Category("application/x-foo"))
	})

	t.Run("empty mime type", func(t *testing.T) {
		_, err := Load(strings.NewReader("extensions:\n  foo: \"\"\n"))
		assert.Error(t, err)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := Load(strings.NewReader("extensions: [1, 2"))
		assert.Error(t, err)
	})
}
