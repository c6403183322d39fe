package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectName(t *testing.T) {
	assert.Equal(t, "abc123/paper.pdf", ObjectName("abc123", filepath.Join("papers", "nested", "paper.pdf")))
}
