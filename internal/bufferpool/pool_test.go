package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPutResetsBuffer(t *testing.T) {
	p := New()
	buf := p.Get()
	buf.WriteString("reply")
	p.Put(buf)

	assert.Zero(t, buf.Len())
	assert.Zero(t, p.Get().Len())
}
