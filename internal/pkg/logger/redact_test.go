package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactHandle(t *testing.T) {
	assert.Equal(t, "th***", RedactHandle("thecoffeeguy"))
	assert.Equal(t, "sa***", RedactHandle("sam"))
	assert.Equal(t, "***", RedactHandle("ab"))
	assert.Equal(t, "***", RedactHandle(""))
}

func TestRedactText(t *testing.T) {
	assert.Equal(t, "short", RedactText("short"))
	assert.Equal(t, "exactly12chr", RedactText("exactly12chr"))
	assert.Equal(t, "is this stil…[truncated]", RedactText("is this still in stock? asking for a friend"))
}
