package ui

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderKeepsText(t *testing.T) {
	for name, render := range map[string]func(string) string{
		"accent": RenderAccent,
		"pass":   RenderPass,
		"warn":   RenderWarn,
		"fail":   RenderFail,
		"muted":  RenderMuted,
		"id":     RenderID,
		"title":  RenderTitle,
	} {
		assert.Contains(t, render("hello"), "hello", name)
	}
	assert.Contains(t, RenderKey("Remote"), "Remote")
}

func TestCheckbox(t *testing.T) {
	assert.Contains(t, Checkbox(true), "[x]")
	assert.Contains(t, Checkbox(false), "[ ]")
}

func TestIsTTY_RegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "tty")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	assert.False(t, IsTTY(f))
}
