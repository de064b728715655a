// Copyright 2024-2026 Aiku AI

// Package markdown renders chat message markdown to HTML.
package markdown

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Raw HTML in messages is escaped and links with unsafe schemes
// (javascript:, data:, ...) lose their href; both are goldmark defaults
// when WithUnsafe is not set.
var renderer = goldmark.New(
	goldmark.WithExtensions(
		extension.Strikethrough,
		extension.Linkify,
	),
	goldmark.WithRendererOptions(
		html.WithHardWraps(),
	),
)

// Render converts message markdown to an HTML fragment. Empty content
// renders to an empty string.
func Render(content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := renderer.Convert([]byte(content), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// HasFormatting reports whether rendering content produces anything beyond
// a single plain paragraph.
func HasFormatting(content string) bool {
	rendered, err := Render(content)
	if err != nil || rendered == "" {
		return false
	}
	inner, ok := strings.CutPrefix(rendered, "<p>")
	if !ok {
		return true
	}
	inner, ok = strings.CutSuffix(inner, "</p>")
	return !ok || strings.Contains(inner, "<")
}
