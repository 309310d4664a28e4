// Package redaction scrubs secrets from insight, progress and delegation text
// before it is persisted on a context record.
package redaction

import (
	"bufio"
	"os"
	"regexp"
	"strings"
)

// sensitivePatterns are compiled once at package init and applied in layer 2.
// The shapes are tuned to what agents paste into insight and progress notes:
// provider API keys, repo and CI tokens, auth headers, and connection strings
// with embedded credentials.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]+`),                // Anthropic API keys
	regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),                // OpenAI-style API keys
	regexp.MustCompile(`(?i)sk_(?:live|test)_[a-zA-Z0-9]+`),    // Stripe keys
	regexp.MustCompile(`gh[pousr]_[a-zA-Z0-9]{16,}`),           // GitHub tokens (PAT, OAuth, app, refresh)
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),                     // AWS access key IDs
	regexp.MustCompile(`xox[baprs]-[a-zA-Z0-9-]+`),             // Slack tokens
	regexp.MustCompile(`(?i)\bbearer\s+[a-zA-Z0-9._~+/-]+=*`),  // Authorization: Bearer ...
	regexp.MustCompile(`\b[a-z][a-z0-9+.-]*://[^/\s:@]+:[^@\s]+@`),   // credentials embedded in URLs
	regexp.MustCompile(`-----BEGIN (?:[A-Z]+ )*PRIVATE KEY-----`),    // private key blocks
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+`),       // JWTs
	regexp.MustCompile(`(?i)(?:password|passwd|secret|token|api[_-]?key)\s*[:=]\s*["']?.+`), // key = value assignments
}

// redactedTagRe matches explicit <redacted>...</redacted> pairs (including multiline).
var redactedTagRe = regexp.MustCompile(`(?s)<redacted>.*?</redacted>`)

const replacement = "[REDACTED]"

// Redact applies a three-layer pipeline to text:
//
//  1. Explicit <redacted>...</redacted> tags, replaced with [REDACTED] until
//     no pairs remain; orphaned opening/closing tags are then stripped.
//  2. Built-in sensitive patterns (API keys, tokens, passwords).
//  3. Caller-supplied extraPatterns (e.g. from LoadIgnoreFile).
func Redact(text string, extraPatterns []*regexp.Regexp) string {
	// Layer 1: explicit tags, looped until stable.
	for {
		next := redactedTagRe.ReplaceAllString(text, replacement)
		if next == text {
			break
		}
		text = next
	}
	// Strip any remaining orphaned tags.
	text = strings.ReplaceAll(text, "<redacted>", "")
	text = strings.ReplaceAll(text, "</redacted>", "")

	// Layer 2: built-in patterns.
	for _, re := range sensitivePatterns {
		text = re.ReplaceAllString(text, replacement)
	}

	// Layer 3: caller-supplied patterns.
	for _, re := range extraPatterns {
		text = re.ReplaceAllString(text, replacement)
	}

	return text
}

// LoadIgnoreFile reads a .taskhiveignore file and compiles each non-blank,
// non-comment line as a regular expression.
// Returns nil (no error) if the file does not exist.
func LoadIgnoreFile(path string) ([]*regexp.Regexp, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []*regexp.Regexp
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		re, err := regexp.Compile(line)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, re)
	}
	return patterns, scanner.Err()
}
