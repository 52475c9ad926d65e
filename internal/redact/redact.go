// Package redact scrubs sensitive information from strings before they are
// logged, returned in error responses or stored as a job's error message.
// Data-source and blob-store failures routinely embed connection strings,
// file system paths, SQL text and credentials; none of that may reach a
// report requester.
package redact

import "regexp"

// Constants for redaction placeholders
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedSQLPlaceholder        = "[REDACTED_SQL]"
	RedactedHostPlaceholder       = "[REDACTED_HOST]"
)

// MaxStoredMessageLen bounds error text persisted on a job record.
const MaxStoredMessageLen = 500

type rule struct {
	pattern     *regexp.Regexp
	placeholder string
}

// rules are applied in order; credential-bearing URLs go first so later
// path and host rules do not split them.
var rules = []rule{
	{regexp.MustCompile(`(?i)\b(postgres(?:ql)?|mysql|sqlite|mongodb|redis)://[^\s]+`), RedactedCredentialPlaceholder},
	{regexp.MustCompile(`(?i)\b[\w.-]+:[^@\s/]+@tcp\([^)]*\)/\S*`), RedactedCredentialPlaceholder},
	{regexp.MustCompile(`(?i)(password|passwd|pwd)([=:\s]?['"]?)[^'"&\s]{3,}`), RedactedCredentialPlaceholder},
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), "[REDACTED_JWT]"},
	{regexp.MustCompile(`(?i)(api[_-]?key|token|secret|access[_-]?key)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`), RedactedKeyPlaceholder},
	{regexp.MustCompile(`\b(AKIA|ASIA)[A-Z0-9]{12,}\b`), RedactedKeyPlaceholder},
	{regexp.MustCompile(`(?i)\bs3://\S+`), RedactedPathPlaceholder},
	{regexp.MustCompile(`(?i)https?://\S+`), RedactedHostPlaceholder},
	{regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|WITH)\b[\s\S]+?\b(FROM|INTO|SET)\b[^;]*`), RedactedSQLPlaceholder},
	{regexp.MustCompile(`(?:^|[\s"'(=])(/[\w.-]+){2,}`), " " + RedactedPathPlaceholder},
	{regexp.MustCompile(`[A-Za-z]:\\[^\\\s]+(\\[^\\\s]+)+`), RedactedPathPlaceholder},
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?::\d{1,5})?\b`), RedactedHostPlaceholder},
	{regexp.MustCompile(`\b[a-zA-Z0-9-]+(?:\.[a-zA-Z0-9-]+)+:\d{1,5}\b`), RedactedHostPlaceholder},
	{regexp.MustCompile(`(?:goroutine \d+|panic:)[\s\S]*?(\n\t.*)+`), "[STACK_TRACE_REDACTED]"},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[REDACTED_EMAIL]"},
}

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.placeholder)
	}
	return result
}

// Error redacts sensitive information from an error's Error() output.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// ForStorage redacts err and truncates the result to MaxStoredMessageLen
// bytes without splitting a UTF-8 sequence.
func ForStorage(err error) string {
	msg := Error(err)
	if len(msg) <= MaxStoredMessageLen {
		return msg
	}
	cut := MaxStoredMessageLen
	for cut > 0 && msg[cut]&0xC0 == 0x80 {
		cut--
	}
	return msg[:cut]
}
