// Package security holds the stateless screening helpers of the pipeline:
// client address extraction, sliding-window rate limiting, attack signatures
// and output sanitization.
package security

import (
	"html"
	"regexp"
	"strings"
)

var xssSignatures = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*/?\s*script\b`),
	regexp.MustCompile(`(?i)<\s*(iframe|object|embed|applet|frameset|frame)\b`),
	regexp.MustCompile(`(?i)\bon[a-z]+\s*=`),
	regexp.MustCompile(`(?i)(java|vb)script\s*:`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),
	regexp.MustCompile(`(?i)expression\s*\(`),
}

var sqlSignatures = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bunion\b[\s\S]*\bselect\b`),
	regexp.MustCompile(`(?i)['"]\s*(or|and)\s+['"]?\w+['"]?\s*=\s*['"]?\w+`),
	regexp.MustCompile(`(?i)\b(or|and)\s+(\d+)\s*=\s*(\d+)\b`),
	regexp.MustCompile(`--|/\*|\*/`),
	regexp.MustCompile(`(?i);\s*(drop|delete|truncate|alter|insert|update|create)\b`),
	regexp.MustCompile(`(?i)\bexec(ute)?\s+(xp|sp)_\w+`),
	regexp.MustCompile(`(?i)\b(sleep|benchmark|pg_sleep)\s*\(`),
}

// MatchesXSS reports whether s carries a script-injection signature.
func MatchesXSS(s string) bool {
	for _, re := range xssSignatures {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// MatchesSQLInjection reports whether s carries an SQL metacharacter signature.
func MatchesSQLInjection(s string) bool {
	for _, re := range sqlSignatures {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// IsMalicious combines both signature families.
func IsMalicious(s string) bool {
	return MatchesXSS(s) || MatchesSQLInjection(s)
}

// StripNUL removes NUL bytes, which some backends treat as string terminators.
func StripNUL(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

// SanitizeInput is the baseline applied to every string value:
// strip NUL bytes, trim, and entity-encode HTML-reserved characters.
func SanitizeInput(s string) string {
	return html.EscapeString(strings.TrimSpace(StripNUL(s)))
}

// SanitizeOutput encodes a value for safe inclusion in HTML or logs.
func SanitizeOutput(s string) string {
	return html.EscapeString(StripNUL(s))
}

var suspiciousAgents = []string{
	"sqlmap", "nikto", "nmap", "masscan", "acunetix", "nessus", "dirbuster",
	"gobuster", "wpscan", "havij", "zgrab", "python-requests", "libwww-perl",
}

// IsSuspiciousUserAgent is an advisory heuristic for audit logs. It never rejects.
func IsSuspiciousUserAgent(ua string) bool {
	ua = strings.ToLower(strings.TrimSpace(ua))
	if ua == "" {
		return true
	}
	for _, s := range suspiciousAgents {
		if strings.Contains(ua, s) {
			return true
		}
	}
	return false
}
