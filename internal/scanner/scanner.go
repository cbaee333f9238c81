// Package scanner inspects untrusted file bytes for executable or script content.
// Scanning is pure: no network access, no external engines, same input same result.
package scanner

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// headWindow is how much of the file the content-pattern layer reads.
const headWindow = 8 * 1024

// DefaultReadLimit caps how much ScanFile reads from disk.
const DefaultReadLimit = 50 << 20

var blockedExtensions = []string{
	"php", "php3", "php4", "php5", "php7", "php8", "phtml", "phar", "pht", "phps",
	"asp", "aspx", "ascx", "ashx", "asmx", "jsp", "jspx", "cfm", "cgi", "pl", "py", "rb",
	"sh", "bash", "zsh", "ksh", "exe", "dll", "so", "bat", "cmd", "com", "scr", "msi", "msp",
	"vbs", "vbe", "js", "jse", "mjs", "wsf", "wsh", "ps1", "psm1", "hta", "jar", "war", "class",
	"htaccess", "htpasswd", "html", "htm", "shtml", "xhtml", "svg", "swf", "lnk", "reg", "cpl",
}

// mimeDenyList holds sniffed types that are never accepted. Aliases and parents are handled by mimetype.
var mimeDenyList = []string{
	"application/vnd.microsoft.portable-executable",
	"application/x-elf",
	"application/x-executable",
	"application/x-sharedlib",
	"application/x-mach-binary",
	"application/x-msi",
	"application/x-java-applet",
	"application/jar",
	"application/x-shockwave-flash",
	"text/x-php",
	"text/x-python",
	"text/x-perl",
	"text/x-shellscript",
	"text/x-lua",
	"text/x-tcl",
	"text/javascript",
	"application/javascript",
	"text/html",
	"image/svg+xml",
}

var contentPatterns = [][]byte{
	[]byte("<?php"),
	[]byte("<?="),
	[]byte("<script"),
	[]byte("eval("),
	[]byte("exec("),
	[]byte("system("),
	[]byte("shell_exec("),
	[]byte("passthru("),
	[]byte("proc_open("),
	[]byte("popen("),
	[]byte("base64_decode("),
	[]byte("file_get_contents("),
	[]byte("curl_exec("),
	[]byte("fsockopen("),
}

var (
	sigJPEG     = []byte{0xFF, 0xD8, 0xFF}
	sigPNG      = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	sigGIF87    = []byte("GIF87a")
	sigGIF89    = []byte("GIF89a")
	sigPDF      = []byte("%PDF")
	sigZipLocal = []byte{'P', 'K', 0x03, 0x04}
	sigZipEmpty = []byte{'P', 'K', 0x05, 0x06}
	sigZipSpan  = []byte{'P', 'K', 0x07, 0x08}
	sigELF      = []byte{0x7F, 'E', 'L', 'F'}
	sigMZ       = []byte("MZ")
	sigPE       = []byte{'P', 'E', 0, 0}
)

var magicTable = map[string][][]byte{
	"jpg":  {sigJPEG},
	"jpeg": {sigJPEG},
	"png":  {sigPNG},
	"gif":  {sigGIF87, sigGIF89},
	"pdf":  {sigPDF},
	"zip":  {sigZipLocal, sigZipEmpty, sigZipSpan},
	"docx": {sigZipLocal},
	"xlsx": {sigZipLocal},
	"pptx": {sigZipLocal},
}

// zipContainers are formats whose legitimate files start with a ZIP local header.
var zipContainers = map[string]bool{
	"zip": true, "docx": true, "xlsx": true, "pptx": true,
	"odt": true, "ods": true, "odp": true, "epub": true,
}

// Result is the accumulated verdict of every layer.
type Result struct {
	Safe         bool     `json:"safe"`
	Threats      []string `json:"threats"`
	Warnings     []string `json:"warnings"`
	DetectedMIME string   `json:"detected_mime"`
}

// Scanner runs the layered inspection.
type Scanner struct {
	blocked   map[string]struct{}
	readLimit int64
}

// New builds a Scanner. extraBlocked extends the built-in extension deny-list.
// A non-positive readLimit uses DefaultReadLimit.
func New(extraBlocked []string, readLimit int64) *Scanner {
	blocked := make(map[string]struct{}, len(blockedExtensions)+len(extraBlocked))
	for _, e := range blockedExtensions {
		blocked[e] = struct{}{}
	}
	for _, e := range extraBlocked {
		if e = normalizeExt(e); e != "" {
			blocked[e] = struct{}{}
		}
	}
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	return &Scanner{blocked: blocked, readLimit: readLimit}
}

// Extension returns the lowercased final extension of name without the dot.
func Extension(name string) string {
	return normalizeExt(filepath.Ext(filepath.Base(name)))
}

func normalizeExt(e string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
}

// CheckName runs the extension layer alone. It returns the threats found, if any.
func (s *Scanner) CheckName(filename string, allowedTypes []string) []string {
	var threats []string
	base := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	segments := strings.Split(strings.ToLower(base), ".")
	for i, seg := range segments {
		if i == 0 {
			continue
		}
		if _, bad := s.blocked[strings.TrimSpace(seg)]; bad {
			threats = append(threats, fmt.Sprintf("blocked extension .%s", seg))
		}
	}
	if len(allowedTypes) > 0 {
		ext := Extension(base)
		allowed := false
		for _, a := range allowedTypes {
			if normalizeExt(a) == ext {
				allowed = true
				break
			}
		}
		if !allowed {
			threats = append(threats, "extension not in allowed types")
		}
	}
	return threats
}

// Scan inspects content claimed to be filename. All layers run and their findings accumulate.
func (s *Scanner) Scan(content []byte, filename string, allowedTypes []string) Result {
	res := Result{}
	res.Threats = append(res.Threats, s.CheckName(filename, allowedTypes)...)

	detected := mimetype.Detect(content)
	res.DetectedMIME = detected.String()
	for m := detected; m != nil; m = m.Parent() {
		if denied(m) {
			res.Threats = append(res.Threats, "disallowed content type "+m.String())
			break
		}
	}

	head := content
	if len(head) > headWindow {
		head = head[:headWindow]
	}
	lower := bytes.ToLower(head)
	for _, p := range contentPatterns {
		if bytes.Contains(lower, p) {
			res.Threats = append(res.Threats, "suspicious content "+string(p))
		}
	}

	ext := Extension(filename)
	if sigs, ok := magicTable[ext]; ok && !hasAnyPrefix(content, sigs) {
		res.Warnings = append(res.Warnings, "content does not match ."+ext+" signature")
	}

	res.Threats = append(res.Threats, embeddedExecutables(content, ext)...)

	res.Safe = len(res.Threats) == 0
	return res
}

// ScanFile reads at most the configured limit from path and scans it.
func (s *Scanner) ScanFile(path, filename string, allowedTypes []string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, s.readLimit+1))
	if err != nil {
		return Result{}, err
	}
	truncated := int64(len(content)) > s.readLimit
	if truncated {
		content = content[:s.readLimit]
	}
	res := s.Scan(content, filename, allowedTypes)
	if truncated {
		res.Warnings = append(res.Warnings, "scan truncated at read limit")
	}
	return res, nil
}

func denied(m *mimetype.MIME) bool {
	for _, d := range mimeDenyList {
		if m.Is(d) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(b []byte, sigs [][]byte) bool {
	for _, sig := range sigs {
		if bytes.HasPrefix(b, sig) {
			return true
		}
	}
	return false
}

func embeddedExecutables(content []byte, ext string) []string {
	var threats []string
	if bytes.HasPrefix(content, sigMZ) || hasPEImage(content) {
		threats = append(threats, "embedded windows executable")
	}
	if bytes.Contains(content, sigELF) {
		threats = append(threats, "embedded elf executable")
	}
	if i := bytes.Index(content, sigZipLocal); i > 0 || (i == 0 && !zipContainers[ext]) {
		threats = append(threats, "embedded zip archive")
	}
	return threats
}

// hasPEImage looks for a DOS stub whose e_lfanew points at a PE signature.
func hasPEImage(content []byte) bool {
	for off := 0; off < len(content); {
		i := bytes.Index(content[off:], sigMZ)
		if i < 0 {
			return false
		}
		start := off + i
		if start+0x40 <= len(content) {
			lfanew := int(binary.LittleEndian.Uint32(content[start+0x3C : start+0x40]))
			pe := start + lfanew
			if lfanew >= 0x40 && pe >= start && pe+len(sigPE) <= len(content) && bytes.Equal(content[pe:pe+len(sigPE)], sigPE) {
				return true
			}
		}
		off = start + 1
	}
	return false
}
