// Package upload keeps files accepted ahead of a submission in a quarantine directory
// until a submission claims them or they expire.
package upload

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"formgate/internal/model"
	"formgate/internal/scanner"
)

var (
	// ErrNotFound covers unknown, malformed, expired and already-claimed temp references.
	ErrNotFound = errors.New("upload expired or not found")
	// ErrTooLarge is returned when the stream exceeds the allowed size.
	ErrTooLarge = errors.New("file exceeds size limit")
	// ErrEmpty is returned for zero-byte uploads.
	ErrEmpty = errors.New("file is empty")
	// ErrBlockedName is returned when the name fails the extension deny-list.
	ErrBlockedName = errors.New("file type not allowed")
	// ErrNotPreviewable is returned by Preview for anything but png, jpeg and gif.
	ErrNotPreviewable = errors.New("file cannot be previewed")
)

// DefaultTTL is how long an unclaimed staged file survives.
const DefaultTTL = time.Hour

const (
	claimedDir   = "claimed"
	metaDir      = "meta"
	partialGlob  = ".stage-*"
	previewLimit = 20 << 20
)

var tempRefPattern = regexp.MustCompile(`^[a-f0-9]{64}(\.[a-z0-9]{1,8})?$`)

var safeExt = regexp.MustCompile(`^[a-z0-9]{1,8}$`)

var previewTypes = []string{"image/png", "image/jpeg", "image/gif"}

type sidecar struct {
	OriginalName string    `json:"original_name"`
	DeclaredType string    `json:"declared_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// Stager owns the quarantine directory.
type Stager struct {
	dir     string
	ttl     time.Duration
	scanner *scanner.Scanner
	now     func() time.Time
}

// NewStager creates the quarantine layout under dir.
func NewStager(dir string, ttl time.Duration, sc *scanner.Scanner) (*Stager, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	for _, d := range []string{dir, filepath.Join(dir, claimedDir), filepath.Join(dir, metaDir)} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return nil, fmt.Errorf("create quarantine dir: %w", err)
		}
	}
	return &Stager{dir: dir, ttl: ttl, scanner: sc, now: time.Now}, nil
}

// Dir returns the quarantine root.
func (s *Stager) Dir() string { return s.dir }

// TTL returns the staging lifetime.
func (s *Stager) TTL() time.Duration { return s.ttl }

// Stage streams r into the quarantine directory under a random name.
// At most maxBytes are accepted.
func (s *Stager) Stage(ctx context.Context, r io.Reader, originalName, declaredType string, maxBytes int64) (*model.StagedFile, error) {
	if r == nil {
		return nil, ErrEmpty
	}
	name := cleanOriginalName(originalName)
	if threats := s.scanner.CheckName(name, nil); len(threats) > 0 {
		return nil, ErrBlockedName
	}

	tempID, err := newTempID()
	if err != nil {
		return nil, err
	}
	tempName := tempID
	if ext := scanner.Extension(name); safeExt.MatchString(ext) {
		tempName += "." + ext
	}

	tmp, err := os.CreateTemp(s.dir, partialGlob)
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, io.LimitReader(contextReader{ctx, r}, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("write staging file: %w", err)
	}
	if n > maxBytes {
		return nil, ErrTooLarge
	}
	if n == 0 {
		return nil, ErrEmpty
	}
	if err := tmp.Chmod(0o600); err != nil {
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	final := filepath.Join(s.dir, tempName)
	if err := os.Rename(tmp.Name(), final); err != nil {
		return nil, fmt.Errorf("commit staging file: %w", err)
	}
	tmp = nil

	created := s.now()
	meta := sidecar{OriginalName: name, DeclaredType: declaredType, CreatedAt: created}
	if err := s.writeMeta(tempID, meta); err != nil {
		os.Remove(final)
		return nil, err
	}

	return &model.StagedFile{
		TempID:       tempID,
		TempName:     tempName,
		Path:         final,
		OriginalName: name,
		DeclaredType: declaredType,
		Size:         n,
		CreatedAt:    created,
	}, nil
}

// Lookup returns the staged file for ref without claiming it.
func (s *Stager) Lookup(ref string) (*model.StagedFile, error) {
	name, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	return s.describe(filepath.Join(s.dir, name), name)
}

// Consume claims the staged file for ref. Only one caller can claim a given file.
// The returned release puts the file back for a later attempt when it was not promoted.
func (s *Stager) Consume(ref string) (*model.StagedFile, func(), error) {
	name, err := s.resolve(ref)
	if err != nil {
		return nil, nil, err
	}
	src := filepath.Join(s.dir, name)
	if _, err := s.describe(src, name); err != nil {
		return nil, nil, err
	}
	claimed := filepath.Join(s.dir, claimedDir, name)
	if err := os.Rename(src, claimed); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("claim staged file: %w", err)
	}
	info, err := os.Stat(claimed)
	if err != nil {
		return nil, nil, ErrNotFound
	}
	sf, err := s.describe(claimed, name)
	if err != nil {
		return nil, nil, err
	}
	// Sweep ages claimed files from the claim, not from staging.
	now := s.now()
	if err := os.Chtimes(claimed, now, now); err != nil {
		_ = os.Rename(claimed, src)
		return nil, nil, fmt.Errorf("claim staged file: %w", err)
	}
	staged := info.ModTime()
	release := func() {
		if _, err := os.Stat(claimed); err == nil {
			_ = os.Chtimes(claimed, staged, staged)
			_ = os.Rename(claimed, src)
		}
	}
	return sf, release, nil
}

// Discard removes a staged or claimed file and its metadata.
func (s *Stager) Discard(sf *model.StagedFile) {
	if sf == nil {
		return
	}
	os.Remove(filepath.Join(s.dir, sf.TempName))
	os.Remove(filepath.Join(s.dir, claimedDir, sf.TempName))
	os.Remove(s.metaPath(sf.TempID))
}

// Forget drops the metadata of a file that left the quarantine.
func (s *Stager) Forget(tempID string) {
	os.Remove(s.metaPath(tempID))
}

// Preview returns the bytes of a staged image together with its sniffed type.
func (s *Stager) Preview(ref string) ([]byte, string, error) {
	sf, err := s.Lookup(ref)
	if err != nil {
		return nil, "", err
	}
	if sf.Size > previewLimit {
		return nil, "", ErrNotPreviewable
	}
	content, err := os.ReadFile(sf.Path)
	if err != nil {
		return nil, "", ErrNotFound
	}
	m := mimetype.Detect(content)
	for _, t := range previewTypes {
		if m.Is(t) {
			return content, t, nil
		}
	}
	return nil, "", ErrNotPreviewable
}

// Sweep removes staged, claimed and partially written files older than olderThan.
func (s *Stager) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	removed := 0
	for _, d := range []string{s.dir, filepath.Join(s.dir, claimedDir), filepath.Join(s.dir, metaDir)} {
		entries, err := os.ReadDir(d)
		if err != nil {
			return removed, err
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			if os.Remove(filepath.Join(d, e.Name())) == nil && d != filepath.Join(s.dir, metaDir) {
				removed++
			}
		}
	}
	return removed, nil
}

// resolve maps a client reference (temp id or temp name) to an on-disk name.
func (s *Stager) resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || filepath.Base(ref) != ref || !tempRefPattern.MatchString(ref) {
		return "", ErrNotFound
	}
	if strings.Contains(ref, ".") {
		return ref, nil
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, ref+".*"))
	if err != nil {
		return "", ErrNotFound
	}
	for _, m := range matches {
		if name := filepath.Base(m); tempRefPattern.MatchString(name) {
			return name, nil
		}
	}
	return ref, nil
}

func (s *Stager) describe(path, name string) (*model.StagedFile, error) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, ErrNotFound
	}
	if s.now().Sub(info.ModTime()) > s.ttl {
		os.Remove(path)
		return nil, ErrNotFound
	}
	tempID := strings.SplitN(name, ".", 2)[0]
	sf := &model.StagedFile{
		TempID:       tempID,
		TempName:     name,
		Path:         path,
		OriginalName: name,
		Size:         info.Size(),
		CreatedAt:    info.ModTime(),
	}
	if meta, err := s.readMeta(tempID); err == nil {
		sf.OriginalName = meta.OriginalName
		sf.DeclaredType = meta.DeclaredType
		sf.CreatedAt = meta.CreatedAt
	}
	return sf, nil
}

func (s *Stager) metaPath(tempID string) string {
	return filepath.Join(s.dir, metaDir, tempID+".json")
}

func (s *Stager) writeMeta(tempID string, meta sidecar) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(s.metaPath(tempID), b, 0o600)
}

func (s *Stager) readMeta(tempID string) (sidecar, error) {
	var meta sidecar
	b, err := os.ReadFile(s.metaPath(tempID))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(b, &meta)
	return meta, err
}

func newTempID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// cleanOriginalName keeps only the base name, without NUL or control characters.
func cleanOriginalName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	if len(name) > 255 {
		name = name[len(name)-255:]
	}
	return name
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
