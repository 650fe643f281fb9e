package imagepick

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	candidatePrefix = "candidate_"
	imageExt        = ".jpg"
)

// CandidateStore is the filesystem layout shared by every run:
//
//	<CandidatesRoot>/<id>_<slug>/candidate_<n>.jpg
//	<OutputRoot>/<id>_<slug>.jpg
//
// The layout is the only persistent state; it is what makes re-runs resume.
type CandidateStore struct {
	CandidatesRoot string
	OutputRoot     string
}

// NewCandidateStore builds a store rooted at the configured directories.
func NewCandidateStore(cfg *Config) *CandidateStore {
	cfg.defaults()
	return &CandidateStore{CandidatesRoot: cfg.CandidatesDir, OutputRoot: cfg.OutputDir}
}

// Dir returns the candidate directory for rec.
func (s *CandidateStore) Dir(rec KeywordRecord) string {
	return filepath.Join(s.CandidatesRoot, rec.Name())
}

// CandidatePath returns the path of candidate rank n (1-based).
func (s *CandidateStore) CandidatePath(rec KeywordRecord, n int) string {
	return filepath.Join(s.Dir(rec), candidatePrefix+strconv.Itoa(n)+imageExt)
}

// FinalPath returns the path of the final image for rec.
func (s *CandidateStore) FinalPath(rec KeywordRecord) string {
	return filepath.Join(s.OutputRoot, rec.Name()+imageExt)
}

// HasFinal reports whether the final image for rec exists.
func (s *CandidateStore) HasFinal(rec KeywordRecord) bool {
	info, err := os.Stat(s.FinalPath(rec))
	return err == nil && info.Mode().IsRegular()
}

// EnsureDir creates the candidate directory for rec.
func (s *CandidateStore) EnsureDir(rec KeywordRecord) error {
	if err := os.MkdirAll(s.Dir(rec), 0o755); err != nil {
		return fmt.Errorf("create candidate dir: %w", err)
	}
	return nil
}

// HasSufficient reports whether rec's candidate directory already holds at
// least target canonical-format files.
func (s *CandidateStore) HasSufficient(rec KeywordRecord, target int) bool {
	entries, err := os.ReadDir(s.Dir(rec))
	if err != nil {
		return false
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), imageExt) {
			n++
		}
	}
	return n >= target
}

// CandidatePaths returns rec's candidate files ordered by rank.
// Files not named candidate_<n>.jpg are ignored.
func (s *CandidateStore) CandidatePaths(rec KeywordRecord) []string {
	dir := s.Dir(rec)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	type ranked struct {
		n    int
		path string
	}
	var found []ranked
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if n, ok := candidateRank(e.Name()); ok {
			found = append(found, ranked{n: n, path: filepath.Join(dir, e.Name())})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

	paths := make([]string, len(found))
	for i, f := range found {
		paths[i] = f.path
	}
	return paths
}

// candidateRank parses n out of "candidate_<n>.jpg".
func candidateRank(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, candidatePrefix)
	if !ok {
		return 0, false
	}
	num, ok := strings.CutSuffix(rest, imageExt)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Exists reports whether path is a regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// CopyFile copies src to dst through a temporary file so dst is never partial.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmpName, dst)
}

// removeIfExists deletes path, ignoring a missing file.
func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
