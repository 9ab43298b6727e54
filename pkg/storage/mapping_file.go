package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/offsync/pkg/domain/tracking"
)

// DefaultMappingFile is the mapping file name used when none is configured.
const DefaultMappingFile = "processed_offenses.txt"

// FileMappingStore persists mappings as plain text, one `incidentID,cardID[,stage[,archiveCardID]]`
// record per line. New incidents are appended; stage changes and removals rewrite the file
// through a temp file and rename.
type FileMappingStore struct {
	mu          sync.Mutex
	path        string
	retryConfig retry.Config
}

// NewFileMappingStore creates a store backed by path. The file is created on first write.
func NewFileMappingStore(path string) *FileMappingStore {
	if path == "" {
		path = DefaultMappingFile
	}
	return &FileMappingStore{
		path: path,
		retryConfig: retry.Config{
			MaxAttempts:   3,
			InitialDelay:  10 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
		},
	}
}

// Path returns the backing file path.
func (s *FileMappingStore) Path() string {
	return s.path
}

// Load reads every well-formed record. A missing file yields an empty set.
func (s *FileMappingStore) Load(ctx context.Context) (tracking.Mappings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	retryer := retry.New[tracking.Mappings](s.retryConfig)
	ms, err := retryer.Do(ctx, func(ctx context.Context) (tracking.Mappings, error) {
		return s.read()
	})
	if err != nil {
		return nil, &tracking.StoreError{Op: "load", Path: s.path, Err: err}
	}
	return ms, nil
}

// Upsert appends a record for a new incident or rewrites the file when the incident is known.
func (s *FileMappingStore) Upsert(ctx context.Context, m tracking.Mapping) error {
	if m.IncidentID <= 0 || m.CardID <= 0 {
		return &tracking.StoreError{Op: "upsert", Path: s.path, Err: fmt.Errorf("invalid mapping %d -> %d", m.IncidentID, m.CardID)}
	}
	if m.Stage == "" {
		m.Stage = tracking.StageAssigned
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read()
	if err != nil {
		return &tracking.StoreError{Op: "upsert", Path: s.path, Err: err}
	}

	if _, exists := current[m.IncidentID]; !exists {
		if err := s.appendRecord(m); err != nil {
			return &tracking.StoreError{Op: "append", Path: s.path, Err: err}
		}
		return nil
	}

	current[m.IncidentID] = m
	if err := s.rewrite(current); err != nil {
		return &tracking.StoreError{Op: "rewrite", Path: s.path, Err: err}
	}
	return nil
}

// Remove rewrites the file without the incident's record.
func (s *FileMappingStore) Remove(ctx context.Context, incidentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read()
	if err != nil {
		return &tracking.StoreError{Op: "remove", Path: s.path, Err: err}
	}
	if _, exists := current[incidentID]; !exists {
		return nil
	}

	delete(current, incidentID)
	if err := s.rewrite(current); err != nil {
		return &tracking.StoreError{Op: "rewrite", Path: s.path, Err: err}
	}
	return nil
}

func (s *FileMappingStore) read() (tracking.Mappings, error) {
	// #nosec G304 -- path comes from operator configuration
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return tracking.Mappings{}, nil
		}
		return nil, fmt.Errorf("open mapping file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	return ParseMappings(f)
}

// maxRecordLen bounds one record line. Longer lines cannot hold a valid record and are skipped.
const maxRecordLen = 4096

// ParseMappings reads records from r. Malformed, incomplete or overlong lines are skipped
// and a later record for the same incident replaces an earlier one.
func ParseMappings(r io.Reader) (tracking.Mappings, error) {
	ms := tracking.Mappings{}
	br := bufio.NewReader(r)

	var (
		line     []byte
		overlong bool
	)
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read mapping file: %w", err)
		}
		if !overlong {
			line = append(line, chunk...)
			overlong = len(line) > maxRecordLen
		}
		if isPrefix {
			continue
		}
		if !overlong {
			if m, ok := parseRecord(string(line)); ok {
				ms[m.IncidentID] = m
			}
		}
		line, overlong = line[:0], false
	}
	return ms, nil
}

func parseRecord(line string) (tracking.Mapping, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return tracking.Mapping{}, false
	}

	fields := strings.Split(line, ",")
	if len(fields) < 2 || len(fields) > 4 {
		return tracking.Mapping{}, false
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	incidentID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || incidentID <= 0 {
		return tracking.Mapping{}, false
	}
	cardID, err := strconv.Atoi(fields[1])
	if err != nil || cardID <= 0 {
		return tracking.Mapping{}, false
	}

	m := tracking.Mapping{IncidentID: incidentID, CardID: cardID, Stage: tracking.StageAssigned}
	if len(fields) >= 3 && fields[2] != "" {
		stage, err := tracking.ParseStage(fields[2])
		if err != nil || stage == tracking.StageOriginalDeleted {
			return tracking.Mapping{}, false
		}
		m.Stage = stage
	}
	if len(fields) == 4 && fields[3] != "" {
		archiveID, err := strconv.Atoi(fields[3])
		if err != nil || archiveID < 0 {
			return tracking.Mapping{}, false
		}
		m.ArchiveCardID = archiveID
	}
	return m, true
}

// FormatRecord renders one mapping line without the trailing newline. Steady-state
// records keep the two-field form.
func FormatRecord(m tracking.Mapping) string {
	base := strconv.FormatInt(m.IncidentID, 10) + "," + strconv.Itoa(m.CardID)
	if (m.Stage == "" || m.Stage == tracking.StageAssigned) && m.ArchiveCardID == 0 {
		return base
	}
	if m.ArchiveCardID == 0 {
		return base + "," + string(m.Stage)
	}
	return base + "," + string(m.Stage) + "," + strconv.Itoa(m.ArchiveCardID)
}

func (s *FileMappingStore) appendRecord(m tracking.Mapping) (err error) {
	if err := s.ensureDir(); err != nil {
		return err
	}

	// #nosec G304 -- path comes from operator configuration
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open mapping file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close mapping file: %w", cerr)
		}
	}()

	prefix, err := separatorFor(f)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(prefix + FormatRecord(m) + "\n"); err != nil {
		return fmt.Errorf("write mapping: %w", err)
	}
	return f.Sync()
}

// separatorFor returns "\n" when the file's last line is unterminated.
func separatorFor(f *os.File) (string, error) {
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat mapping file: %w", err)
	}
	if info.Size() == 0 {
		return "", nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return "", fmt.Errorf("read mapping file: %w", err)
	}
	if last[0] == '\n' {
		return "", nil
	}
	return "\n", nil
}

func (s *FileMappingStore) rewrite(ms tracking.Mappings) (err error) {
	if err := s.ensureDir(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	for _, m := range ms.Sorted() {
		if _, err := w.WriteString(FormatRecord(m) + "\n"); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write temp file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace mapping file: %w", err)
	}
	return nil
}

func (s *FileMappingStore) ensureDir() error {
	dir := filepath.Dir(s.path)
	if dir == "." || dir == "" {
		return nil
	}
	// G301: Use 0700 for directories
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create mapping directory: %w", err)
	}
	return nil
}
