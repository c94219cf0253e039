// Package credential stores per-tenant acquisition credentials: cookie
// jars in the Netscape text format the extraction tool consumes. A
// process-wide default jar can back tenants who never uploaded one.
package credential

import (
	"errors"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/R005ter/fwp/database"
)

// ErrMalformed is returned when uploaded credential bytes are not a
// recognizable cookie jar. The HTTP boundary maps it to a 400.
var ErrMalformed = errors.New("credential data is not in Netscape cookie jar format")

// jarMagicHeaders are the accepted first lines of a cookie jar. The
// extraction tool writes the first form; some browser exporters write
// the second.
var jarMagicHeaders = []string{
	"# Netscape HTTP Cookie File",
	"# HTTP Cookie File",
}

// Validate checks the fixed magic header; full jar parsing is the
// extraction tool's job, not ours.
func Validate(data []byte) error {
	text := strings.TrimLeft(string(data), "\ufeff\r\n \t")
	for _, magic := range jarMagicHeaders {
		if strings.HasPrefix(text, magic) {
			return nil
		}
	}
	return ErrMalformed
}

// Store resolves the credential jar to use for a tenant's acquisition.
type Store struct {
	db *database.Database
	// defaultJar holds the process-wide fallback jar, empty if none.
	defaultJar []byte
	log        *zap.SugaredLogger
}

func NewStore(db *database.Database, defaultJarPath string) (*Store, error) {
	s := &Store{db: db, log: zap.S().Named("credential")}
	if defaultJarPath != "" {
		data, err := os.ReadFile(defaultJarPath)
		if err != nil {
			return nil, err
		}
		if err := Validate(data); err != nil {
			return nil, err
		}
		s.defaultJar = data
		s.log.Infow("loaded default cookie jar", "path", defaultJarPath)
	}
	return s, nil
}

// Get returns the tenant's jar, falling back to the process-wide default
// jar, or nil when neither exists. Expiry is the upstream's problem; a
// stale jar just surfaces as a blocked acquisition attempt.
func (s *Store) Get(tenantID database.RowID) ([]byte, error) {
	data, err := s.db.GetTenantCredential(tenantID)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		return data, nil
	}
	if len(s.defaultJar) > 0 {
		return s.defaultJar, nil
	}
	return nil, nil
}

// Set validates and stores (or replaces) the tenant's jar.
func (s *Store) Set(tenantID database.RowID, data []byte) error {
	if err := Validate(data); err != nil {
		return err
	}
	if err := s.db.SetTenantCredential(tenantID, data); err != nil {
		return err
	}
	s.log.Infow("stored tenant cookies", "tenant_id", tenantID, "bytes", len(data))
	return nil
}

// WriteTemp materializes a jar to a temp file for one tool invocation.
// The caller removes the file when the attempt finishes.
func WriteTemp(data []byte) (path string, cleanup func(), err error) {
	f, err := os.CreateTemp("", "fwp-cookies-*.txt")
	if err != nil {
		return "", nil, err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, err
	}
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}
