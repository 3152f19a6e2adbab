package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// fallbackFile is the local secrets file consulted when Secret Manager is unreachable. It is read
// once, on first use.
type fallbackFile struct {
	path string

	once   sync.Once
	values map[string]string
	err    error
}

func (f *fallbackFile) lookup(ref reference, version string) (string, bool, error) {
	f.once.Do(f.load)
	if f.err != nil {
		return "", false, f.err
	}
	if value, ok := f.values[ref.versioned(version)]; ok {
		return value, true, nil
	}
	value, ok := f.values[ref.canonical]
	return value, ok, nil
}

func (f *fallbackFile) load() {
	f.values = map[string]string{}
	if strings.TrimSpace(f.path) == "" {
		return
	}
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		f.err = fmt.Errorf("secrets: open fallback file %s: %w", f.path, err)
		return
	}
	defer file.Close()
	if err := parseFallback(file, f.values); err != nil {
		f.err = fmt.Errorf("secrets: read fallback file %s: %w", f.path, err)
	}
}

// parseFallback reads "secret://name[?version=N]=value" lines. The key holds ':' and '?', which
// dotenv parsers reject, so the last '=' splits key from value.
func parseFallback(r io.Reader, into map[string]string) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.LastIndex(line, "=")
		if idx <= 0 {
			continue
		}
		key := normalizeLegacy(line[:idx])
		value := strings.TrimSpace(line[idx+1:])

		ref, err := parseReference(key)
		if err != nil {
			into[key] = value
			continue
		}
		version := ref.version
		if version == "" {
			version = latestVersion
		}
		into[ref.canonical] = value
		into[ref.versioned(version)] = value
	}
	return scanner.Err()
}
