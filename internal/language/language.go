// Package language maintains the canonical language code set and the
// per-backend code mappings declared at backend registration.
package language

import (
	"sort"
	"strings"
	"sync"

	xlang "golang.org/x/text/language"

	"github.com/meriley/lingua-nexus-sub001/internal/nexuserr"
)

// Auto is the sentinel source code meaning "detect the language".
const Auto = "auto"

// Unknown is returned by detectors that could not classify the text.
const Unknown = "unknown"

// Registry holds canonical language codes and per-backend conversions.
// A canonical code is a two-letter ISO 639-1 base, optionally followed by
// a script tag ("zh-Hant"). Backends declare their mapping when they are
// registered; unmapped codes yield UnsupportedLanguagePair.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]map[string]string // backend -> canonical -> backend code
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]map[string]string)}
}

// Canonicalize normalises code into canonical form. "auto" passes through
// unchanged. Unparseable codes and codes whose language has no two-letter
// ISO 639-1 form yield UnknownLanguage.
func (r *Registry) Canonicalize(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", nexuserr.New(nexuserr.KindUnknownLanguage, "empty language code")
	}
	if strings.EqualFold(code, Auto) {
		return Auto, nil
	}

	tag, err := xlang.Parse(code)
	if err != nil {
		return "", nexuserr.Wrapf(nexuserr.KindUnknownLanguage, err, "unknown language %q", code)
	}

	base, baseConf := tag.Base()
	if baseConf == xlang.No {
		return "", nexuserr.New(nexuserr.KindUnknownLanguage, "unknown language %q", code)
	}
	canonical := base.String()
	if len(canonical) != 2 {
		return "", nexuserr.New(nexuserr.KindUnknownLanguage, "unknown language %q", code)
	}

	// Keep the script tag only when the caller spelled it out; inferred
	// scripts would make "zh" and "zh-Hans" distinct cache keys.
	if script, conf := tag.Script(); conf == xlang.Exact && strings.Contains(code, "-") {
		canonical += "-" + script.String()
	}
	return canonical, nil
}

// RegisterBackend records the canonical→backend code mapping for a backend,
// replacing any previous mapping.
func (r *Registry) RegisterBackend(backend string, mapping map[string]string) {
	m := make(map[string]string, len(mapping))
	for canonical, code := range mapping {
		m[canonical] = code
	}
	r.mu.Lock()
	r.backends[backend] = m
	r.mu.Unlock()
}

// DeregisterBackend drops a backend's mapping.
func (r *Registry) DeregisterBackend(backend string) {
	r.mu.Lock()
	delete(r.backends, backend)
	r.mu.Unlock()
}

// ToBackend converts a canonical code to the backend-specific code.
func (r *Registry) ToBackend(canonical, backend string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mapping, ok := r.backends[backend]
	if !ok {
		return "", nexuserr.New(nexuserr.KindUnsupportedLanguagePair, "backend %q has no language mapping", backend)
	}
	code, ok := mapping[canonical]
	if !ok {
		return "", nexuserr.New(nexuserr.KindUnsupportedLanguagePair, "backend %q does not support %q", backend, canonical)
	}
	return code, nil
}

// Supports reports whether backend declares a mapping for canonical.
func (r *Registry) Supports(canonical, backend string) bool {
	_, err := r.ToBackend(canonical, backend)
	return err == nil
}

// ListSupported returns the sorted canonical codes a backend supports.
func (r *Registry) ListSupported(backend string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mapping := r.backends[backend]
	codes := make([]string, 0, len(mapping))
	for canonical := range mapping {
		codes = append(codes, canonical)
	}
	sort.Strings(codes)
	return codes
}

// Backends returns the sorted names of backends with registered mappings.
func (r *Registry) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IdentityMapping builds a mapping where every canonical code maps to
// itself, for backends that consume canonical codes directly.
func IdentityMapping(codes ...string) map[string]string {
	m := make(map[string]string, len(codes))
	for _, c := range codes {
		m[c] = c
	}
	return m
}
