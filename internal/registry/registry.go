// Package registry provides the scheme metadata lookup. Each scheme is
// described by a "<scheme>.protocol" environment file naming the worker
// executable, its concurrency limits and the operations it supports.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/desertwitch/workio/internal/configuration"
	"github.com/desertwitch/workio/internal/schema"
)

// DescriptorSuffix is the file suffix of scheme descriptors.
const DescriptorSuffix = ".protocol"

// Descriptor keys.
const (
	KeyExec                = "EXEC"
	KeyMaxInstances        = "MAX_INSTANCES"
	KeyMaxInstancesPerHost = "MAX_INSTANCES_PER_HOST"
	KeyReading             = "READING"
	KeyWriting             = "WRITING"
	KeyMakeDir             = "MAKEDIR"
	KeyDeleting            = "DELETING"
	KeyLinking             = "LINKING"
	KeyMoving              = "MOVING"
	KeyListing             = "LISTING"
	KeyChangeAttributes    = "CHANGE_ATTRIBUTES"
	KeySpecial             = "SPECIAL"
	KeyCopyFromFile        = "COPY_FROM_FILE"
	KeyCopyToFile          = "COPY_TO_FILE"
	KeyDeleteRecursive     = "DELETE_RECURSIVE"
	KeySource              = "SOURCE"
)

// Scheme is the capability metadata of one scheme.
type Scheme struct {
	Name string

	// Exec is the worker executable serving the scheme.
	Exec string

	// MaxWorkers caps the live workers of the scheme, at least 1.
	MaxWorkers int

	// MaxWorkersPerHost caps the live workers talking to one host, 0 means
	// only MaxWorkers applies.
	MaxWorkersPerHost int

	Reading          bool
	Writing          bool
	MakeDir          bool
	Deleting         bool
	Linking          bool
	Moving           bool
	Listing          bool
	ChangeAttributes bool
	Special          bool
	CopyFromFile     bool
	CopyToFile       bool
	DeleteRecursive  bool
	Source           bool
}

// Supports returns if the scheme can run an operation kind.
func (s Scheme) Supports(kind schema.OpKind) bool {
	switch kind {
	case schema.OpGet:
		return s.Reading
	case schema.OpPut:
		return s.Writing
	case schema.OpMkdir:
		return s.MakeDir
	case schema.OpDelete:
		return s.Deleting
	case schema.OpSymlink:
		return s.Linking
	case schema.OpRename, schema.OpMove:
		return s.Moving
	case schema.OpListDir:
		return s.Listing
	case schema.OpChangeAttribute:
		return s.ChangeAttributes
	case schema.OpSpecial:
		return s.Special
	case schema.OpStat:
		return true
	case schema.OpCopy, schema.OpTransfer:
		return s.Reading && s.Writing
	default:
		return false
	}
}

// HostLimit returns the effective limit of workers for a single host, the
// stricter of the scheme and the per-host limit.
func (s Scheme) HostLimit() int {
	if s.MaxWorkersPerHost > 0 && s.MaxWorkersPerHost < s.MaxWorkers {
		return s.MaxWorkersPerHost
	}

	return s.MaxWorkers
}

// Registry is the scheme metadata lookup. It is safe for concurrent use.
type Registry struct {
	sync.RWMutex

	reader  *configuration.ConfigProviderImpl
	dirs    []string
	schemes map[string]Scheme
}

// New returns a pointer to a new [Registry] holding the descriptors found
// in dirs. Unreadable directories are skipped, invalid descriptors are an
// error.
func New(reader *configuration.ConfigProviderImpl, dirs ...string) (*Registry, error) {
	r := &Registry{
		reader:  reader,
		dirs:    dirs,
		schemes: make(map[string]Scheme),
	}

	if err := r.scan(); err != nil {
		return nil, err
	}

	return r, nil
}

// NewStatic returns a pointer to a new [Registry] holding only the given
// schemes.
func NewStatic(schemes ...Scheme) *Registry {
	r := &Registry{
		schemes: make(map[string]Scheme),
	}

	for _, s := range schemes {
		r.schemes[s.Name] = normalize(s)
	}

	return r
}

// Lookup returns the metadata of a scheme. An unknown scheme causes one
// rescan of the descriptor directories before giving up.
func (r *Registry) Lookup(name string) (Scheme, bool) {
	r.RLock()
	s, ok := r.schemes[name]
	r.RUnlock()

	if ok || len(r.dirs) == 0 {
		return s, ok
	}

	if err := r.scan(); err != nil {
		slog.Warn("Failed to rescan scheme descriptors", "err", err)
	}

	r.RLock()
	defer r.RUnlock()

	s, ok = r.schemes[name]

	return s, ok
}

// Register adds or replaces a scheme.
func (r *Registry) Register(s Scheme) {
	r.Lock()
	defer r.Unlock()

	r.schemes[s.Name] = normalize(s)
}

// Schemes returns the sorted names of all known schemes.
func (r *Registry) Schemes() []string {
	r.RLock()
	defer r.RUnlock()

	names := make([]string, 0, len(r.schemes))
	for name := range r.schemes {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

func (r *Registry) scan() error {
	found := make(map[string]Scheme)

	for _, dir := range r.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			slog.Debug("Skipped scheme directory", "dir", dir, "err", err)

			continue
		}

		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), DescriptorSuffix) {
				continue
			}

			name := strings.TrimSuffix(e.Name(), DescriptorSuffix)
			if _, exists := found[name]; exists {
				continue
			}

			s, err := r.readDescriptor(name, filepath.Join(dir, e.Name()))
			if err != nil {
				return err
			}
			found[name] = s
		}
	}

	r.Lock()
	defer r.Unlock()

	for name, s := range found {
		r.schemes[name] = s
	}

	return nil
}

func (r *Registry) readDescriptor(name, path string) (Scheme, error) {
	envMap, err := r.reader.ReadGeneric(path)
	if err != nil {
		return Scheme{}, fmt.Errorf("(registry-read) %s: %w", name, err)
	}

	s := Scheme{
		Name:              name,
		Exec:              r.reader.MapKeyToString(envMap, KeyExec),
		MaxWorkers:        r.reader.MapKeyToInt(envMap, KeyMaxInstances),
		MaxWorkersPerHost: r.reader.MapKeyToInt(envMap, KeyMaxInstancesPerHost),
		Reading:           r.reader.MapKeyToBool(envMap, KeyReading, false),
		Writing:           r.reader.MapKeyToBool(envMap, KeyWriting, false),
		MakeDir:           r.reader.MapKeyToBool(envMap, KeyMakeDir, false),
		Deleting:          r.reader.MapKeyToBool(envMap, KeyDeleting, false),
		Linking:           r.reader.MapKeyToBool(envMap, KeyLinking, false),
		Moving:            r.reader.MapKeyToBool(envMap, KeyMoving, false),
		Listing:           r.reader.MapKeyToBool(envMap, KeyListing, false),
		ChangeAttributes:  r.reader.MapKeyToBool(envMap, KeyChangeAttributes, false),
		Special:           r.reader.MapKeyToBool(envMap, KeySpecial, false),
		CopyFromFile:      r.reader.MapKeyToBool(envMap, KeyCopyFromFile, false),
		CopyToFile:        r.reader.MapKeyToBool(envMap, KeyCopyToFile, false),
		DeleteRecursive:   r.reader.MapKeyToBool(envMap, KeyDeleteRecursive, false),
		Source:            r.reader.MapKeyToBool(envMap, KeySource, true),
	}

	if s.Exec == "" {
		return Scheme{}, fmt.Errorf("(registry-read) %s: %w: missing %s", name, ErrInvalidDescriptor, KeyExec)
	}

	return normalize(s), nil
}

func normalize(s Scheme) Scheme {
	if s.MaxWorkers < 1 {
		s.MaxWorkers = 1
	}

	if s.MaxWorkersPerHost < 0 {
		s.MaxWorkersPerHost = 0
	}

	return s
}
