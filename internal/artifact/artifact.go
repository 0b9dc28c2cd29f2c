// Package artifact describes the named payloads produced by pipeline stages.
package artifact

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
)

// Format tags the kind of payload an artifact carries.
type Format int

const (
	FormatText Format = iota
	FormatBinary
	FormatTable
	FormatData
)

var formatNames = map[Format]string{
	FormatText:   "text",
	FormatBinary: "binary",
	FormatTable:  "table",
	FormatData:   "data",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// ParseFormat is the inverse of Format.String.
func ParseFormat(s string) (Format, error) {
	for f, name := range formatNames {
		if name == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown artifact format %q", s)
}

// Common flags.
const (
	FlagExecutable = "executable"
	FlagMetrics    = "metrics"
	FlagModel      = "model"
	FlagSource     = "source"
)

// Artifact is immutable once produced; stages share artifacts by pointer.
type Artifact struct {
	Name    string
	Content []byte
	Format  Format
	Flags   []string
}

// NewText creates a text artifact.
func NewText(name, content string, flags ...string) *Artifact {
	return &Artifact{Name: name, Content: []byte(content), Format: FormatText, Flags: flags}
}

// NewBinary creates a binary artifact.
func NewBinary(name string, content []byte, flags ...string) *Artifact {
	return &Artifact{Name: name, Content: content, Format: FormatBinary, Flags: flags}
}

// NewTable creates a CSV table artifact.
func NewTable(name, csv string, flags ...string) *Artifact {
	return &Artifact{Name: name, Content: []byte(csv), Format: FormatTable, Flags: flags}
}

// Text returns the content as a string.
func (a *Artifact) Text() string { return string(a.Content) }

// HasFlag reports whether the artifact carries flag.
func (a *Artifact) HasFlag(flag string) bool {
	return slices.Contains(a.Flags, flag)
}

// Export writes the artifact into dir and returns the file path.
// Executables are written with the execute bit set.
func (a *Artifact) Export(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	perm := os.FileMode(0o644)
	if a.HasFlag(FlagExecutable) {
		perm = 0o755
	}
	path := filepath.Join(dir, a.Name)
	if err := os.WriteFile(path, a.Content, perm); err != nil {
		return "", fmt.Errorf("exporting artifact %q: %w", a.Name, err)
	}
	return path, nil
}

// Find returns the first artifact carrying flag, or nil.
func Find(arts []*Artifact, flag string) *Artifact {
	for _, a := range arts {
		if a.HasFlag(flag) {
			return a
		}
	}
	return nil
}

// FindByName returns the artifact called name, or nil.
func FindByName(arts []*Artifact, name string) *Artifact {
	for _, a := range arts {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// DefaultBucket holds the main output of a stage. Multi-output stages add
// named buckets next to it.
const DefaultBucket = "default"

// Buckets groups artifacts by bucket label.
type Buckets map[string][]*Artifact

// Add appends artifacts to bucket.
func (b Buckets) Add(bucket string, arts ...*Artifact) {
	b[bucket] = append(b[bucket], arts...)
}

// Default returns the default bucket.
func (b Buckets) Default() []*Artifact { return b[DefaultBucket] }

// Labels returns bucket labels, default first then sorted.
func (b Buckets) Labels() []string {
	labels := slices.Sorted(maps.Keys(b))
	if i := slices.Index(labels, DefaultBucket); i > 0 {
		labels = append([]string{DefaultBucket}, slices.Delete(labels, i, i+1)...)
	}
	return labels
}

// Clone copies the bucket map. Artifacts themselves are shared.
func (b Buckets) Clone() Buckets {
	out := make(Buckets, len(b))
	for k, v := range b {
		out[k] = slices.Clone(v)
	}
	return out
}

// Empty reports whether no bucket holds an artifact.
func (b Buckets) Empty() bool {
	for _, arts := range b {
		if len(arts) > 0 {
			return false
		}
	}
	return true
}
