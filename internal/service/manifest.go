package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"covdiff/internal/coverage"
	"covdiff/internal/diff"
	cerrors "covdiff/internal/errors"
)

// ManifestFormat is the encoding of an ingest manifest.
type ManifestFormat string

const (
	FormatJSON ManifestFormat = "json"
	FormatYAML ManifestFormat = "yaml"
	FormatTOML ManifestFormat = "toml"
)

// Manifest is one ingest payload: optionally a build's method inventory and
// any number of executions recorded against it.
//
// Probe vectors are written as '0'/'1' strings, one character per probe.
type Manifest struct {
	Build     diff.BuildKey `json:"build" yaml:"build" toml:"build"`
	Branch    string        `json:"branch,omitempty" yaml:"branch,omitempty" toml:"branch,omitempty"`
	CommitSHA string        `json:"commitSha,omitempty" yaml:"commitSha,omitempty" toml:"commitSha,omitempty"`
	CreatedAt time.Time     `json:"createdAt,omitempty" yaml:"createdAt,omitempty" toml:"createdAt,omitempty"`
	// AssignProbes derives each method's ProbeStart from the probe counts
	// of the methods before it in the same class.
	AssignProbes bool          `json:"assignProbes,omitempty" yaml:"assignProbes,omitempty" toml:"assignProbes,omitempty"`
	Methods      []diff.Method `json:"methods,omitempty" yaml:"methods,omitempty" toml:"methods,omitempty"`

	SessionID  string              `json:"sessionId,omitempty" yaml:"sessionId,omitempty" toml:"sessionId,omitempty"`
	Executions []ManifestExecution `json:"executions,omitempty" yaml:"executions,omitempty" toml:"executions,omitempty"`
}

// ManifestExecution is one execution inside a Manifest.
type ManifestExecution struct {
	ID        string               `json:"id,omitempty" yaml:"id,omitempty" toml:"id,omitempty"`
	Source    coverage.SourceKind  `json:"source,omitempty" yaml:"source,omitempty" toml:"source,omitempty"`
	Test      coverage.TestKey     `json:"test" yaml:"test" toml:"test"`
	TaskID    string               `json:"taskId,omitempty" yaml:"taskId,omitempty" toml:"taskId,omitempty"`
	SessionID string               `json:"sessionId,omitempty" yaml:"sessionId,omitempty" toml:"sessionId,omitempty"`
	CreatedAt time.Time            `json:"createdAt,omitempty" yaml:"createdAt,omitempty" toml:"createdAt,omitempty"`
	Classes   coverage.ClassProbes `json:"classes" yaml:"classes" toml:"classes"`
}

// Snapshot returns the manifest's method inventory, or nil when it carries
// no methods.
func (m *Manifest) Snapshot() *diff.Snapshot {
	if len(m.Methods) == 0 {
		return nil
	}
	methods := append([]diff.Method(nil), m.Methods...)
	if m.AssignProbes {
		diff.AssignProbeRanges(methods)
	}
	return &diff.Snapshot{
		Build:     m.Build,
		Branch:    m.Branch,
		CommitSHA: m.CommitSHA,
		CreatedAt: m.CreatedAt,
		Methods:   methods,
	}
}

// FormatFromPath picks a manifest format by file extension.
func FormatFromPath(path string) (ManifestFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", cerrors.Newf(cerrors.InvalidArgument, "cannot tell manifest format of %s", path)
}

// LoadManifest reads a manifest file, choosing the decoder by extension.
func LoadManifest(path string) (*Manifest, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer func() { _ = f.Close() }()
	return DecodeManifest(f, format)
}

// DecodeManifest decodes a manifest and checks its build key.
func DecodeManifest(r io.Reader, format ManifestFormat) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&m)
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&m)
	case FormatTOML:
		var md toml.MetaData
		md, err = toml.Decode(string(data), &m)
		if err == nil {
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				err = fmt.Errorf("unknown key %s", undecoded[0])
			}
		}
	default:
		return nil, cerrors.Newf(cerrors.InvalidArgument, "unsupported manifest format %q", format)
	}
	if err != nil {
		return nil, cerrors.New(cerrors.InvalidArgument, "malformed "+string(format)+" manifest", err)
	}

	if m.Build.IsZero() {
		return nil, cerrors.Newf(cerrors.InvalidArgument, "manifest build %q is incomplete", m.Build.String())
	}
	return &m, nil
}
