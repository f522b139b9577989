// Package diff models instrumented methods and classifies them across two
// builds as new, modified, deleted or unaffected.
//
// Methods are identified by their Signature (owner, name, params). The body
// checksum and any lambda body hashes decide whether a method that exists in
// both builds was modified.
package diff

import (
	"cmp"
	"strings"
	"time"

	cerrors "covdiff/internal/errors"
)

// Signature is the identity of a method across builds.
// ReturnType is informational and does not take part in ordering.
type Signature struct {
	Owner      string `json:"owner" yaml:"owner" toml:"owner"`
	Name       string `json:"name" yaml:"name" toml:"name"`
	Params     string `json:"params" yaml:"params" toml:"params"`
	ReturnType string `json:"returnType" yaml:"returnType" toml:"returnType"`
}

// Compare orders signatures by owner, then name, then params.
func (s Signature) Compare(o Signature) int {
	if c := cmp.Compare(s.Owner, o.Owner); c != 0 {
		return c
	}
	if c := cmp.Compare(s.Name, o.Name); c != 0 {
		return c
	}
	return cmp.Compare(s.Params, o.Params)
}

// Desc renders the descriptor form "(params):returnType".
func (s Signature) Desc() string {
	return "(" + s.Params + "):" + s.ReturnType
}

// String renders owner.name(params):returnType.
func (s Signature) String() string {
	return s.Owner + "." + s.Name + s.Desc()
}

// Package returns the owner's package path ("com/acme" for "com/acme/Foo").
func (s Signature) Package() string {
	if i := strings.LastIndexByte(s.Owner, '/'); i >= 0 {
		return s.Owner[:i]
	}
	return ""
}

// ClassName returns the owner's simple name ("Foo" for "com/acme/Foo").
func (s Signature) ClassName() string {
	if i := strings.LastIndexByte(s.Owner, '/'); i >= 0 {
		return s.Owner[i+1:]
	}
	return s.Owner
}

// Method is one instrumented method of a build.
// ProbeStart is relative to the owning class's probe vector.
type Method struct {
	Signature    `yaml:",inline"`
	Checksum     string            `json:"checksum" yaml:"checksum" toml:"checksum"`
	LambdaHashes map[string]string `json:"lambdaHashes,omitempty" yaml:"lambdaHashes,omitempty" toml:"lambdaHashes,omitempty"`
	ProbeStart   int               `json:"probeStart" yaml:"probeStart" toml:"probeStart"`
	ProbeCount   int               `json:"probeCount" yaml:"probeCount" toml:"probeCount"`
}

// ProbeEnd returns the exclusive end of the method's probe range.
func (m Method) ProbeEnd() int {
	return m.ProbeStart + m.ProbeCount
}

// Instrumented reports whether the method carries any probes.
func (m Method) Instrumented() bool {
	return m.ProbeCount > 0
}

// SameBody reports whether m and o have the same checksum and probe layout.
// Coverage recorded against one can be reused for the other.
func (m Method) SameBody(o Method) bool {
	return m.Checksum == o.Checksum && m.ProbeCount == o.ProbeCount
}

// BuildKey identifies a build of an application.
type BuildKey struct {
	GroupID string `json:"groupId" yaml:"groupId" toml:"groupId"`
	AppID   string `json:"appId" yaml:"appId" toml:"appId"`
	Version string `json:"version" yaml:"version" toml:"version"`
}

// String returns the build id "group:app:version".
func (k BuildKey) String() string {
	return k.GroupID + ":" + k.AppID + ":" + k.Version
}

// IsZero reports whether any part of the key is missing.
func (k BuildKey) IsZero() bool {
	return k.GroupID == "" || k.AppID == "" || k.Version == ""
}

// WithVersion returns the key of another build of the same application.
func (k BuildKey) WithVersion(version string) BuildKey {
	k.Version = version
	return k
}

// ParseBuildKey parses "group:app:version". The version may itself contain ':'.
func ParseBuildKey(s string) (BuildKey, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return BuildKey{}, cerrors.Newf(cerrors.InvalidArgument, "build id %q is not group:app:version", s)
	}
	return BuildKey{GroupID: parts[0], AppID: parts[1], Version: parts[2]}, nil
}

// Snapshot is the full method inventory of one build.
type Snapshot struct {
	Build     BuildKey  `json:"build"`
	Branch    string    `json:"branch,omitempty"`
	CommitSHA string    `json:"commitSha,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Methods   []Method  `json:"methods"`
}

// ChangeType classifies a method in a ChangeSet.
type ChangeType string

const (
	ChangeNew        ChangeType = "NEW"
	ChangeModified   ChangeType = "MODIFIED"
	ChangeDeleted    ChangeType = "DELETED"
	ChangeUnaffected ChangeType = "UNAFFECTED"
)

// ChangeSet partitions target ∪ baseline methods by signature.
// Modified and Unaffected hold the target version of the method;
// Deleted holds the baseline version.
type ChangeSet struct {
	New        []Method `json:"new"`
	Modified   []Method `json:"modified"`
	Deleted    []Method `json:"deleted"`
	Unaffected []Method `json:"unaffected"`
}

// Summary holds the bucket sizes of a ChangeSet.
type Summary struct {
	New        int `json:"new"`
	Modified   int `json:"modified"`
	Deleted    int `json:"deleted"`
	Unaffected int `json:"unaffected"`
	Total      int `json:"totalChanges"`
}

// Summary returns bucket sizes. Total counts new and modified methods.
func (c *ChangeSet) Summary() Summary {
	return Summary{
		New:        len(c.New),
		Modified:   len(c.Modified),
		Deleted:    len(c.Deleted),
		Unaffected: len(c.Unaffected),
		Total:      len(c.New) + len(c.Modified),
	}
}

// Impacted returns modified and deleted methods, plus new ones when
// includeNew is set, in signature order.
func (c *ChangeSet) Impacted(includeNew bool) []Method {
	out := make([]Method, 0, len(c.Modified)+len(c.Deleted)+len(c.New))
	out = append(out, c.Modified...)
	out = append(out, c.Deleted...)
	if includeNew {
		out = append(out, c.New...)
	}
	SortMethods(out)
	return out
}

// Changed returns new and modified methods in signature order.
func (c *ChangeSet) Changed() []Method {
	out := make([]Method, 0, len(c.New)+len(c.Modified))
	out = append(out, c.New...)
	out = append(out, c.Modified...)
	SortMethods(out)
	return out
}

// Classify returns a lookup from signature to change type over every method
// in the set.
func (c *ChangeSet) Classify() map[Signature]ChangeType {
	out := make(map[Signature]ChangeType, len(c.New)+len(c.Modified)+len(c.Deleted)+len(c.Unaffected))
	for _, m := range c.New {
		out[m.Signature] = ChangeNew
	}
	for _, m := range c.Modified {
		out[m.Signature] = ChangeModified
	}
	for _, m := range c.Deleted {
		out[m.Signature] = ChangeDeleted
	}
	for _, m := range c.Unaffected {
		out[m.Signature] = ChangeUnaffected
	}
	return out
}

// IsEmpty reports whether nothing changed.
func (c *ChangeSet) IsEmpty() bool {
	return len(c.New) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}
