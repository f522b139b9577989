package diff

import (
	"testing"

	cerrors "covdiff/internal/errors"
)

func snapshot(methods ...Method) *Snapshot {
	return &Snapshot{
		Build:   BuildKey{GroupID: "g", AppID: "app", Version: "1.0"},
		Methods: methods,
	}
}

func TestValidator_Valid(t *testing.T) {
	s := snapshot(
		method("a/X", "a", "", "1", 0, 2),
		method("a/X", "b", "", "2", 2, 3),
		method("a/Y", "a", "", "3", 0, 1),
	)
	result := NewValidator().Validate(s)
	if !result.Valid {
		t.Errorf("Expected valid, got errors %v", result.Errors)
	}
}

func TestValidator_Failures(t *testing.T) {
	tests := []struct {
		name     string
		snapshot *Snapshot
		wantCode string
	}{
		{
			name:     "incomplete build key",
			snapshot: &Snapshot{Build: BuildKey{GroupID: "g"}},
			wantCode: ErrCodeMissingField,
		},
		{
			name:     "missing name",
			snapshot: snapshot(method("a/X", "", "", "1", 0, 1)),
			wantCode: ErrCodeMissingField,
		},
		{
			name:     "duplicate signature",
			snapshot: snapshot(method("a/X", "a", "", "1", 0, 1), method("a/X", "a", "", "2", 1, 1)),
			wantCode: ErrCodeDuplicateMethod,
		},
		{
			name:     "negative range",
			snapshot: snapshot(method("a/X", "a", "", "1", -1, 1)),
			wantCode: ErrCodeInvalidRange,
		},
		{
			name:     "overlap",
			snapshot: snapshot(method("a/X", "a", "", "1", 0, 3), method("a/X", "b", "", "1", 2, 2)),
			wantCode: ErrCodeOverlappingRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewValidator().Validate(tt.snapshot)
			if result.Valid {
				t.Fatal("Expected invalid snapshot")
			}
			if result.Errors[0].Code != tt.wantCode {
				t.Errorf("Expected code %s, got %s", tt.wantCode, result.Errors[0].Code)
			}
		})
	}
}

func TestValidator_PermissiveOverlap(t *testing.T) {
	s := snapshot(method("a/X", "a", "", "1", 0, 3), method("a/X", "b", "", "1", 2, 2))
	result := NewValidator(WithValidationMode(ValidationPermissive)).Validate(s)
	if !result.Valid {
		t.Errorf("Expected valid in permissive mode, got %v", result.Errors)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("Expected 1 warning, got %d", len(result.Warnings))
	}
}

func TestValidator_MissingChecksumWarns(t *testing.T) {
	result := NewValidator().Validate(snapshot(method("a/X", "a", "", "", 0, 1)))
	if !result.Valid {
		t.Fatalf("Expected valid, got %v", result.Errors)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Code != ErrCodeMissingChecksum {
		t.Errorf("Expected missing checksum warning, got %v", result.Warnings)
	}
}

func TestValidateForIngestion(t *testing.T) {
	err := NewValidator().ValidateForIngestion(snapshot(method("a/X", "a", "", "1", -5, 1)))
	if err == nil {
		t.Fatal("Expected error")
	}
	if !cerrors.IsCode(err, cerrors.InvalidArgument) {
		t.Errorf("Expected INVALID_ARGUMENT, got %v", err)
	}
	if NewValidator().ValidateForIngestion(snapshot(method("a/X", "a", "", "1", 0, 1))) != nil {
		t.Error("Expected no error for valid snapshot")
	}
}

func TestHasher(t *testing.T) {
	h := NewHasher()
	a := method("a/X", "a", "I", "1", 0, 2)
	b := method("a/X", "b", "", "2", 2, 1)

	if h.MethodID(a.Signature) != h.MethodID(a.Signature) {
		t.Error("MethodID is not deterministic")
	}
	if h.MethodID(a.Signature) == h.MethodID(b.Signature) {
		t.Error("Different signatures share an id")
	}

	// "ab"+"c" and "a"+"bc" must not collide
	s1 := Signature{Owner: "ab", Name: "c"}
	s2 := Signature{Owner: "a", Name: "bc"}
	if h.MethodID(s1) == h.MethodID(s2) {
		t.Error("Length prefixing failed to separate fields")
	}

	if h.SnapshotID([]Method{a, b}) != h.SnapshotID([]Method{b, a}) {
		t.Error("SnapshotID depends on method order")
	}
	changed := b
	changed.Checksum = "3"
	if h.SnapshotID([]Method{a, b}) == h.SnapshotID([]Method{a, changed}) {
		t.Error("SnapshotID ignores checksum changes")
	}

	withLambda := a
	withLambda.LambdaHashes = map[string]string{"l$0": "x"}
	if h.HashMethod(&a) == h.HashMethod(&withLambda) {
		t.Error("HashMethod ignores lambda hashes")
	}

	if h.ChecksumOf("ALOAD 0\n  RETURN") != h.ChecksumOf("ALOAD 0 RETURN") {
		t.Error("ChecksumOf is sensitive to whitespace")
	}
}
