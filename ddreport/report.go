// Package ddreport records the outcome of one delta-debugging run as a
// self-digesting JSON artifact.
package ddreport

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jcs "github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
	"github.com/google/uuid"
)

// SchemaVersion identifies the report layout.
const SchemaVersion = "ddreport.v1"

// Report is the machine-consumed run artifact.
type Report struct {
	SchemaVersion  string `json:"schema_version"`
	RunID          string `json:"run_id"`
	StartedAtUTC   string `json:"started_at_utc"`
	CompletedAtUTC string `json:"completed_at_utc"`
	Algorithm      string `json:"algorithm"`
	Unit           string `json:"unit"`
	InputSHA256    string `json:"input_sha256"`
	Circumstances  int    `json:"circumstances"`

	Result    Artifact   `json:"result"`
	Isolation *Isolation `json:"isolation,omitempty"`
	Oracle    Counts     `json:"oracle"`

	// ReportSHA256 covers the canonical form of the report with this field
	// empty.
	ReportSHA256 string `json:"report_sha256"`
}

// Artifact is a rendered configuration.
type Artifact struct {
	Size   int    `json:"size"`
	SHA256 string `json:"sha256"`
	Text   string `json:"text"`
}

// Isolation describes a ddiso fixed point.
type Isolation struct {
	Delta Artifact `json:"delta"`
	Pass  Artifact `json:"pass"`
	Fail  Artifact `json:"fail"`
}

// Counts are oracle call totals.
type Counts struct {
	Pass       int64 `json:"pass"`
	Fail       int64 `json:"fail"`
	Unresolved int64 `json:"unresolved"`
	Errors     int64 `json:"errors"`
}

// Total is the number of oracle calls.
func (c Counts) Total() int64 {
	return c.Pass + c.Fail + c.Unresolved + c.Errors
}

// New starts a report with a fresh run id.
func New(algorithm, unit string, input []byte, circumstances int, started time.Time) *Report {
	return &Report{
		SchemaVersion: SchemaVersion,
		RunID:         uuid.NewString(),
		StartedAtUTC:  started.UTC().Format(time.RFC3339Nano),
		Algorithm:     algorithm,
		Unit:          unit,
		InputSHA256:   Digest(input),
		Circumstances: circumstances,
	}
}

// NewArtifact describes rendered text of size circumstances. Invalid UTF-8
// is replaced with U+FFFD so the text survives a JSON round trip.
func NewArtifact(text string, size int) Artifact {
	text = strings.ToValidUTF8(text, "\uFFFD")
	return Artifact{Size: size, SHA256: Digest([]byte(text)), Text: text}
}

// Digest returns the lowercase hex SHA-256 of b.
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Canonical returns the RFC 8785 form of r with ReportSHA256 cleared.
func Canonical(r *Report) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("report is nil")
	}
	cp := *r
	cp.ReportSHA256 = ""
	raw, err := json.Marshal(&cp)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize report: %w", err)
	}
	return out, nil
}

// Seal stamps the completion time and the report digest.
func Seal(r *Report, completed time.Time) error {
	r.CompletedAtUTC = completed.UTC().Format(time.RFC3339Nano)
	canon, err := Canonical(r)
	if err != nil {
		return err
	}
	r.ReportSHA256 = Digest(canon)
	return nil
}

// Write stores r as indented JSON. Callers Seal r first.
func Write(path string, r *Report) error {
	if r == nil {
		return fmt.Errorf("report is nil")
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write report file: %w", err)
	}
	return nil
}

// Load reads a report without validating it.
//
//nolint:gosec // report path is explicit operator input.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}

// Validate checks required fields, internal consistency and the digest.
func Validate(r *Report) error {
	if r == nil {
		return fmt.Errorf("report is nil")
	}
	if r.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version %q", r.SchemaVersion)
	}
	if _, err := uuid.Parse(r.RunID); err != nil {
		return fmt.Errorf("run_id: %w", err)
	}
	for _, ts := range []struct {
		name  string
		value string
	}{
		{"started_at_utc", r.StartedAtUTC},
		{"completed_at_utc", r.CompletedAtUTC},
	} {
		if _, err := time.Parse(time.RFC3339Nano, ts.value); err != nil {
			return fmt.Errorf("%s: %w", ts.name, err)
		}
	}
	switch r.Algorithm {
	case "ddmin":
		if r.Isolation != nil {
			return fmt.Errorf("ddmin report must not carry isolation")
		}
	case "ddiso":
		if r.Isolation == nil {
			return fmt.Errorf("ddiso report requires isolation")
		}
		if err := checkArtifact("isolation.delta", r.Isolation.Delta); err != nil {
			return err
		}
		if err := checkArtifact("isolation.pass", r.Isolation.Pass); err != nil {
			return err
		}
		if err := checkArtifact("isolation.fail", r.Isolation.Fail); err != nil {
			return err
		}
		if r.Isolation.Pass.Size > r.Isolation.Fail.Size {
			return fmt.Errorf("isolation pass is larger than fail")
		}
	default:
		return fmt.Errorf("unknown algorithm %q", r.Algorithm)
	}
	if err := checkArtifact("result", r.Result); err != nil {
		return err
	}
	if r.Result.Size > r.Circumstances {
		return fmt.Errorf("result has %d circumstances, input has %d", r.Result.Size, r.Circumstances)
	}
	if len(r.InputSHA256) != sha256.Size*2 {
		return fmt.Errorf("input_sha256 is not a sha256 digest")
	}
	if r.Oracle.Pass < 0 || r.Oracle.Fail < 0 || r.Oracle.Unresolved < 0 || r.Oracle.Errors < 0 {
		return fmt.Errorf("oracle counts cannot be negative")
	}
	canon, err := Canonical(r)
	if err != nil {
		return err
	}
	if got := Digest(canon); !strings.EqualFold(got, r.ReportSHA256) {
		return fmt.Errorf("report_sha256 mismatch: got=%s want=%s", r.ReportSHA256, got)
	}
	return nil
}

func checkArtifact(name string, a Artifact) error {
	if a.Size < 0 {
		return fmt.Errorf("%s size cannot be negative", name)
	}
	if a.SHA256 != Digest([]byte(a.Text)) {
		return fmt.Errorf("%s sha256 does not match its text", name)
	}
	return nil
}
