// Package config loads the optional YAML conversion profile and validates
// it against an embedded CUE schema.
//
// The profile supplies defaults for project naming, the mapping database,
// and the external converter command; command-line flags always override
// it. Validation failures carry CUE's path and position detail so a bad
// profile points at the offending line.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// DefaultFileName is the profile looked for under the output root when no
// --config flag is given.
const DefaultFileName = "radifox.yaml"

// Profile is the decoded conversion profile.
type Profile struct {
	ProjectID     string    `yaml:"project_id"`
	SiteID        string    `yaml:"site_id"`
	AnonDB        string    `yaml:"anon_db"`
	DateShiftDays int       `yaml:"date_shift_days"`
	Converter     Converter `yaml:"converter"`
}

// Converter configures the external conversion command. An empty Command
// falls back to the built-in default at the point of use.
type Converter struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Timeout Duration `yaml:"timeout"`
}

// Duration decodes YAML duration strings such as "90s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// ValidationError reports schema violations with CUE's position detail.
type ValidationError struct {
	File string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config %s:\n%s", e.File, cueerrors.Details(e.Err, nil))
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Load reads and validates a profile. Unknown keys are rejected by the
// strict YAML decode before schema validation runs; an empty file is a
// valid empty profile.
func Load(path string) (Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read config: %w", err)
	}

	var profile Profile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&profile); err != nil {
		if errors.Is(err, io.EOF) {
			return Profile{}, nil
		}
		return Profile{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := validateSchema(path, raw); err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// DefaultPath returns the default profile under outputRoot when that file
// exists, otherwise empty.
func DefaultPath(outputRoot string) string {
	path := filepath.Join(outputRoot, DefaultFileName)
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// validateSchema unifies the YAML document with the embedded schema. The
// document side keeps its file positions, so violations point at the
// profile's own lines.
func validateSchema(filename string, src []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	file, err := cueyaml.Extract(filename, src)
	if err != nil {
		return fmt.Errorf("parse config %s: %w", filename, err)
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("build config %s: %w", filename, err)
	}

	if err := schema.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{File: filename, Err: err}
	}
	return nil
}
