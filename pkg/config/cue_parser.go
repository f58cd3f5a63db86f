package config

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
)

// ValidationError is a positioned configuration error.
type ValidationError struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

func (e ValidationError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// CUEParser parses and validates forge.cue project configuration.
type CUEParser struct {
	ctx       *cue.Context
	validator *validator.Validate
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	return &CUEParser{
		ctx:       cuecontext.New(),
		validator: validator.New(),
	}
}

// Load reads and parses the project configuration at path. A missing file
// yields the built-in defaults.
func (cp *CUEParser) Load(ctx context.Context, file string) (*Project, error) {
	content, err := os.ReadFile(file)
	if os.IsNotExist(err) {
		proj := Default()
		proj.Source = file
		proj.ParsedAt = time.Now()
		return proj, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	proj, err := cp.ParseInline(ctx, string(content), file)
	if err != nil {
		return nil, err
	}
	proj.Source = file
	return proj, nil
}

// ParseInline parses CUE configuration content. The filename is used for
// error positions only.
func (cp *CUEParser) ParseInline(_ context.Context, content, filename string) (*Project, error) {
	val := cp.ctx.CompileString(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, cp.firstCUEError(err)
	}

	proj := Default()
	proj.ParsedAt = time.Now()

	if err := cp.decodeSection(val, "build", &proj.Build); err != nil {
		return nil, err
	}
	if err := cp.decodeSection(val, "checks", &proj.Checks); err != nil {
		return nil, err
	}
	if err := cp.decodeSection(val, "tests", &proj.Tests); err != nil {
		return nil, err
	}

	if err := cp.validate(proj); err != nil {
		return nil, err
	}

	return proj, nil
}

// decodeSection decodes a top-level section into dst if it exists.
func (cp *CUEParser) decodeSection(val cue.Value, name string, dst interface{}) error {
	section := val.LookupPath(cue.ParsePath(name))
	if !section.Exists() {
		return nil
	}
	if err := section.Decode(dst); err != nil {
		return ValidationError{
			Path:     name,
			Message:  fmt.Sprintf("failed to decode %s: %v", name, err),
			Severity: "error",
		}
	}
	return nil
}

// validate applies struct tags plus rules the tags cannot express.
func (cp *CUEParser) validate(proj *Project) error {
	if err := cp.validator.Struct(proj); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	for i, f := range proj.Tests.Filters {
		if _, err := path.Match(f.Pattern, "probe"); err != nil {
			return ValidationError{
				Path:     fmt.Sprintf("tests.filters[%d]", i),
				Message:  fmt.Sprintf("invalid pattern %q: %v", f.Pattern, err),
				Severity: "error",
			}
		}
	}

	return nil
}

// firstCUEError converts the first CUE error to a positioned ValidationError.
func (cp *CUEParser) firstCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	e := errs[0]
	pos := errors.Positions(e)
	ve := ValidationError{
		Message:  errors.Details(e, nil),
		Severity: "error",
	}
	if len(pos) > 0 {
		ve.File = pos[0].Filename()
		ve.Line = pos[0].Line()
		ve.Column = pos[0].Column()
	}
	return ve
}
