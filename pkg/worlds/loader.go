package worlds

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// Loader parses and validates world registry files.
type Loader struct {
	ctx       *cue.Context
	validator *validator.Validate
}

// NewLoader creates a new registry loader.
func NewLoader() *Loader {
	return &Loader{
		ctx:       cuecontext.New(),
		validator: validator.New(),
	}
}

// Load reads, parses, and validates the registry file at path. Any
// violation rejects the whole file: a broken entry must never surface
// later as a runtime failure during a start request.
func (l *Loader) Load(path string) (*Registry, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read world registry %s: %w", path, err)
	}

	reg, err := l.LoadBytes(content, path)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("path", path).
		Int("worlds", reg.Len()).
		Msg("World registry loaded")
	return reg, nil
}

// LoadBytes parses and validates registry content. The filename is used
// for error positions only.
func (l *Loader) LoadBytes(content []byte, filename string) (*Registry, error) {
	val := l.ctx.CompileString(string(content), cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, &LoadError{Violations: convertCUEErrors(err)}
	}

	worldsVal := val.LookupPath(cue.ParsePath("worlds"))
	if !worldsVal.Exists() {
		return nil, &LoadError{Violations: []Violation{{
			File:    filename,
			Path:    "worlds",
			Message: "missing required field",
		}}}
	}

	list, err := worldsVal.List()
	if err != nil {
		return nil, &LoadError{Violations: []Violation{{
			File:    filename,
			Path:    "worlds",
			Message: fmt.Sprintf("must be a list: %v", err),
		}}}
	}

	var (
		configured []WorldConfig
		violations []Violation
		seen       = make(map[string]string)
	)

	idx := 0
	for list.Next() {
		path := fmt.Sprintf("worlds[%d]", idx)
		idx++

		var w WorldConfig
		if err := list.Value().Decode(&w); err != nil {
			violations = append(violations, Violation{
				File:    filename,
				Path:    path,
				Message: fmt.Sprintf("failed to decode: %v", err),
			})
			continue
		}

		violations = append(violations, l.validate(w, filename, path)...)

		// Display names and world ids share one lookup namespace, so
		// both must be unique across it.
		for _, key := range []string{strings.ToLower(w.DisplayName), strings.ToLower(w.WorldID)} {
			if key == "" {
				continue
			}
			if prev, dup := seen[key]; dup {
				violations = append(violations, Violation{
					File:    filename,
					Path:    path,
					Message: fmt.Sprintf("%q already used by %s", key, prev),
				})
			} else {
				seen[key] = path
			}
		}

		configured = append(configured, w)
	}

	if len(violations) > 0 {
		return nil, &LoadError{Violations: violations}
	}
	if len(configured) == 0 {
		return nil, &LoadError{Violations: []Violation{{
			File:    filename,
			Path:    "worlds",
			Message: "at least one world must be configured",
		}}}
	}

	return newRegistry(configured), nil
}

// validate checks one world against its struct constraints.
func (l *Loader) validate(w WorldConfig, filename, path string) []Violation {
	err := l.validator.Struct(w)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []Violation{{File: filename, Path: path, Message: err.Error()}}
	}

	out := make([]Violation, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, Violation{
			File:    filename,
			Path:    path,
			Message: describeFieldError(fe),
		})
	}
	return out
}

// describeFieldError renders a field error in terms of the registry file,
// not Go struct fields.
func describeFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch field {
	case "DisplayName":
		field = "name"
	case "WorldID":
		field = "world"
	case "Password":
		field = "password"
	}

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// Validate checks a world configuration and returns all violations. An
// empty result means the configuration is acceptable.
func Validate(w WorldConfig) []Violation {
	l := NewLoader()
	return l.validate(w, "", "")
}

// convertCUEErrors flattens CUE errors into positioned violations.
func convertCUEErrors(err error) []Violation {
	var out []Violation
	for _, e := range cueerrors.Errors(err) {
		v := Violation{Message: cueerrors.Details(e, nil)}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			v.File = pos[0].Filename()
			v.Line = pos[0].Line()
			v.Column = pos[0].Column()
		}
		out = append(out, v)
	}
	return out
}
