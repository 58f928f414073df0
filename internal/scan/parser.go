package scan

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"schoolattend/internal/model"
)

// Format identifies which payload shape a scan was decoded from.
type Format int

const (
	FormatJSON Format = iota + 1
	FormatDelimited
	FormatBareID
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatDelimited:
		return "delimited"
	case FormatBareID:
		return "bare-id"
	}
	return "unknown"
}

// FallbackOrder is the order in which payload shapes are attempted.
var FallbackOrder = []Format{FormatJSON, FormatDelimited, FormatBareID}

const (
	// Delimiter separates positional fields in a delimited payload.
	Delimiter = "|"
	// UnknownName fills fields a bare student id cannot carry.
	UnknownName    = "Unknown"
	UnknownSection = "Unknown"

	minDelimitedFields = 5
)

// ErrInvalidFormat is returned for payloads no shape accepts.
var ErrInvalidFormat = errors.New("invalid QR code format")

// ParseError describes a rejected payload.
type ParseError struct {
	Raw    string
	Fields int
}

func (e *ParseError) Error() string {
	return ErrInvalidFormat.Error()
}

func (e *ParseError) Unwrap() error { return ErrInvalidFormat }

// ParseResult is the decoded identity tagged with the shape it came from.
type ParseResult struct {
	Kind     Format
	Identity model.ScannedIdentity
}

var validate = validator.New()

// Parse decodes raw scan text into a student identity, trying each shape in FallbackOrder.
// A bare id inherits the actor's school.
func Parse(raw string, actor model.ActorContext) (ParseResult, error) {
	for _, f := range FallbackOrder {
		var (
			id model.ScannedIdentity
			ok bool
		)
		switch f {
		case FormatJSON:
			id, ok = parseJSON(raw)
		case FormatDelimited:
			id, ok = parseDelimited(raw)
		case FormatBareID:
			id, ok = parseBareID(raw, actor)
		}
		if ok {
			return ParseResult{Kind: f, Identity: id}, nil
		}
	}
	return ParseResult{}, &ParseError{Raw: raw, Fields: len(strings.Split(raw, Delimiter))}
}

func parseJSON(raw string) (model.ScannedIdentity, bool) {
	var id model.ScannedIdentity
	if err := json.Unmarshal([]byte(raw), &id); err != nil {
		return model.ScannedIdentity{}, false
	}
	if err := validate.Struct(id); err != nil {
		return model.ScannedIdentity{}, false
	}
	return id, true
}

func parseDelimited(raw string) (model.ScannedIdentity, bool) {
	parts := strings.Split(raw, Delimiter)
	if len(parts) < minDelimitedFields {
		return model.ScannedIdentity{}, false
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if parts[0] == "" {
		return model.ScannedIdentity{}, false
	}
	grade, err := strconv.Atoi(parts[2])
	if err != nil {
		grade = 0
	}
	return model.ScannedIdentity{
		StudentID:  parts[0],
		FullName:   parts[1],
		GradeLevel: grade,
		Section:    parts[3],
		SchoolID:   parts[4],
	}, true
}

func parseBareID(raw string, actor model.ActorContext) (model.ScannedIdentity, bool) {
	if strings.Contains(raw, Delimiter) {
		return model.ScannedIdentity{}, false
	}
	studentID := strings.TrimSpace(raw)
	if studentID == "" {
		return model.ScannedIdentity{}, false
	}
	// a structured payload that failed the JSON shape is never a student id
	if strings.HasPrefix(studentID, "{") || strings.HasPrefix(studentID, "[") {
		return model.ScannedIdentity{}, false
	}
	return model.ScannedIdentity{
		StudentID:  studentID,
		FullName:   UnknownName,
		GradeLevel: 0,
		Section:    UnknownSection,
		SchoolID:   actor.SchoolID,
	}, true
}

// Encode renders an identity in the delimited wire form.
func Encode(id model.ScannedIdentity) string {
	return strings.Join([]string{
		id.StudentID,
		id.FullName,
		strconv.Itoa(id.GradeLevel),
		id.Section,
		id.SchoolID,
	}, Delimiter)
}
