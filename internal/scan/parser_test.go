package scan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattend/internal/model"
)

var actor = model.ActorContext{TeacherID: "T-1", SchoolID: "SCH-9", GradeLevel: 7, Section: "Rizal"}

func TestParseDelimitedRoundTrip(t *testing.T) {
	ids := []model.ScannedIdentity{
		{StudentID: "2024-001", FullName: "Ana Cruz", GradeLevel: 7, Section: "Rizal", SchoolID: "SCH-9"},
		{StudentID: "S9", FullName: "Ben", GradeLevel: 12, Section: "STEM-A", SchoolID: "X"},
		{StudentID: "x", FullName: "", GradeLevel: 1, Section: "", SchoolID: ""},
	}
	for _, id := range ids {
		res, err := Parse(Encode(id), actor)
		require.NoError(t, err)
		assert.Equal(t, FormatDelimited, res.Kind)
		assert.Equal(t, id, res.Identity)
	}
}

func TestParseDelimitedBadGrade(t *testing.T) {
	res, err := Parse("S1|Ana|seven|Rizal|SCH-9", actor)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Identity.GradeLevel)
}

func TestParseDelimitedExtraFields(t *testing.T) {
	res, err := Parse("S1|Ana|7|Rizal|SCH-9|extra", actor)
	require.NoError(t, err)
	assert.Equal(t, "SCH-9", res.Identity.SchoolID)
}

func TestParseBareID(t *testing.T) {
	for _, raw := range []string{"2024-001", "  S-77  ", "abc"} {
		res, err := Parse(raw, actor)
		require.NoError(t, err)
		assert.Equal(t, FormatBareID, res.Kind)
		assert.Equal(t, actor.SchoolID, res.Identity.SchoolID)
		assert.Equal(t, UnknownSection, res.Identity.Section)
		assert.Equal(t, UnknownName, res.Identity.FullName)
		assert.Zero(t, res.Identity.GradeLevel)
		assert.NotEmpty(t, res.Identity.StudentID)
	}
}

func TestParseJSON(t *testing.T) {
	raw := `{"studentId":"S1","fullName":"Ana Cruz","gradeLevel":11,"section":"A","schoolId":"SCH-9","strand":"STEM"}`
	res, err := Parse(raw, actor)
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, res.Kind)
	assert.Equal(t, "STEM", res.Identity.Strand)
	assert.Equal(t, 11, res.Identity.GradeLevel)
}

func TestParseJSONUnknownGrade(t *testing.T) {
	raw := `{"studentId":"S1","fullName":"Ana Cruz","gradeLevel":0,"section":"Rizal","schoolId":"SCH-9"}`
	res, err := Parse(raw, actor)
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, res.Kind)
	assert.Equal(t, "S1", res.Identity.StudentID)
	assert.Zero(t, res.Identity.GradeLevel)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "two fields", raw: "S1|Ana"},
		{name: "three fields", raw: "S1|Ana|7"},
		{name: "four fields", raw: "S1|Ana|7|Rizal"},
		{name: "empty", raw: ""},
		{name: "blank", raw: "   "},
		{name: "empty id in five fields", raw: "|Ana|7|Rizal|SCH-9"},
		{name: "json missing fields", raw: `{"studentId":"S1","fullName":"Ana Cruz"}`},
		{name: "json negative grade", raw: `{"studentId":"S1","fullName":"Ana","gradeLevel":-1,"section":"A","schoolId":"X"}`},
		{name: "truncated json", raw: `{"studentId":"S1"`},
		{name: "json array", raw: `["S1"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw, actor)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidFormat))
		})
	}
}
