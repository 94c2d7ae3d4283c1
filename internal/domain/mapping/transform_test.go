package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransform_NullPreservation(t *testing.T) {
	for id := range Registry {
		assert.True(t, Apply(id, Null).IsNull(), "transform %s must map null to null", id)
	}
}

func TestTransform_UnknownPassesThrough(t *testing.T) {
	v := NewStr("hello")
	assert.Equal(t, v, Apply("no-such-transform", v))
}

func TestPhoneRoundTrip_E164OfDigitsOnly(t *testing.T) {
	cases := []string{"5551234567", "15551234567", "(555) 123-4567", "555.123.4567"}
	for _, in := range cases {
		digitsOnly := Apply("digitsOnly", NewStr(in))
		viaDigits := Apply("e164", digitsOnly)
		direct := Apply("e164", NewStr(in))
		assert.Equal(t, direct, viaDigits, "e164(digitsOnly(%q)) == e164(%q)", in, in)
	}
}

func TestPhoneTransforms(t *testing.T) {
	in := NewStr("555-123-4567")
	assert.Equal(t, "5551234567", Apply("digitsOnly", in).String())
	assert.Equal(t, "+15551234567", Apply("e164", in).String())
	assert.Equal(t, "555-123-4567", Apply("dashed", in).String())
	assert.Equal(t, "555.123.4567", Apply("dotted", in).String())
	assert.Equal(t, "(555) 123-4567", Apply("parentheses", in).String())
}

func TestBooleanTransforms(t *testing.T) {
	assert.Equal(t, "Yes", Apply("yesNo", NewBool(true)).String())
	assert.Equal(t, "No", Apply("yesNo", NewBool(false)).String())
	assert.Equal(t, "Y", Apply("YN", NewBool(true)).String())
	assert.Equal(t, "1", Apply("oneZero", NewBool(true)).String())
}

func TestStringTransforms(t *testing.T) {
	assert.Equal(t, "HELLO", Apply("uppercase", NewStr("hello")).String())
	assert.Equal(t, "hello", Apply("lowercase", NewStr("HELLO")).String())
	assert.Equal(t, "Hello World", Apply("titlecase", NewStr("hello world")).String())
	long := NewStr("0123456789abcdef")
	assert.Len(t, Apply("truncate50", long).String(), 16)
}

func TestFieldMapping_DottedPathAndDefault(t *testing.T) {
	view := View{
		Lead: NewMap(map[string]Value{
			"zipCode": NewStr("90210"),
		}),
		FormData:    Null,
		Compliance:  Null,
		Attribution: Null,
	}
	def := NewStr("unknown")
	fm := FieldMapping{
		{SourcePath: "lead.zipCode", TargetPath: "zip"},
		{SourcePath: "lead.missing", TargetPath: "source", Default: &def},
		{SourcePath: "lead.alsoMissing", TargetPath: "omitted"},
	}
	out := Project(fm, view)
	m, ok := out.AsMap()
	assert.True(t, ok)
	assert.Equal(t, "90210", m["zip"].String())
	assert.Equal(t, "unknown", m["source"].String())
	_, present := m["omitted"]
	assert.False(t, present)
}

func TestComplianceAliasFanOut(t *testing.T) {
	view := View{
		Lead:       Null,
		FormData:   Null,
		Attribution: Null,
		Compliance: NewMap(map[string]Value{
			"trustedForm": NewMap(map[string]Value{
				"certUrl": NewStr("https://cert.example/abc"),
			}),
		}),
	}
	out := NewMap(map[string]Value{})
	out = ProjectCompliance([]ComplianceAlias{
		{SourcePath: "compliance.trustedForm.certUrl", TargetPaths: []string{"xxTrustedFormCertUrl", "trustedFormToken"}},
	}, view, out)
	m, _ := out.AsMap()
	assert.Equal(t, "https://cert.example/abc", m["xxTrustedFormCertUrl"].String())
	assert.Equal(t, "https://cert.example/abc", m["trustedFormToken"].String())
}
