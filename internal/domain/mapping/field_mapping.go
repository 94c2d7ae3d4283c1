package mapping

// Entry is one line of a FieldMapping: project sourcePath into targetPath,
// optionally through a named transform, optionally falling back to default
// when the source is missing or null.
type Entry struct {
	SourcePath  string
	TargetPath  string
	TransformID string
	Default     *Value
}

// FieldMapping is an ordered list of Entry, e.g. a buyer's pingTemplate or
// postTemplate.
type FieldMapping []Entry

// ComplianceAlias declares that a single compliance source field fans out to
// multiple outbound key names, e.g.
// trustedForm.certUrl -> []string{"xxTrustedFormCertUrl", "trustedFormToken"}.
type ComplianceAlias struct {
	SourcePath  string
	TargetPaths []string
}

// View is the composite source the mapper reads from: { lead, formData,
// compliance, attribution }, assembled by the caller (the Auction Engine)
// before invoking Apply.
type View struct {
	Lead        Value
	FormData    Value
	Compliance  Value
	Attribution Value
}

// resolveSource dispatches a dotted sourcePath to the right root of the
// composite view by its leading segment.
func (v View) resolveSource(sourcePath string) Value {
	switch {
	case hasPrefix(sourcePath, "lead."):
		return v.Lead.Get(sourcePath[len("lead."):])
	case hasPrefix(sourcePath, "formData."):
		return v.FormData.Get(sourcePath[len("formData."):])
	case hasPrefix(sourcePath, "compliance."):
		return v.Compliance.Get(sourcePath[len("compliance."):])
	case hasPrefix(sourcePath, "attribution."):
		return v.Attribution.Get(sourcePath[len("attribution."):])
	default:
		return Null
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Project applies a FieldMapping against a View, producing the outbound
// payload as a map-rooted Value. Null/missing source with no default omits
// the target key entirely; with a default, the default is written instead.
func Project(fm FieldMapping, view View) Value {
	out := NewMap(map[string]Value{})
	for _, entry := range fm {
		src := view.resolveSource(entry.SourcePath)
		result := Apply(entry.TransformID, src)
		if result.IsNull() {
			if entry.Default != nil {
				out = out.Set(entry.TargetPath, *entry.Default)
			}
			continue
		}
		out = out.Set(entry.TargetPath, result)
	}
	return out
}

// ProjectCompliance applies compliance aliases on top of an already-projected
// payload, emitting each alias target with the same resolved value.
func ProjectCompliance(aliases []ComplianceAlias, view View, out Value) Value {
	for _, alias := range aliases {
		v := view.resolveSource(alias.SourcePath)
		if v.IsNull() {
			continue
		}
		for _, target := range alias.TargetPaths {
			out = out.Set(target, v)
		}
	}
	return out
}
