package strata

import "github.com/oarkflow/strata/internal/manifest"

// IndexKind enumerates the secondary-index flavors a collection can
// register (§3, §4.9). Re-exported from internal/manifest so callers never
// import an internal package to declare an index.
type IndexKind = manifest.IndexKind

const (
	IndexUnique IndexKind = manifest.IndexUnique
	IndexMulti  IndexKind = manifest.IndexMulti
	IndexFTS    IndexKind = manifest.IndexFTS
	IndexVector IndexKind = manifest.IndexVector
)

// IndexDef describes one secondary index: a name, a kind, and the
// key-path (`.field`, `.a.b`, `.arr[]`) it projects from a document (§6).
type IndexDef struct {
	Name string
	Kind IndexKind
	Path string
}

func (d IndexDef) toManifest() manifest.IndexDef {
	return manifest.IndexDef{Name: d.Name, Kind: d.Kind, Field: d.Path}
}
