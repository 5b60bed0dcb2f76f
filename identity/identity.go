// Package identity derives the family, version and style of a font from its
// source filename.
//
// The canonical policy splits the stem at its first hyphen: the left segment
// is the family and everything to the right is the version directory, which
// may carry a style ("Standard-v0.4"). Stems without a hyphen fall back to a
// trailing version token ("Dymon_v2.2", "Dymon v2.2") and default to v1.0.
//
//	Resolve("ZPixel-Standard-v0.4.ttf") -> ZPixel / Standard-v0.4 / Standard
//	Resolve("Dymon-v2.2.otf")           -> Dymon  / v2.2          / Regular
//	Resolve("Tangyuan.ttf")             -> Tangyuan / v1.0        / Regular
//
// Resolution is pure: the same filename always yields the same identity and
// therefore the same storage key.
package identity

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

const (
	// DefaultVersion is used when the filename carries no version token
	DefaultVersion = "v1.0"
	// DefaultStyle is used when the version carries nothing besides a version token
	DefaultStyle = "Regular"
	// ArtifactName is the stylesheet the font engine writes for each version
	ArtifactName = "result.css"
	// LatestSegment names the mutable alias directory
	LatestSegment = "latest"
)

var (
	trailingVersion = regexp.MustCompile(`(?i)[-_ ]?(v\d+(?:\.\d+)*)$`)
	styleSuffix     = regexp.MustCompile(`(?i)[-_]?v\d+(?:\.\d+)*$`)
	bareVersion     = regexp.MustCompile(`(?i)^v\d+(?:\.\d+)*$`)

	fontExts = map[string]bool{".ttf": true, ".otf": true, ".ttc": true, ".woff": true, ".woff2": true}
)

// Identity is a successfully resolved font asset
type Identity struct {
	Filename  string // Base name including extension
	Family    string // Logical font family, first path segment
	Version   string // Version directory, may include a style ("Standard-v0.4")
	Style     string // Style without version token, "Regular" when absent
	CSSFamily string // font-family name written into the stylesheet
}

// Result is the outcome of resolving one filename. Exactly one of Parsed or
// Reason is meaningful, selected by OK.
type Result struct {
	OK     bool
	Parsed Identity
	Reason string
}

// Unparseable builds a failed result
func Unparseable(filename, reason string) Result {
	return Result{Reason: fmt.Sprintf("%s: %s", filename, reason)}
}

// Resolve parses a source filename. It never panics; malformed names come
// back with OK == false and a reason.
func Resolve(filename string) Result {
	base := filepath.Base(filename)
	stem := strings.TrimSpace(trimFontExt(base))

	if stem == "" || stem == "." {
		return Unparseable(base, "empty name")
	}
	if strings.ContainsAny(stem, `/\`) {
		return Unparseable(base, "path separator in name")
	}
	if strings.IndexFunc(stem, unicode.IsControl) >= 0 {
		return Unparseable(base, "control character in name")
	}

	family, version := split(stem)

	if family == "" {
		return Unparseable(base, "empty family")
	}
	if version == "" {
		return Unparseable(base, "empty version")
	}
	if family == "." || family == ".." || version == "." || version == ".." ||
		strings.EqualFold(family, LatestSegment) || strings.EqualFold(version, LatestSegment) {
		return Unparseable(base, "reserved segment")
	}

	style := styleSuffix.ReplaceAllString(version, "")
	if style == "" {
		style = DefaultStyle
	}

	return Result{
		OK: true,
		Parsed: Identity{
			Filename:  base,
			Family:    family,
			Version:   version,
			Style:     style,
			CSSFamily: cssFamily(family, version, style),
		},
	}
}

// trimFontExt strips a known font extension. Other dots are kept so that
// "Dymon-v2.2" keeps its full version.
func trimFontExt(name string) string {
	ext := filepath.Ext(name)
	if fontExts[strings.ToLower(ext)] {
		return strings.TrimSuffix(name, ext)
	}
	return name
}

// split applies the first-separator policy with the version-suffix fallback
func split(stem string) (family, version string) {
	if i := strings.IndexByte(stem, '-'); i >= 0 {
		return strings.TrimSpace(stem[:i]), strings.TrimSpace(stem[i+1:])
	}

	m := trailingVersion.FindStringSubmatchIndex(stem)
	if m == nil {
		return stem, DefaultVersion
	}

	family = strings.TrimSpace(stem[:m[0]])
	if family == "" {
		// Stem is nothing but a version token
		return stem, DefaultVersion
	}
	return family, stem[m[2]:m[3]]
}

func cssFamily(family, version, style string) string {
	if bareVersion.MatchString(version) {
		return family
	}
	return family + "-" + style
}

// IsBareVersion reports whether v is a plain version token such as v1.2.3
func IsBareVersion(v string) bool {
	return bareVersion.MatchString(v)
}

// Prefix returns the storage prefix of the version directory, "Dymon/v2.2"
func (id Identity) Prefix() string {
	return path.Join(id.Family, id.Version)
}

// ArtifactKey returns the canonical storage key probed for existence
func (id Identity) ArtifactKey() string {
	return path.Join(id.Family, id.Version, ArtifactName)
}

// LatestPrefix returns the directory of the latest pointer: "Dymon/latest"
// for unstyled families and "ZPixel/Standard/latest" otherwise. A version
// without a version token ("ZPixel-Standard") names no style apart from its
// own directory, so it uses the family pointer rather than nesting a latest
// directory inside the version directory.
func (id Identity) LatestPrefix() string {
	if id.Style == DefaultStyle || id.Style == id.Version {
		return path.Join(id.Family, LatestSegment)
	}
	return path.Join(id.Family, id.Style, LatestSegment)
}

// LatestKey returns the storage key of the latest pointer stylesheet
func (id Identity) LatestKey() string {
	return path.Join(id.LatestPrefix(), ArtifactName)
}

func (id Identity) String() string {
	return id.Family + "/" + id.Version
}
