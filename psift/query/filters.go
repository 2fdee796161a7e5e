package query

import (
	"path/filepath"
	"regexp"
	"strings"
)

// FilterKind enumerates the closed set of filter predicates.
type FilterKind uint8

const (
	// FilterUnknown marks an ident or argument the parser accepted but the
	// evaluator must reject.
	FilterUnknown FilterKind = iota
	FilterFile
	FilterFolder
	FilterExtension
	FilterParent
	FilterInFolder
	FilterNoSubfolders
	FilterSize
	FilterDateModified
	FilterDateCreated
	FilterRegex
	FilterContent
	FilterTag
)

// FilterSpec is the parsed payload of a filter. Only the fields relevant to
// Kind are populated.
type FilterSpec struct {
	Kind    FilterKind
	Exts    []string       // FilterExtension
	Path    string         // FilterParent / FilterInFolder / FilterNoSubfolders
	Size    SizeRange      // FilterSize
	DateArg string         // FilterDateModified / FilterDateCreated, resolved at evaluation
	Regex   *regexp.Regexp // FilterRegex
	Needle  string         // FilterContent
	Tags    []string       // FilterTag
}

func parseFilterSpec(t token) (FilterSpec, error) {
	arg := t.arg
	if !t.argQuoted {
		arg = strings.TrimSpace(arg)
	}
	switch t.text {
	case "file":
		return FilterSpec{Kind: FilterFile}, nil
	case "folder":
		return FilterSpec{Kind: FilterFolder}, nil
	case "ext":
		exts := splitArgList(arg)
		if len(exts) == 0 {
			return FilterSpec{}, &ParseError{Offset: t.offset, Msg: "ext filter needs at least one extension"}
		}
		for i, ext := range exts {
			exts[i] = strings.ToLower(strings.TrimPrefix(ext, "."))
		}
		return FilterSpec{Kind: FilterExtension, Exts: exts}, nil
	case "type":
		exts, ok := TypeCategoryExts(strings.ToLower(arg))
		if !ok {
			// Syntactically fine, semantically unknown: reject at evaluation.
			return FilterSpec{Kind: FilterUnknown}, nil
		}
		return FilterSpec{Kind: FilterExtension, Exts: exts}, nil
	case "parent":
		return parsePathFilter(FilterParent, arg, t.offset)
	case "infolder":
		return parsePathFilter(FilterInFolder, arg, t.offset)
	case "nosubfolders":
		return parsePathFilter(FilterNoSubfolders, arg, t.offset)
	case "size":
		r, err := ParseSizeArg(arg)
		if err != nil {
			return FilterSpec{}, &ParseError{Offset: t.offset, Msg: err.Error()}
		}
		return FilterSpec{Kind: FilterSize, Size: r}, nil
	case "dm":
		return FilterSpec{Kind: FilterDateModified, DateArg: arg}, nil
	case "dc":
		return FilterSpec{Kind: FilterDateCreated, DateArg: arg}, nil
	case "regex":
		re, err := regexp.Compile(t.arg)
		if err != nil {
			return FilterSpec{}, &ParseError{Offset: t.offset, Msg: err.Error(), Regex: true}
		}
		return FilterSpec{Kind: FilterRegex, Regex: re}, nil
	case "content":
		if t.arg == "" {
			return FilterSpec{}, &ParseError{Offset: t.offset, Msg: "content filter rejects an empty needle"}
		}
		return FilterSpec{Kind: FilterContent, Needle: t.arg}, nil
	case "tag":
		tags := splitArgList(arg)
		if len(tags) == 0 {
			return FilterSpec{}, &ParseError{Offset: t.offset, Msg: "tag filter needs at least one tag"}
		}
		return FilterSpec{Kind: FilterTag, Tags: tags}, nil
	default:
		return FilterSpec{Kind: FilterUnknown}, nil
	}
}

func parsePathFilter(kind FilterKind, arg string, offset int) (FilterSpec, error) {
	if arg == "" {
		return FilterSpec{}, &ParseError{Offset: offset, Msg: "path filter needs a folder argument"}
	}
	return FilterSpec{Kind: kind, Path: filepath.Clean(arg)}, nil
}

// splitArgList splits a semicolon-separated argument, dropping empty items.
func splitArgList(arg string) []string {
	parts := strings.Split(arg, ";")
	out := parts[:0]
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
