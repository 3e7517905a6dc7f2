package tools

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// Import/export extraction is a lexical pass over the source text, not a parse.
// Statements inside string literals or comments can be picked up, and unusual
// formatting can be missed. Results are hints for the model.

type ImportEntry struct {
	Source     string   `json:"source"`
	Specifiers []string `json:"specifiers,omitempty"`
	Kinds      []string `json:"kinds"`
}

type ExportEntry struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Source string `json:"source,omitempty"`
}

type ImportsExportsResult struct {
	Path     string        `json:"path"`
	Language string        `json:"language,omitempty"`
	Imports  []ImportEntry `json:"imports"`
	Exports  []ExportEntry `json:"exports"`
	Note     string        `json:"note,omitempty"`
}

const (
	importDefault   = "default"
	importNamed     = "named"
	importNamespace = "namespace"
	importSideEff   = "side_effect"
	importRequire   = "require"
	importDynamic   = "dynamic"
	importType      = "type"
)

var (
	reImportFrom   = regexp.MustCompile(`(?m)^[ \t]*import\s+(type\s+)?([\w$*{}\s,]+?)\s+from\s+['"]([^'"\n]+)['"]`)
	reImportBare   = regexp.MustCompile(`(?m)^[ \t]*import\s+['"]([^'"\n]+)['"]`)
	reRequire      = regexp.MustCompile(`(?:(?:const|let|var)\s+([\w$]+|\{[^}]*\})\s*=\s*)?\brequire\(\s*['"]([^'"\n]+)['"]\s*\)`)
	reDynamic      = regexp.MustCompile(`\bimport\(\s*['"]([^'"\n]+)['"]\s*\)`)
	reExportDecl   = regexp.MustCompile(`(?m)^[ \t]*export\s+(?:declare\s+)?(default\s+)?(?:async\s+)?(function\s*\*\s*|function\s+|abstract\s+class\s+|class\s+|const\s+|let\s+|var\s+|type\s+|interface\s+|enum\s+|namespace\s+)([\w$]+)`)
	reExportDef    = regexp.MustCompile(`(?m)^[ \t]*export\s+default\s+([\w$]*)`)
	reExportList   = regexp.MustCompile(`(?m)^[ \t]*export\s+(?:type\s+)?\{([^}]*)\}(?:\s*from\s+['"]([^'"\n]+)['"])?`)
	reExportStar   = regexp.MustCompile(`(?m)^[ \t]*export\s+\*\s*(?:as\s+([\w$]+)\s+)?from\s+['"]([^'"\n]+)['"]`)
	reCJSModule    = regexp.MustCompile(`(?m)^[ \t]*module\.exports\s*=`)
	reCJSNamed     = regexp.MustCompile(`(?m)^[ \t]*(?:module\.)?exports\.([\w$]+)\s*=`)
	reGoImportOne  = regexp.MustCompile(`(?m)^import\s+(?:([\w.]+)\s+)?"([^"]+)"`)
	reGoImportList = regexp.MustCompile(`(?ms)^import\s*\((.*?)\)`)
	reGoImportLine = regexp.MustCompile(`(?m)^\s*(?:([\w.]+)\s+)?"([^"]+)"`)
	reGoExported   = regexp.MustCompile(`(?m)^(func|type|var|const)\s+(?:\([^)]*\)\s*)?([A-Z]\w*)`)
	rePyImport     = regexp.MustCompile(`(?m)^[ \t]*import[ \t]+([\w.]+(?:[ \t]+as[ \t]+\w+)?(?:[ \t]*,[ \t]*[\w.]+(?:[ \t]+as[ \t]+\w+)?)*)`)
	rePyFrom       = regexp.MustCompile(`(?m)^[ \t]*from[ \t]+([\w.]+)[ \t]+import[ \t]+(?:\(([^)]*)\)|([\w \t,*]+))`)
)

func (e *Executor) importsExports(ctx context.Context, args map[string]any) (ImportsExportsResult, error) {
	raw, _ := readStringArg(args, "path", "file")
	p, err := normalizeRepoPath(raw)
	if err != nil {
		return ImportsExportsResult{}, err
	}
	if p == "" {
		return ImportsExportsResult{}, invalidArgs("path is required")
	}
	fc, err := e.gw.GetFileContent(ctx, e.ref, p)
	if err != nil {
		return ImportsExportsResult{}, err
	}
	src, _ := truncateBytes(fc.Content, e.limits.MaxFileBytes)
	out := ExtractImportsExports(p, src)
	return out, nil
}

// ExtractImportsExports runs the lexical extractor for the language implied by p.
func ExtractImportsExports(p string, src string) ImportsExportsResult {
	lang := DetectLanguage(p)
	out := ImportsExportsResult{Path: p, Language: lang}
	imports := newImportSet()
	var exports []ExportEntry

	switch {
	case isScriptLike(lang):
		extractScriptImports(src, imports)
		exports = extractScriptExports(src)
	case lang == "go":
		extractGoImports(src, imports)
		exports = extractGoExports(src)
	case lang == "python":
		extractPythonImports(src, imports)
	default:
		out.Note = "import/export extraction is not supported for this file type"
	}
	out.Imports = imports.list()
	out.Exports = dedupExports(exports)
	return out
}

func extractScriptImports(src string, set *importSet) {
	for _, m := range reImportFrom.FindAllStringSubmatch(src, -1) {
		typeOnly := strings.TrimSpace(m[1]) != ""
		specs, kinds := parseImportClause(m[2])
		if typeOnly {
			kinds = append(kinds, importType)
		}
		set.add(m[3], specs, kinds...)
	}
	for _, m := range reImportBare.FindAllStringSubmatch(src, -1) {
		set.add(m[1], nil, importSideEff)
	}
	for _, m := range reRequire.FindAllStringSubmatch(src, -1) {
		binding := strings.TrimSpace(m[1])
		var specs []string
		switch {
		case binding == "":
		case strings.HasPrefix(binding, "{"):
			specs = splitSpecifiers(strings.Trim(binding, "{}"), ":")
		default:
			specs = []string{binding}
		}
		set.add(m[2], specs, importRequire)
	}
	for _, m := range reDynamic.FindAllStringSubmatch(src, -1) {
		set.add(m[1], nil, importDynamic)
	}
}

// parseImportClause splits `React, { useState, useEffect as fx }` or `* as path`.
func parseImportClause(clause string) ([]string, []string) {
	clause = strings.TrimSpace(clause)
	var specs, kinds []string
	if lb := strings.Index(clause, "{"); lb >= 0 {
		rb := strings.LastIndex(clause, "}")
		if rb > lb {
			specs = append(specs, splitSpecifiers(clause[lb+1:rb], " as ")...)
			kinds = append(kinds, importNamed)
			clause = clause[:lb] + clause[rb+1:]
		}
	}
	for _, part := range strings.Split(clause, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
		case strings.HasPrefix(part, "*"):
			specs = append(specs, strings.Join(strings.Fields(part), " "))
			kinds = append(kinds, importNamespace)
		default:
			specs = append(specs, part)
			kinds = append(kinds, importDefault)
		}
	}
	return specs, kinds
}

// splitSpecifiers splits a brace list, normalizing "a  as  b" (or "a: b" for
// destructuring) to "a as b".
func splitSpecifiers(list string, alias string) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		part = strings.Join(strings.Fields(part), " ")
		part = strings.TrimPrefix(part, "type ")
		if part == "" {
			continue
		}
		if alias != " as " {
			if name, local, ok := strings.Cut(part, strings.TrimSpace(alias)); ok {
				name, local = strings.TrimSpace(name), strings.TrimSpace(local)
				if name != local {
					part = name + " as " + local
				} else {
					part = name
				}
			}
		}
		out = append(out, part)
	}
	return out
}

func extractScriptExports(src string) []ExportEntry {
	var out []ExportEntry
	declaredDefault := map[int]struct{}{}
	for _, idx := range reExportDecl.FindAllStringSubmatchIndex(src, -1) {
		isDefault := idx[2] >= 0
		kinds := strings.Fields(strings.ReplaceAll(src[idx[4]:idx[5]], "*", " "))
		kind := kinds[len(kinds)-1]
		name := src[idx[6]:idx[7]]
		if name == "extends" || name == "implements" {
			// export default class extends Base {}
			continue
		}
		if isDefault {
			declaredDefault[idx[0]] = struct{}{}
			out = append(out, ExportEntry{Name: name, Kind: "default"})
			continue
		}
		out = append(out, ExportEntry{Name: name, Kind: kind})
	}
	for _, idx := range reExportDef.FindAllStringSubmatchIndex(src, -1) {
		if _, ok := declaredDefault[idx[0]]; ok {
			continue
		}
		switch word := src[idx[2]:idx[3]]; word {
		case "", "function", "class", "async", "abstract":
			out = append(out, ExportEntry{Name: "default", Kind: "default"})
		default:
			out = append(out, ExportEntry{Name: word, Kind: "default"})
		}
	}
	for _, m := range reExportList.FindAllStringSubmatch(src, -1) {
		kind := "named"
		if m[2] != "" {
			kind = "reexport"
		}
		for _, spec := range splitSpecifiers(m[1], " as ") {
			name := spec
			if _, alias, ok := strings.Cut(spec, " as "); ok {
				name = strings.TrimSpace(alias)
			}
			out = append(out, ExportEntry{Name: name, Kind: kind, Source: m[2]})
		}
	}
	for _, m := range reExportStar.FindAllStringSubmatch(src, -1) {
		name := "*"
		if m[1] != "" {
			name = m[1]
		}
		out = append(out, ExportEntry{Name: name, Kind: "reexport", Source: m[2]})
	}
	if reCJSModule.MatchString(src) {
		out = append(out, ExportEntry{Name: "module.exports", Kind: "commonjs"})
	}
	for _, m := range reCJSNamed.FindAllStringSubmatch(src, -1) {
		out = append(out, ExportEntry{Name: m[1], Kind: "commonjs"})
	}
	return out
}

func extractGoImports(src string, set *importSet) {
	for _, m := range reGoImportOne.FindAllStringSubmatch(src, -1) {
		set.add(m[2], aliasSpec(m[1]), importNamed)
	}
	for _, block := range reGoImportList.FindAllStringSubmatch(src, -1) {
		for _, m := range reGoImportLine.FindAllStringSubmatch(block[1], -1) {
			set.add(m[2], aliasSpec(m[1]), importNamed)
		}
	}
}

func aliasSpec(alias string) []string {
	if alias == "" {
		return nil
	}
	return []string{alias}
}

func extractGoExports(src string) []ExportEntry {
	var out []ExportEntry
	for _, m := range reGoExported.FindAllStringSubmatch(src, -1) {
		out = append(out, ExportEntry{Name: m[2], Kind: m[1]})
	}
	return out
}

func extractPythonImports(src string, set *importSet) {
	for _, m := range rePyImport.FindAllStringSubmatch(src, -1) {
		for _, mod := range strings.Split(m[1], ",") {
			mod = strings.Join(strings.Fields(mod), " ")
			name, alias, ok := strings.Cut(mod, " as ")
			if ok {
				set.add(name, []string{"* as " + alias}, importNamespace)
			} else {
				set.add(mod, nil, importNamespace)
			}
		}
	}
	for _, m := range rePyFrom.FindAllStringSubmatch(src, -1) {
		list := m[2]
		if list == "" {
			list = m[3]
		}
		set.add(m[1], splitSpecifiers(list, " as "), importNamed)
	}
}

// importSet merges statements by source module.
type importSet struct {
	order []string
	bySrc map[string]*importAcc
}

type importAcc struct {
	specs map[string]struct{}
	kinds map[string]struct{}
}

func newImportSet() *importSet {
	return &importSet{bySrc: make(map[string]*importAcc)}
}

func (s *importSet) add(source string, specs []string, kinds ...string) {
	source = strings.TrimSpace(source)
	if source == "" {
		return
	}
	acc := s.bySrc[source]
	if acc == nil {
		acc = &importAcc{specs: map[string]struct{}{}, kinds: map[string]struct{}{}}
		s.bySrc[source] = acc
		s.order = append(s.order, source)
	}
	for _, sp := range specs {
		if sp = strings.TrimSpace(sp); sp != "" {
			acc.specs[sp] = struct{}{}
		}
	}
	for _, k := range kinds {
		acc.kinds[k] = struct{}{}
	}
}

func (s *importSet) list() []ImportEntry {
	out := make([]ImportEntry, 0, len(s.order))
	for _, src := range s.order {
		acc := s.bySrc[src]
		out = append(out, ImportEntry{Source: src, Specifiers: sortedKeys(acc.specs), Kinds: sortedKeys(acc.kinds)})
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func dedupExports(in []ExportEntry) []ExportEntry {
	out := make([]ExportEntry, 0, len(in))
	seen := make(map[ExportEntry]struct{}, len(in))
	for _, e := range in {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
