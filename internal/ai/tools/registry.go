package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Capability is the closed set of read-only operations the model may request.
type Capability string

const (
	CapListDirectory     Capability = "list_directory"
	CapReadFile          Capability = "read_file"
	CapSearchCode        Capability = "search_code"
	CapGetImportsExports Capability = "get_imports_exports"
)

// Capabilities lists every capability in schema order.
var Capabilities = []Capability{CapListDirectory, CapReadFile, CapSearchCode, CapGetImportsExports}

// UnknownCapabilityError reports a tool name outside the capability set.
type UnknownCapabilityError struct {
	Name string
}

func (e *UnknownCapabilityError) Error() string {
	return fmt.Sprintf("unknown capability %q", e.Name)
}

// ParseCapability maps a tool name to a capability.
func ParseCapability(name string) (Capability, error) {
	c := Capability(strings.TrimSpace(name))
	for _, known := range Capabilities {
		if c == known {
			return c, nil
		}
	}
	return "", &UnknownCapabilityError{Name: strings.TrimSpace(name)}
}

// Definition is the schema entry sent to the model for one capability.
type Definition struct {
	Name        Capability
	Description string
	InputSchema json.RawMessage
}

var builtinDefinitions = map[Capability]Definition{
	CapListDirectory: {
		Name: CapListDirectory,
		Description: "List the entries of a directory in the repository. Directories are listed before files. " +
			"Start with the repository root (path \"\") to learn the layout, then drill into relevant folders. " +
			"Use maxDepth > 1 sparingly; deep listings are truncated.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "Directory path relative to the repository root. Use \"\" for the root."},
    "maxDepth": {"type": "integer", "description": "How many levels to descend (1-5). Default 1.", "minimum": 1, "maximum": 5}
  },
  "required": ["path"],
  "additionalProperties": false
}`),
	},
	CapReadFile: {
		Name: CapReadFile,
		Description: "Read a file from the repository. Lines are prefixed with their absolute line number. " +
			"Large files are truncated; pass startLine/endLine to read a specific window.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "File path relative to the repository root."},
    "startLine": {"type": "integer", "description": "First line to return (1-indexed, inclusive).", "minimum": 1},
    "endLine": {"type": "integer", "description": "Last line to return (1-indexed, inclusive).", "minimum": 1}
  },
  "required": ["path"],
  "additionalProperties": false
}`),
	},
	CapSearchCode: {
		Name: CapSearchCode,
		Description: "Search the repository for a literal string (case-insensitive). Returns matching files and line context. " +
			"Narrow results with filePattern, e.g. \"*.ts,*.tsx\" or \"src/**/*.go\".",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Literal text to search for."},
    "filePattern": {"type": "string", "description": "Optional glob filter. * matches within a path segment, ** across segments, commas separate alternatives."},
    "maxResults": {"type": "integer", "description": "Maximum results to return (default 20, max 100).", "minimum": 1, "maximum": 100}
  },
  "required": ["query"],
  "additionalProperties": false
}`),
	},
	CapGetImportsExports: {
		Name: CapGetImportsExports,
		Description: "Extract the import and export statements of a source file to understand its dependencies and public surface. " +
			"This is a lexical scan, not a compiler; treat the result as a hint.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "File path relative to the repository root."}
  },
  "required": ["path"],
  "additionalProperties": false
}`),
	},
}

// LookupDefinition returns the schema entry for c.
func LookupDefinition(c Capability) (Definition, bool) {
	def, ok := builtinDefinitions[c]
	return def, ok
}

// Definitions returns all schema entries in a stable order.
func Definitions() []Definition {
	out := make([]Definition, 0, len(Capabilities))
	for _, c := range Capabilities {
		out = append(out, builtinDefinitions[c])
	}
	return out
}
