package tools

import (
	"path"
	"strings"
)

var languageByExt = map[string]string{
	".ts":      "typescript",
	".tsx":     "typescript",
	".mts":     "typescript",
	".cts":     "typescript",
	".js":      "javascript",
	".jsx":     "javascript",
	".mjs":     "javascript",
	".cjs":     "javascript",
	".vue":     "vue",
	".svelte":  "svelte",
	".go":      "go",
	".py":      "python",
	".rb":      "ruby",
	".rs":      "rust",
	".java":    "java",
	".kt":      "kotlin",
	".kts":     "kotlin",
	".scala":   "scala",
	".swift":   "swift",
	".c":       "c",
	".h":       "c",
	".cc":      "cpp",
	".cpp":     "cpp",
	".hpp":     "cpp",
	".cs":      "csharp",
	".php":     "php",
	".sh":      "shell",
	".bash":    "shell",
	".zsh":     "shell",
	".sql":     "sql",
	".json":    "json",
	".yaml":    "yaml",
	".yml":     "yaml",
	".toml":    "toml",
	".xml":     "xml",
	".html":    "html",
	".css":     "css",
	".scss":    "scss",
	".less":    "less",
	".md":      "markdown",
	".mdx":     "markdown",
	".proto":   "protobuf",
	".graphql": "graphql",
	".gql":     "graphql",
	".prisma":  "prisma",
	".tf":      "terraform",
}

var languageByName = map[string]string{
	"dockerfile":  "dockerfile",
	"makefile":    "makefile",
	"gemfile":     "ruby",
	"rakefile":    "ruby",
	"jenkinsfile": "groovy",
}

// DetectLanguage returns a coarse language tag for p, or "" when unknown.
func DetectLanguage(p string) string {
	base := strings.ToLower(path.Base(p))
	if lang, ok := languageByName[base]; ok {
		return lang
	}
	return languageByExt[strings.ToLower(path.Ext(base))]
}

// isScriptLike reports whether the import/export extractor understands p's syntax.
func isScriptLike(lang string) bool {
	switch lang {
	case "typescript", "javascript", "vue", "svelte":
		return true
	default:
		return false
	}
}
