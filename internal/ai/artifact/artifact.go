// Package artifact recovers the structured analysis result from free-form model output.
package artifact

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Artifact is the final structured analysis. Every field has a default so a
// partially recovered artifact is always fully shaped.
type Artifact struct {
	TaskType            string       `json:"task_type" yaml:"task_type"`
	Summary             string       `json:"summary" yaml:"summary"`
	Analysis            string       `json:"analysis" yaml:"analysis"`
	Approach            string       `json:"approach" yaml:"approach"`
	FilesToCreate       []FileCreate `json:"files_to_create" yaml:"files_to_create"`
	FilesToModify       []FileModify `json:"files_to_modify" yaml:"files_to_modify"`
	ImplementationSteps []Step       `json:"implementation_steps" yaml:"implementation_steps"`
	EdgeCases           []string     `json:"edge_cases" yaml:"edge_cases"`
	Risks               []Risk       `json:"risks" yaml:"risks"`
	TestingStrategy     string       `json:"testing_strategy" yaml:"testing_strategy"`
	Metadata            Metadata     `json:"metadata" yaml:"metadata"`
}

type FileCreate struct {
	Path        string `json:"path" yaml:"path"`
	Purpose     string `json:"purpose" yaml:"purpose"`
	Description string `json:"description" yaml:"description"`
}

type FileModify struct {
	Path    string `json:"path" yaml:"path"`
	Changes string `json:"changes" yaml:"changes"`
	Reason  string `json:"reason" yaml:"reason"`
}

type Step struct {
	Order       int      `json:"order" yaml:"order"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	Files       []string `json:"files" yaml:"files"`
}

type Risk struct {
	Description string `json:"description" yaml:"description"`
	Severity    string `json:"severity" yaml:"severity"`
	Mitigation  string `json:"mitigation" yaml:"mitigation"`
}

type Metadata struct {
	Confidence          string   `json:"confidence" yaml:"confidence"`
	EstimatedComplexity string   `json:"estimated_complexity" yaml:"estimated_complexity"`
	Dependencies        []string `json:"dependencies" yaml:"dependencies"`
	Notes               string   `json:"notes" yaml:"notes"`
}

// Defaults applied to absent or empty fields.
const (
	DefaultTaskType   = "feature"
	DefaultConfidence = "medium"
	DefaultComplexity = "medium"
	DefaultSeverity   = "medium"
)

// Default returns an artifact with every field at its default.
func Default() Artifact {
	a := Artifact{}
	a.fillDefaults()
	return a
}

func (a *Artifact) fillDefaults() {
	if strings.TrimSpace(a.TaskType) == "" {
		a.TaskType = DefaultTaskType
	}
	if a.FilesToCreate == nil {
		a.FilesToCreate = []FileCreate{}
	}
	if a.FilesToModify == nil {
		a.FilesToModify = []FileModify{}
	}
	if a.ImplementationSteps == nil {
		a.ImplementationSteps = []Step{}
	}
	for i := range a.ImplementationSteps {
		if a.ImplementationSteps[i].Order <= 0 {
			a.ImplementationSteps[i].Order = i + 1
		}
		if a.ImplementationSteps[i].Files == nil {
			a.ImplementationSteps[i].Files = []string{}
		}
	}
	if a.EdgeCases == nil {
		a.EdgeCases = []string{}
	}
	if a.Risks == nil {
		a.Risks = []Risk{}
	}
	for i := range a.Risks {
		if strings.TrimSpace(a.Risks[i].Severity) == "" {
			a.Risks[i].Severity = DefaultSeverity
		}
	}
	if strings.TrimSpace(a.Metadata.Confidence) == "" {
		a.Metadata.Confidence = DefaultConfidence
	}
	if strings.TrimSpace(a.Metadata.EstimatedComplexity) == "" {
		a.Metadata.EstimatedComplexity = DefaultComplexity
	}
	if a.Metadata.Dependencies == nil {
		a.Metadata.Dependencies = []string{}
	}
}

// fromMap builds an artifact from decoded JSON, ignoring fields whose type does
// not fit instead of rejecting the whole document.
func fromMap(m map[string]any) Artifact {
	a := Artifact{
		TaskType:        str(m["task_type"]),
		Summary:         str(m["summary"]),
		Analysis:        str(m["analysis"]),
		Approach:        str(m["approach"]),
		EdgeCases:       strList(m["edge_cases"]),
		TestingStrategy: str(m["testing_strategy"]),
	}
	for _, it := range objList(m["files_to_create"]) {
		a.FilesToCreate = append(a.FilesToCreate, FileCreate{Path: str(it["path"]), Purpose: str(it["purpose"]), Description: str(it["description"])})
	}
	for _, it := range objList(m["files_to_modify"]) {
		a.FilesToModify = append(a.FilesToModify, FileModify{Path: str(it["path"]), Changes: str(it["changes"]), Reason: str(it["reason"])})
	}
	for _, it := range objList(m["implementation_steps"]) {
		a.ImplementationSteps = append(a.ImplementationSteps, Step{Order: num(it["order"]), Title: str(it["title"]), Description: str(it["description"]), Files: strList(it["files"])})
	}
	for _, it := range objList(m["risks"]) {
		a.Risks = append(a.Risks, Risk{Description: str(it["description"]), Severity: str(it["severity"]), Mitigation: str(it["mitigation"])})
	}
	if md, ok := m["metadata"].(map[string]any); ok {
		a.Metadata = Metadata{
			Confidence:          str(md["confidence"]),
			EstimatedComplexity: str(md["estimated_complexity"]),
			Dependencies:        strList(md["dependencies"]),
			Notes:               str(md["notes"]),
		}
	}
	return a
}

func str(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

func num(v any) int {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0
		}
		return int(x)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(x))
		return n
	default:
		return 0
	}
}

func strList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch x := it.(type) {
		case string:
			out = append(out, x)
		case map[string]any:
			// Models sometimes wrap list items in objects.
			if s := str(x["description"]); s != "" {
				out = append(out, s)
			} else if b, err := json.Marshal(x); err == nil {
				out = append(out, string(b))
			}
		default:
			if s := str(x); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func objList(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		switch x := it.(type) {
		case map[string]any:
			out = append(out, x)
		case string:
			// A bare path or sentence where an object was expected.
			out = append(out, map[string]any{"path": x, "description": x})
		}
	}
	return out
}

// ProposedFiles lists the paths the artifact proposes to create or modify, in order.
func (a Artifact) ProposedFiles() []ProposedFile {
	out := make([]ProposedFile, 0, len(a.FilesToCreate)+len(a.FilesToModify))
	for _, f := range a.FilesToCreate {
		if p := strings.TrimSpace(f.Path); p != "" {
			out = append(out, ProposedFile{Path: p, Action: "create"})
		}
	}
	for _, f := range a.FilesToModify {
		if p := strings.TrimSpace(f.Path); p != "" {
			out = append(out, ProposedFile{Path: p, Action: "modify"})
		}
	}
	return out
}

type ProposedFile struct {
	Path   string `json:"path"`
	Action string `json:"action"`
}
