package storage

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// DefaultPathTemplate lays documents out by team and month.
const DefaultPathTemplate = "documents/{team_id}/{year}/{month}/{document_id}"

var (
	placeholderPattern = regexp.MustCompile(`\{([^{}]*)\}`)
	unsafeFilenameChar = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

	knownPlaceholders = map[string]struct{}{
		"team_id":     {},
		"year":        {},
		"month":       {},
		"document_id": {},
	}
)

// PathGenerator maps document identity and time to storage keys.
type PathGenerator struct {
	template string
}

// NewPathGenerator validates template. Unknown placeholders are rejected and
// {document_id} is mandatory so keys of different documents never collide.
func NewPathGenerator(template string) (*PathGenerator, error) {
	template = strings.Trim(strings.TrimSpace(template), "/")
	if template == "" {
		template = DefaultPathTemplate
	}
	if strings.Count(template, "{") != strings.Count(template, "}") {
		return nil, fmt.Errorf("path template %q: unbalanced braces", template)
	}
	hasDocumentID := false
	for _, match := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		name := match[1]
		if _, ok := knownPlaceholders[name]; !ok {
			return nil, fmt.Errorf("path template %q: unknown placeholder {%s}", template, name)
		}
		if name == "document_id" {
			hasDocumentID = true
		}
	}
	if !hasDocumentID {
		return nil, fmt.Errorf("path template %q: {document_id} is required", template)
	}
	return &PathGenerator{template: template}, nil
}

// Template returns the normalised template.
func (g *PathGenerator) Template() string {
	return g.template
}

// Generate returns the storage key for a document's file.
func (g *PathGenerator) Generate(teamID, documentID, filename string, year, month int) string {
	return path.Join(g.directory(teamID, documentID, year, month), SanitizeFilename(filename))
}

// GenerateVersioned returns the key for a specific version, inserting _v{n}
// before the file extension.
func (g *PathGenerator) GenerateVersioned(teamID, documentID, filename string, year, month, version int) string {
	name := SanitizeFilename(filename)
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if base == "" {
		base, ext = name, ""
	}
	versioned := base + "_v" + strconv.Itoa(version) + ext
	return path.Join(g.directory(teamID, documentID, year, month), versioned)
}

func (g *PathGenerator) directory(teamID, documentID string, year, month int) string {
	values := map[string]string{
		"team_id":     segment(teamID),
		"year":        fmt.Sprintf("%04d", year),
		"month":       fmt.Sprintf("%02d", month),
		"document_id": segment(documentID),
	}
	return placeholderPattern.ReplaceAllStringFunc(g.template, func(token string) string {
		return values[strings.Trim(token, "{}")]
	})
}

// SanitizeFilename reduces name to a single safe path segment.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	name = unsafeFilenameChar.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	return name
}

func segment(value string) string {
	value = unsafeFilenameChar.ReplaceAllString(value, "_")
	if value == "" || value == "." || value == ".." {
		return "_"
	}
	return value
}
