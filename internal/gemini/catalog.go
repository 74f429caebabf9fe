// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenderscope Contributors

package gemini

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	tserr "github.com/tenderscope/tenderscope/pkg/errors"
)

// Template kinds accepted by the prompt optimizer.
const (
	TemplateTitle       = "title"
	TemplateDescription = "description"
	TemplateFeatures    = "features"
	TemplateFAQ         = "faq"
	TemplateKeywords    = "keywords"
)

var knownTemplateKinds = map[string]bool{
	TemplateTitle:       true,
	TemplateDescription: true,
	TemplateFeatures:    true,
	TemplateFAQ:         true,
	TemplateKeywords:    true,
}

// TemplateReader loads an optimizer prompt template by kind.
type TemplateReader interface {
	Read(kind string) (string, error)
}

// DirTemplates reads templates from a directory, one file per kind named
// optimize-<kind>.md.
type DirTemplates struct {
	dir string
}

// NewDirTemplates returns a TemplateReader rooted at dir.
func NewDirTemplates(dir string) *DirTemplates {
	return &DirTemplates{dir: dir}
}

func (t *DirTemplates) Read(kind string) (string, error) {
	if !knownTemplateKinds[kind] {
		return "", tserr.Errorf(tserr.CodeGeminiTemplateNotFound, "unknown template kind %q", kind)
	}

	data, err := os.ReadFile(filepath.Join(t.dir, "optimize-"+kind+".md"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", tserr.Errorf(tserr.CodeGeminiTemplateNotFound, "no template for kind %q", kind)
		}
		return "", tserr.Wrapf(err, tserr.CodeGeminiTemplateNotFound, "reading template %q", kind)
	}
	return string(data), nil
}

// Tool is one entry of the AI-tool catalog the optimizer draws context
// from.
type Tool struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Category    string `yaml:"category"`
	Description string `yaml:"description"`
}

// Catalog resolves tool identifiers to catalog entries.
type Catalog interface {
	Lookup(id string) (*Tool, error)
}

// YAMLCatalog is a Catalog loaded once from a YAML file.
type YAMLCatalog struct {
	tools map[string]*Tool
}

// LoadCatalog parses the tool catalog at path.
func LoadCatalog(path string) (*YAMLCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, tserr.Wrapf(err, tserr.CodeConfigLoadReadFailure, "reading tool catalog %s", path)
	}

	var doc struct {
		Tools []Tool `yaml:"tools"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, tserr.Wrapf(err, tserr.CodeConfigLoadReadFailure, "parsing tool catalog %s", path)
	}

	tools := make(map[string]*Tool, len(doc.Tools))
	for i := range doc.Tools {
		tool := &doc.Tools[i]
		if tool.ID == "" {
			continue
		}
		tools[tool.ID] = tool
	}
	return &YAMLCatalog{tools: tools}, nil
}

func (c *YAMLCatalog) Lookup(id string) (*Tool, error) {
	tool, ok := c.tools[id]
	if !ok {
		return nil, tserr.Errorf(tserr.CodeGeminiToolNotFound, "tool %q not in catalog", id)
	}
	return tool, nil
}

// buildOptimizePrompt fills the template placeholders with the request
// context.
func buildOptimizePrompt(template, currentContent, philosophy, framework string, tool *Tool) string {
	replacements := []string{
		"{{CURRENT_CONTENT}}", currentContent,
		"{{PHILOSOPHY}}", philosophy,
		"{{FRAMEWORK}}", framework,
	}
	if tool != nil {
		replacements = append(replacements,
			"{{TOOL_NAME}}", tool.Name,
			"{{TOOL_CATEGORY}}", tool.Category,
			"{{TOOL_DESCRIPTION}}", tool.Description,
		)
	}
	return strings.NewReplacer(replacements...).Replace(template)
}
