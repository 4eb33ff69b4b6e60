// Package render materializes instance directories and renders execution
// artifacts from templates against fully resolved variable mappings.
package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// Renderer renders templates looked up relative to the workspace directory.
type Renderer struct {
	workspaceDir string
}

// NewRenderer creates a Renderer rooted at workspaceDir.
func NewRenderer(workspaceDir string) *Renderer {
	return &Renderer{workspaceDir: workspaceDir}
}

// Render expands a template source with the given variables. Variables are
// addressed as {{.name}}; referencing an undefined variable is an error.
func Render(src string, variables map[string]string) (string, error) {
	tmpl, err := template.New("artifact").Option("missingkey=error").Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, variables); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return sb.String(), nil
}

// LoadTemplate reads a template relative to the workspace directory.
// The resolved path must stay within the workspace.
func (r *Renderer) LoadTemplate(templatePath string) (string, error) {
	path := filepath.Join(r.workspaceDir, templatePath)
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve template path %q: %w", templatePath, err)
	}
	absRoot, err := filepath.Abs(r.workspaceDir)
	if err != nil {
		return "", fmt.Errorf("resolve workspace dir: %w", err)
	}
	if !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) && absPath != absRoot {
		return "", fmt.Errorf("template path %q escapes workspace", templatePath)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return "", fmt.Errorf("read template %q: %w", templatePath, err)
	}
	return string(data), nil
}

// Materialize creates the instance directory.
func Materialize(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return nil
}

// RenderFile loads templatePath, renders it with the variables, and writes
// the result into dir under the template's base name. Scripts get 0o755.
func (r *Renderer) RenderFile(dir, templatePath string, variables map[string]string, executable bool) (string, error) {
	src, err := r.LoadTemplate(templatePath)
	if err != nil {
		return "", err
	}
	out, err := Render(src, variables)
	if err != nil {
		return "", fmt.Errorf("render %q: %w", templatePath, err)
	}

	mode := os.FileMode(0o644)
	if executable {
		mode = 0o755
	}
	dest := filepath.Join(dir, filepath.Base(templatePath))
	if err := os.WriteFile(dest, []byte(out), mode); err != nil {
		return "", fmt.Errorf("write %s: %w", dest, err)
	}
	return dest, nil
}
