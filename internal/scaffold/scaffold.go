// Package scaffold instantiates project templates into a session's
// workspace directory. Templates come from a directory of manifests
// when one is configured, with a built-in set as fallback.
package scaffold

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// TemplateInfo describes one available template.
type TemplateInfo struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Provider instantiates templates by id.
type Provider interface {
	// Available lists the templates this provider can instantiate.
	Available() []TemplateInfo
	// Instantiate writes the template into targetDir, substituting
	// {{key}} placeholders from vars in every copied file.
	Instantiate(templateID, targetDir string, vars map[string]string) error
}

// NewProvider returns a directory-backed provider when templatesDir
// holds at least one manifest, otherwise the built-in set.
func NewProvider(templatesDir string) Provider {
	if templatesDir != "" {
		p := &dirProvider{root: templatesDir}
		if len(p.Available()) > 0 {
			return p
		}
	}
	return builtinProvider{}
}

// dirProvider reads templates from disk. Each template lives at
// <root>/<id>/ with a template.yaml manifest and a template/ tree that
// gets copied verbatim apart from placeholder substitution.
type dirProvider struct {
	root string
}

func (p *dirProvider) Available() []TemplateInfo {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return nil
	}

	var templates []TemplateInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := p.readManifest(e.Name())
		if err != nil {
			continue
		}
		templates = append(templates, info)
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })
	return templates
}

func (p *dirProvider) readManifest(id string) (TemplateInfo, error) {
	data, err := os.ReadFile(filepath.Join(p.root, id, "template.yaml"))
	if err != nil {
		return TemplateInfo{}, err
	}

	var info TemplateInfo
	if err := yaml.Unmarshal(data, &info); err != nil {
		return TemplateInfo{}, fmt.Errorf("failed to parse manifest for %s: %w", id, err)
	}
	if info.ID == "" {
		info.ID = id
	}
	return info, nil
}

func (p *dirProvider) Instantiate(templateID, targetDir string, vars map[string]string) error {
	if _, err := p.readManifest(templateID); err != nil {
		return fmt.Errorf("unknown template %s: %w", templateID, err)
	}

	srcRoot := filepath.Join(p.root, templateID, "template")
	if _, err := os.Stat(srcRoot); err != nil {
		return fmt.Errorf("template %s has no template/ tree: %w", templateID, err)
	}

	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	return filepath.WalkDir(srcRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcRoot, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(targetDir, substitute(rel, vars))

		if d.IsDir() {
			return os.MkdirAll(dst, 0755)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read template file %s: %w", rel, err)
		}
		mode := fs.FileMode(0644)
		if info, err := d.Info(); err == nil && info.Mode()&0111 != 0 {
			mode = 0755
		}
		return os.WriteFile(dst, []byte(substitute(string(data), vars)), mode)
	})
}

// substitute replaces {{key}} placeholders. Unknown placeholders are
// left alone so template syntax of the generated stack survives.
func substitute(s string, vars map[string]string) string {
	for k, v := range vars {
		s = strings.ReplaceAll(s, "{{"+k+"}}", v)
	}
	return s
}
