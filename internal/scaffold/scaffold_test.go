package scaffold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/foundry/internal/project"
)

func TestNewProvider_FallsBackToBuiltin(t *testing.T) {
	p := NewProvider("")
	assert.IsType(t, builtinProvider{}, p)

	// A directory with no manifests is the same as no directory.
	p = NewProvider(t.TempDir())
	assert.IsType(t, builtinProvider{}, p)
}

func TestBuiltin_Available(t *testing.T) {
	p := NewProvider("")

	var ids []string
	for _, info := range p.Available() {
		ids = append(ids, info.ID)
	}
	assert.ElementsMatch(t, []string{"java-quarkus", "java-springboot", "python-fastapi"}, ids)
}

func TestBuiltin_InstantiateSpring(t *testing.T) {
	p := NewProvider("")
	target := filepath.Join(t.TempDir(), "app")

	err := p.Instantiate("java-springboot", target, map[string]string{"appName": "shop-api"})
	require.NoError(t, err)

	assert.True(t, project.ScaffoldComplete(target))
	assert.Equal(t, "java-springboot", project.DetectKind(target))
	assert.Empty(t, project.RequiredFiles("java-springboot", target))

	pom, err := os.ReadFile(filepath.Join(target, "pom.xml"))
	require.NoError(t, err)
	assert.Contains(t, string(pom), "<artifactId>shop-api</artifactId>")
	assert.NotContains(t, string(pom), "{{appName}}")
}

func TestBuiltin_InstantiateQuarkusDetectsAsQuarkus(t *testing.T) {
	p := NewProvider("")
	target := filepath.Join(t.TempDir(), "app")

	require.NoError(t, p.Instantiate("java-quarkus", target, map[string]string{"appName": "orders"}))
	assert.Equal(t, "java-quarkus", project.DetectKind(target))
}

func TestBuiltin_InstantiatePython(t *testing.T) {
	p := NewProvider("")
	target := filepath.Join(t.TempDir(), "app")

	require.NoError(t, p.Instantiate("python-fastapi", target, map[string]string{"appName": "orders"}))

	assert.Equal(t, "python-fastapi", project.DetectKind(target))
	main, err := os.ReadFile(filepath.Join(target, "main.py"))
	require.NoError(t, err)
	assert.Contains(t, string(main), `FastAPI(title="orders")`)
}

func TestBuiltin_UnknownTemplate(t *testing.T) {
	p := NewProvider("")
	err := p.Instantiate("rust-axum", t.TempDir(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rust-axum")
}

func writeTemplate(t *testing.T, root, id, manifest string, files map[string]string) {
	t.Helper()
	base := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(filepath.Join(base, "template"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "template.yaml"), []byte(manifest), 0644))
	for rel, content := range files {
		path := filepath.Join(base, "template", rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func TestDirProvider(t *testing.T) {
	root := t.TempDir()
	writeTemplate(t, root, "go-chi",
		"id: go-chi\nname: Chi Service\ndescription: Go REST service on chi\n",
		map[string]string{
			"go.mod":              "module {{appName}}\n\ngo 1.22\n",
			"cmd/app/main.go":     "package main\n\n// {{appName}} entrypoint\nfunc main() {}\n",
			"docs/{{appName}}.md": "# {{appName}}\n",
		})

	p := NewProvider(root)
	require.IsType(t, &dirProvider{}, p)

	t.Run("available reads manifests", func(t *testing.T) {
		templates := p.Available()
		require.Len(t, templates, 1)
		assert.Equal(t, "go-chi", templates[0].ID)
		assert.Equal(t, "Chi Service", templates[0].Name)
	})

	t.Run("instantiate substitutes paths and contents", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "app")
		require.NoError(t, p.Instantiate("go-chi", target, map[string]string{"appName": "widgets"}))

		mod, err := os.ReadFile(filepath.Join(target, "go.mod"))
		require.NoError(t, err)
		assert.Contains(t, string(mod), "module widgets")

		_, err = os.Stat(filepath.Join(target, "cmd/app/main.go"))
		assert.NoError(t, err)

		_, err = os.Stat(filepath.Join(target, "docs/widgets.md"))
		assert.NoError(t, err)
	})

	t.Run("unknown id errors", func(t *testing.T) {
		err := p.Instantiate("missing", t.TempDir(), nil)
		assert.Error(t, err)
	})
}

func TestDirProvider_ManifestIDDefaultsToDirName(t *testing.T) {
	root := t.TempDir()
	writeTemplate(t, root, "bare", "name: Bare\n", map[string]string{"README.md": "hi\n"})

	p := NewProvider(root)
	templates := p.Available()
	require.Len(t, templates, 1)
	assert.Equal(t, "bare", templates[0].ID)
}

func TestSubstitute_LeavesUnknownPlaceholders(t *testing.T) {
	out := substitute("{{appName}} uses {{ mustache }} syntax", map[string]string{"appName": "shop"})
	assert.Equal(t, "shop uses {{ mustache }} syntax", out)
}
