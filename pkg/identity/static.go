package identity

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/metalease/metalease/pkg/engine"
)

// StaticProvider serves projects from a YAML file loaded at startup.
type StaticProvider struct {
	projects []Project
	byID     map[string]Project
	byName   map[string]Project
}

// staticFile is the on-disk shape of the projects file.
type staticFile struct {
	Projects []Project `yaml:"projects"`
}

// NewStaticProvider loads the projects file at path.
func NewStaticProvider(path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}

	var file staticFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse identity file: %w", err)
	}
	return NewStaticFromProjects(file.Projects)
}

// NewStaticFromProjects builds a provider from an in-memory project list.
func NewStaticFromProjects(projects []Project) (*StaticProvider, error) {
	p := &StaticProvider{
		projects: projects,
		byID:     make(map[string]Project, len(projects)),
		byName:   make(map[string]Project, len(projects)),
	}
	for _, proj := range projects {
		if proj.ID == "" {
			return nil, fmt.Errorf("project %q has no id", proj.Name)
		}
		if _, dup := p.byID[proj.ID]; dup {
			return nil, fmt.Errorf("duplicate project id %q", proj.ID)
		}
		p.byID[proj.ID] = proj
		if proj.Name != "" {
			if _, dup := p.byName[proj.Name]; dup {
				return nil, fmt.Errorf("duplicate project name %q", proj.Name)
			}
			p.byName[proj.Name] = proj
		}
	}
	return p, nil
}

// ResolveProject accepts id-shaped strings verbatim, otherwise looks the
// ident up as a name.
func (p *StaticProvider) ResolveProject(_ context.Context, ident string) (string, error) {
	if isIDShaped(ident) {
		return ident, nil
	}
	proj, ok := p.byName[ident]
	if !ok {
		return "", engine.NewNotFound(fmt.Sprintf("no project named %q", ident))
	}
	return proj.ID, nil
}

// ProjectParentChain returns ids from the project to the root, inclusive.
func (p *StaticProvider) ProjectParentChain(_ context.Context, id string) ([]string, error) {
	chain := []string{id}
	seen := map[string]bool{id: true}

	cur, ok := p.byID[id]
	if !ok {
		// Unknown projects have a single-element chain: external callers
		// reference projects this deployment does not model.
		return chain, nil
	}
	for cur.ParentID != "" {
		if seen[cur.ParentID] {
			return nil, fmt.Errorf("project parent cycle at %q", cur.ParentID)
		}
		seen[cur.ParentID] = true
		chain = append(chain, cur.ParentID)
		next, ok := p.byID[cur.ParentID]
		if !ok {
			break
		}
		cur = next
	}
	return chain, nil
}

// ProjectName returns the display name for a project id, falling back to the
// id itself for unknown projects.
func (p *StaticProvider) ProjectName(_ context.Context, id string) (string, error) {
	proj, ok := p.byID[id]
	if !ok || proj.Name == "" {
		return id, nil
	}
	return proj.Name, nil
}

// Projects lists every known project.
func (p *StaticProvider) Projects(_ context.Context) ([]Project, error) {
	out := make([]Project, len(p.projects))
	copy(out, p.projects)
	return out, nil
}
