// Package project locates .NET project files inside a workspace and reads
// their launch profiles.
package project

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/murugaratham/dwatch/internal/procdir"
)

const Ext = ".csproj"

var (
	ErrNoProject = errors.New("no project file in workspace")
	ErrNotFound  = errors.New("project not found")
	ErrAmbiguous = errors.New("project is ambiguous")
)

// ResolutionError describes a descriptor that could not be turned into a
// single project file, with a hint on how to fix the configuration.
type ResolutionError struct {
	Descriptor string
	Hint       string
	Err        error
}

func (e *ResolutionError) Error() string {
	d := e.Descriptor
	if d == "" {
		d = "<unset>"
	}
	msg := fmt.Sprintf("resolve project %q: %v", d, e.Err)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Picker chooses one of items; ok is false when nothing was chosen.
type Picker interface {
	Pick(ctx context.Context, title string, items []string) (int, bool)
}

// Project is a resolved project file.
type Project struct {
	Workspace string `json:"workspace"`
	Path      string `json:"path"`   // absolute path of the .csproj
	Folder    string `json:"folder"` // directory holding the .csproj
	Name      string `json:"name"`   // file name without extension
}

func FromPath(workspace, path string) Project {
	path = filepath.Clean(path)
	return Project{
		Workspace: filepath.Clean(workspace),
		Path:      path,
		Folder:    filepath.Dir(path),
		Name:      strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}
}

// Rel returns the project path relative to its workspace using forward slashes.
func (p Project) Rel() string {
	rel, err := filepath.Rel(p.Workspace, p.Path)
	if err != nil {
		return filepath.ToSlash(p.Path)
	}
	return filepath.ToSlash(rel)
}

var skipDirs = map[string]bool{
	"bin": true, "obj": true, ".git": true, ".vs": true, "node_modules": true,
}

// Find lists project files below root ordered by path length then name.
// Build output and VCS directories are skipped.
func Find(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if p != root && skipDirs[strings.ToLower(d.Name())] {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(p), Ext) {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) < len(out[j])
		}
		return out[i] < out[j]
	})
	return out, nil
}

// ExpandVars substitutes ${workspaceFolder} and ${workspaceFolderBasename}.
func ExpandVars(s, workspace string) string {
	r := strings.NewReplacer(
		"${workspaceFolder}", workspace,
		"${workspaceFolderBasename}", filepath.Base(workspace),
	)
	return r.Replace(s)
}

// Resolve turns a descriptor into a single project file.
//
//   - unset: every project in the workspace; several are offered to picker.
//   - a folder: the unique project below that folder.
//   - an absolute .csproj path inside the workspace: used as is.
//   - a bare .csproj name: the unique file with that name in the workspace.
func Resolve(ctx context.Context, workspace, descriptor string, picker Picker) (Project, error) {
	workspace = filepath.Clean(workspace)
	descriptor = strings.TrimSpace(ExpandVars(descriptor, workspace))

	if descriptor == "" {
		all, err := Find(workspace)
		if err != nil {
			return Project{}, &ResolutionError{Hint: "check the workspace path", Err: err}
		}
		switch len(all) {
		case 0:
			return Project{}, &ResolutionError{Hint: "add a project to the workspace or set project", Err: ErrNoProject}
		case 1:
			return FromPath(workspace, all[0]), nil
		}
		if picker == nil {
			return Project{}, &ResolutionError{Hint: "set project to one of the workspace projects", Err: ErrAmbiguous}
		}
		items := make([]string, len(all))
		for i, p := range all {
			items[i] = FromPath(workspace, p).Rel()
		}
		i, ok := picker.Pick(ctx, "Select the project to watch", items)
		if !ok || i < 0 || i >= len(all) {
			return Project{}, &ResolutionError{Hint: "no project selected", Err: ErrAmbiguous}
		}
		return FromPath(workspace, all[i]), nil
	}

	if !strings.EqualFold(filepath.Ext(descriptor), Ext) {
		dir := descriptor
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(workspace, dir)
		}
		found, err := Find(dir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Project{}, &ResolutionError{Descriptor: descriptor, Err: err}
		}
		return unique(workspace, descriptor, found)
	}

	if filepath.IsAbs(descriptor) {
		if !procdir.HasPathPrefix(descriptor, workspace) {
			return Project{}, &ResolutionError{Descriptor: descriptor, Hint: "project must be inside the workspace", Err: ErrNotFound}
		}
		if _, err := os.Stat(descriptor); err != nil {
			return Project{}, &ResolutionError{Descriptor: descriptor, Hint: "fix the project path", Err: ErrNotFound}
		}
		return FromPath(workspace, descriptor), nil
	}

	all, err := Find(workspace)
	if err != nil {
		return Project{}, &ResolutionError{Descriptor: descriptor, Err: err}
	}
	want := filepath.ToSlash(descriptor)
	var found []string
	for _, p := range all {
		rel := FromPath(workspace, p).Rel()
		if strings.EqualFold(rel, want) || strings.HasSuffix(strings.ToLower(rel), "/"+strings.ToLower(want)) {
			found = append(found, p)
		}
	}
	return unique(workspace, descriptor, found)
}

func unique(workspace, descriptor string, found []string) (Project, error) {
	switch len(found) {
	case 0:
		return Project{}, &ResolutionError{Descriptor: descriptor, Hint: "fix project in the configuration", Err: ErrNotFound}
	case 1:
		return FromPath(workspace, found[0]), nil
	default:
		return Project{}, &ResolutionError{
			Descriptor: descriptor,
			Hint:       fmt.Sprintf("%d projects match, use a more specific path", len(found)),
			Err:        ErrAmbiguous,
		}
	}
}
