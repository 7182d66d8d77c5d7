package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedPicker struct {
	pick  int
	ok    bool
	items []string
}

func (s *scriptedPicker) Pick(_ context.Context, _ string, items []string) (int, bool) {
	s.items = items
	return s.pick, s.ok
}

func touch(t *testing.T, root string, rel string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("<Project/>"), 0o600))
	return p
}

func TestFindSkipsBuildOutput(t *testing.T) {
	ws := t.TempDir()
	touch(t, ws, "src/Api/Api.csproj")
	touch(t, ws, "Web.csproj")
	touch(t, ws, "src/Api/bin/Debug/Copy.csproj")
	touch(t, ws, "src/Api/obj/Gen.csproj")
	touch(t, ws, "README.md")

	found, err := Find(ws)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, filepath.Join(ws, "Web.csproj"), found[0])
	assert.Equal(t, filepath.Join(ws, "src", "Api", "Api.csproj"), found[1])
}

func TestResolveUnset(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()

	_, err := Resolve(ctx, ws, "", nil)
	assert.ErrorIs(t, err, ErrNoProject)

	touch(t, ws, "src/Api/Api.csproj")
	p, err := Resolve(ctx, ws, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "Api", p.Name)
	assert.Equal(t, filepath.Join(ws, "src", "Api"), p.Folder)
	assert.Equal(t, "src/Api/Api.csproj", p.Rel())

	touch(t, ws, "src/Worker/Worker.csproj")
	_, err = Resolve(ctx, ws, "", nil)
	assert.ErrorIs(t, err, ErrAmbiguous)

	picker := &scriptedPicker{pick: 1, ok: true}
	p, err = Resolve(ctx, ws, "", picker)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/Api/Api.csproj", "src/Worker/Worker.csproj"}, picker.items)
	assert.Equal(t, "Worker", p.Name)

	_, err = Resolve(ctx, ws, "", &scriptedPicker{ok: false})
	var rerr *ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "no project selected", rerr.Hint)
}

func TestResolveFolder(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	touch(t, ws, "src/Api/Api.csproj")
	touch(t, ws, "src/Worker/Worker.csproj")

	p, err := Resolve(ctx, ws, "src/Api", nil)
	require.NoError(t, err)
	assert.Equal(t, "Api", p.Name)

	p, err = Resolve(ctx, ws, "${workspaceFolder}/src/Worker", nil)
	require.NoError(t, err)
	assert.Equal(t, "Worker", p.Name)

	_, err = Resolve(ctx, ws, "src", nil)
	assert.ErrorIs(t, err, ErrAmbiguous)
	_, err = Resolve(ctx, ws, "missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveFile(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	api := touch(t, ws, "src/Api/Api.csproj")
	touch(t, ws, "tests/Api/Api.csproj")
	touch(t, ws, "src/Worker/Worker.csproj")

	p, err := Resolve(ctx, ws, api, nil)
	require.NoError(t, err)
	assert.Equal(t, api, p.Path)

	p, err = Resolve(ctx, ws, "Worker.csproj", nil)
	require.NoError(t, err)
	assert.Equal(t, "Worker", p.Name)

	_, err = Resolve(ctx, ws, "Api.csproj", nil)
	assert.ErrorIs(t, err, ErrAmbiguous)

	p, err = Resolve(ctx, ws, "tests/Api/Api.csproj", nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws, "tests", "Api"), p.Folder)

	_, err = Resolve(ctx, ws, filepath.Join(ws, "src", "Gone.csproj"), nil)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = Resolve(ctx, ws, filepath.Join(t.TempDir(), "Other.csproj"), nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolutionErrorMessage(t *testing.T) {
	err := &ResolutionError{Descriptor: "Api", Hint: "fix it", Err: ErrNotFound}
	assert.Equal(t, `resolve project "Api": project not found (fix it)`, err.Error())
	err = &ResolutionError{Err: ErrNoProject}
	assert.Equal(t, `resolve project "<unset>": no project file in workspace`, err.Error())
}

const settings = `{
  "profiles": {
    "https": {
      "commandName": "Project",
      "applicationUrl": "https://localhost:7001",
      "environmentVariables": { "ASPNETCORE_ENVIRONMENT": "Development" }
    },
    "IIS Express": { "commandName": "IISExpress" },
    "http": { "commandName": "Project" }
  }
}`

func TestParseProfilesKeepsFileOrder(t *testing.T) {
	ps, err := ParseProfiles([]byte(settings))
	require.NoError(t, err)
	require.Len(t, ps, 3)
	assert.Equal(t, "https", ps[0].Name)
	assert.Equal(t, "https://localhost:7001", ps[0].ApplicationURL)
	assert.Equal(t, "Development", ps[0].Environment["ASPNETCORE_ENVIRONMENT"])
	assert.False(t, ps[1].Runnable())
	assert.Equal(t, "http", ps[2].Name)

	_, err = ParseProfiles([]byte("{not json"))
	assert.Error(t, err)
}

func TestLoadProfiles(t *testing.T) {
	dir := t.TempDir()
	ps, err := LoadProfiles(dir)
	require.NoError(t, err)
	assert.Nil(t, ps)

	p := filepath.Join(dir, SettingsFile)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(settings), 0o600))
	ps, err = LoadProfiles(dir)
	require.NoError(t, err)
	assert.Len(t, ps, 3)
}

func TestSelectProfile(t *testing.T) {
	ctx := context.Background()
	ps, err := ParseProfiles([]byte(settings))
	require.NoError(t, err)

	name, err := SelectProfile(ctx, ps, "http", nil)
	require.NoError(t, err)
	assert.Equal(t, "http", name)
	_, err = SelectProfile(ctx, ps, "nope", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	name, err = SelectProfile(ctx, nil, "custom", nil)
	require.NoError(t, err)
	assert.Equal(t, "custom", name)

	name, err = SelectProfile(ctx, ps, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "https", name)

	picker := &scriptedPicker{pick: 1, ok: true}
	name, err = SelectProfile(ctx, ps, "", picker)
	require.NoError(t, err)
	assert.Equal(t, []string{"https", "http"}, picker.items)
	assert.Equal(t, "http", name)

	_, err = SelectProfile(ctx, ps, "", &scriptedPicker{})
	assert.ErrorIs(t, err, ErrAmbiguous)

	name, err = SelectProfile(ctx, ps[1:2], "", nil)
	require.NoError(t, err)
	assert.Empty(t, name)
	name, err = SelectProfile(ctx, ps[2:], "", &scriptedPicker{})
	require.NoError(t, err)
	assert.Equal(t, "http", name)
}
