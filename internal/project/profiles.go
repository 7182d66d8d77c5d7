package project

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
)

// SettingsFile is the launch settings location relative to the project folder.
var SettingsFile = filepath.Join("Properties", "launchSettings.json")

// LaunchProfile is one entry of launchSettings.json "profiles".
type LaunchProfile struct {
	Name           string            `json:"name"`
	CommandName    string            `json:"commandName"`
	ApplicationURL string            `json:"applicationUrl,omitempty"`
	Environment    map[string]string `json:"environmentVariables,omitempty"`
}

// Runnable reports whether dotnet run can use the profile.
func (p LaunchProfile) Runnable() bool { return p.CommandName == "Project" }

// LoadProfiles reads the launch profiles of the project in folder, in file
// order. A missing settings file yields no profiles.
func LoadProfiles(folder string) ([]LaunchProfile, error) {
	b, err := os.ReadFile(filepath.Join(folder, SettingsFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return ParseProfiles(b)
}

func ParseProfiles(b []byte) ([]LaunchProfile, error) {
	if !gjson.ValidBytes(b) {
		return nil, fmt.Errorf("parse %s: invalid json", SettingsFile)
	}
	var out []LaunchProfile
	gjson.GetBytes(b, "profiles").ForEach(func(key, value gjson.Result) bool {
		p := LaunchProfile{
			Name:           key.String(),
			CommandName:    value.Get("commandName").String(),
			ApplicationURL: value.Get("applicationUrl").String(),
		}
		if env := value.Get("environmentVariables"); env.IsObject() {
			p.Environment = make(map[string]string)
			env.ForEach(func(k, v gjson.Result) bool {
				p.Environment[k.String()] = v.String()
				return true
			})
		}
		out = append(out, p)
		return true
	})
	return out, nil
}

// SelectProfile picks the launch profile name to pass to dotnet run.
// An explicit name must exist when profiles are present. Otherwise the only
// runnable profile is used and several are offered to picker, falling back to
// the first when there is no picker. An empty result means no profile.
func SelectProfile(ctx context.Context, profiles []LaunchProfile, name string, picker Picker) (string, error) {
	if name != "" {
		if len(profiles) == 0 {
			return name, nil
		}
		for _, p := range profiles {
			if p.Name == name {
				return name, nil
			}
		}
		return "", &ResolutionError{Descriptor: name, Hint: "launch profile not in " + filepath.ToSlash(SettingsFile), Err: ErrNotFound}
	}
	var runnable []string
	for _, p := range profiles {
		if p.Runnable() {
			runnable = append(runnable, p.Name)
		}
	}
	switch len(runnable) {
	case 0:
		return "", nil
	case 1:
		return runnable[0], nil
	}
	if picker == nil {
		return runnable[0], nil
	}
	i, ok := picker.Pick(ctx, "Select the launch profile", runnable)
	if !ok || i < 0 || i >= len(runnable) {
		return "", &ResolutionError{Hint: "no launch profile selected", Err: ErrAmbiguous}
	}
	return runnable[i], nil
}
