package procdir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"":                           "",
		"   ":                        "",
		"/ws/App/":                   "/ws/App",
		"/ws//App///":                "/ws/App",
		`"/ws/My App/"`:              "/ws/My App",
		`C:\src\App\`:                "C:/src/App",
		`C:\`:                        "C:/",
		"C:":                         "C:/",
		"/":                          "/",
		`\\server\share\App\`:        "//server/share/App",
		"'/ws/quoted'":               "/ws/quoted",
		"/ws/App/./bin/../bin/x.dll": "/ws/App/bin/x.dll",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePath(in), "input %q", in)
	}
}

func TestHasPathPrefix(t *testing.T) {
	assert.True(t, HasPathPrefix("/ws/App/bin/Debug/net8.0/App", "/ws/App"))
	assert.True(t, HasPathPrefix("/ws/App", "/ws/App/"))
	assert.True(t, HasPathPrefix(`"/ws/App/bin"`, `/ws/App`))
	assert.False(t, HasPathPrefix("/ws/AppTests/bin", "/ws/App"), "component boundary")
	assert.False(t, HasPathPrefix("/ws/app/bin", "/ws/App"), "posix paths are case-sensitive")
	assert.True(t, HasPathPrefix(`c:\Src\App\bin\Debug`, `C:\src\app`), "drive paths are case-insensitive")
	assert.True(t, HasPathPrefix("/anything", "/"))
	assert.True(t, HasPathPrefix("C:/x", `C:\`))
	assert.False(t, HasPathPrefix("", "/ws"))
	assert.False(t, HasPathPrefix("/ws", ""))
}

func TestExecutablePath(t *testing.T) {
	cases := []struct {
		cmd  string
		want string
	}{
		{"/ws/App/bin/Debug/net8.0/App run", "/ws/App/bin/Debug/net8.0/App"},
		{"/ws/App/bin/Debug/net8.0/App --launch-profile https", "/ws/App/bin/Debug/net8.0/App"},
		{"/ws/App/bin/Debug/net8.0/App", "/ws/App/bin/Debug/net8.0/App"},
		{"dotnet exec /ws/App/bin/Debug/net8.0/App.dll", "/ws/App/bin/Debug/net8.0/App.dll"},
		{`"dotnet" exec "C:\ws\My App\bin\Debug\net8.0\App.dll" --urls http://x`, "C:/ws/My App/bin/Debug/net8.0/App.dll"},
		{`/usr/share/dotnet/dotnet exec --runtimeconfig /ws/App/bin/Debug/net8.0/App.runtimeconfig.json --depsfile "/ws/App/x.deps.json" /ws/App/bin/Debug/net8.0/App.dll`, "/ws/App/bin/Debug/net8.0/App.dll"},
		{`"C:\Program Files\dotnet\dotnet.exe" exec C:\ws\App\bin\Debug\App.dll`, "C:/ws/App/bin/Debug/App.dll"},
		{"", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ExecutablePath(c.cmd), "cmd %q", c.cmd)
	}
}

func TestContainsDiscriminator(t *testing.T) {
	assert.True(t, ContainsDiscriminator(`C:\ws\App\bin\Debug\net8.0\App.exe`, "/bin/Debug"))
	assert.True(t, ContainsDiscriminator("/ws/App/bin/Debug/net8.0/App", `\bin\Debug`))
	assert.False(t, ContainsDiscriminator("/ws/App/bin/Release/net8.0/App", "/bin/Debug"))
	assert.True(t, ContainsDiscriminator("anything", ""))
}
