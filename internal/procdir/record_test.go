package procdir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func pids(recs []Record) []int {
	out := make([]int, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.PID)
	}
	return out
}

func TestSnapshot_DescendantsOrder(t *testing.T) {
	snap := NewSnapshot([]Record{
		{PID: 1, PPID: 0, CommandLine: "init"},
		{PID: 100, PPID: 1, CommandLine: "dotnet watch"},
		{PID: 101, PPID: 100, CommandLine: "dotnet build"},
		{PID: 102, PPID: 100, CommandLine: "App"},
		{PID: 103, PPID: 101, CommandLine: "msbuild node"},
		{PID: 104, PPID: 102, CommandLine: "App worker"},
		{PID: 200, PPID: 1, CommandLine: "unrelated"},
	})

	// children first, then each child's subtree in listing order
	assert.Equal(t, []int{101, 102, 103, 104}, pids(snap.Descendants(100)))
	assert.Empty(t, snap.Descendants(104))
	assert.Empty(t, snap.Descendants(999))
	assert.Equal(t, []int{101, 102}, pids(snap.Children(100)))
}

func TestSnapshot_DescendantsCycle(t *testing.T) {
	snap := NewSnapshot([]Record{
		{PID: 10, PPID: 11},
		{PID: 11, PPID: 10},
	})
	assert.Equal(t, []int{11}, pids(snap.Descendants(10)))
}

func TestSnapshot_FilterAndHas(t *testing.T) {
	snap := NewSnapshot([]Record{
		{PID: 5, PPID: 1, CommandLine: "/ws/App/bin/Debug/net8.0/App"},
		{PID: 6, PPID: 1, CommandLine: "/ws/App/bin/Release/net8.0/App"},
	})
	got := snap.Filter(func(r Record) bool { return ContainsDiscriminator(r.CommandLine, "/bin/Debug") })
	assert.Equal(t, []int{5}, pids(got))
	assert.True(t, snap.Has(6))
	assert.False(t, snap.Has(7))
	assert.Equal(t, 2, snap.Len())

	all := snap.All()
	all[0].PID = 42
	assert.True(t, snap.Has(5), "All must return a copy")
}
