package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShiftIndex(t *testing.T) {
	tests := []struct {
		name        string
		edit        Edit
		current     int
		newLen      int
		wantIndex   int
		wantRemoved bool
	}{
		{"insert into empty", Edit{Kind: EditInsert, Index: 0, Sources: make([]Source, 2)}, IndexUnset, 2, 0, false},
		{"insert before current", Edit{Kind: EditInsert, Index: 1, Sources: make([]Source, 2)}, 1, 5, 3, false},
		{"insert after current", Edit{Kind: EditInsert, Index: 2, Sources: make([]Source, 1)}, 1, 4, 1, false},
		{"remove before current", Edit{Kind: EditRemove, Index: 0}, 2, 3, 1, false},
		{"remove after current", Edit{Kind: EditRemove, Index: 3}, 2, 3, 2, false},
		{"remove current keeps index", Edit{Kind: EditRemove, Index: 1}, 1, 3, 1, true},
		{"remove current last", Edit{Kind: EditRemove, Index: 2}, 2, 2, 1, true},
		{"remove only window", Edit{Kind: EditRemove, Index: 0}, 0, 0, IndexUnset, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, removed := shiftIndex(tt.edit, tt.current, tt.newLen)
			assert.Equal(t, tt.wantIndex, idx)
			assert.Equal(t, tt.wantRemoved, removed)
		})
	}
}

func TestConcatenatingSource_Unattached(t *testing.T) {
	src := NewConcatenatingSource()

	acked := 0
	src.AddSources(0, []Source{StaticSource{Locator: "a"}, StaticSource{Locator: "b"}}, func() { acked++ })
	src.AddSources(5, []Source{StaticSource{Locator: "c"}}, func() { acked++ })
	src.RemoveSource(0, func() { acked++ })
	src.RemoveSource(9, func() { acked++ })

	assert.Equal(t, 4, acked)
	assert.Equal(t, 2, src.Size())
}

func TestFake_EditsFollowSource(t *testing.T) {
	f := NewFake()
	src := NewConcatenatingSource()
	f.Prepare(src)
	assert.Equal(t, IndexUnset, f.CurrentWindowIndex())

	src.AddSources(0, []Source{StaticSource{Locator: "a", DurationMs: 1000}, StaticSource{Locator: "b", DurationMs: 2000}}, nil)
	assert.Equal(t, 2, f.CurrentTimeline().WindowCount())
	assert.Equal(t, 0, f.CurrentWindowIndex())

	f.HoldEdits(true)
	acked := false
	src.RemoveSource(1, func() { acked = true })
	assert.False(t, acked)
	assert.Equal(t, 2, f.CurrentTimeline().WindowCount())

	f.ReleaseEdits()
	assert.True(t, acked)
	assert.Equal(t, 1, f.CurrentTimeline().WindowCount())
}

func TestFake_StaleSourceEditsAreAcked(t *testing.T) {
	f := NewFake()
	old := NewConcatenatingSource()
	f.Prepare(old)
	f.HoldEdits(true)

	acked := false
	old.AddSources(0, []Source{StaticSource{Locator: "a"}}, func() { acked = true })

	f.Stop(true)
	f.Prepare(NewConcatenatingSource())
	f.ReleaseEdits()

	assert.True(t, acked)
	assert.True(t, f.CurrentTimeline().IsEmpty())
}
