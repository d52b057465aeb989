package chatlog

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendOrUpdateAssistantAccumulates(t *testing.T) {
	h := New(DefaultCapacity)

	h.AppendOrUpdateAssistant("r1", "", "hi ", false)
	h.AppendOrUpdateAssistant("r1", "", "there", false)
	e := h.AppendOrUpdateAssistant("r1", "", "", true)

	require.Equal(t, "hi there", e.Content)
	require.True(t, e.Complete)

	entries := h.Entries()
	require.Len(t, entries, 1)
}

func TestFormatThinkingWrapsNonEmptySegmentsAndElidesEmpty(t *testing.T) {
	raw := "before <think>  </think> mid <think>ponder this</think> after"
	got := FormatThinking(raw)
	require.Equal(t, `before  mid <div class="thinking">ponder this</div> after`, got)
}

func TestAppendOrUpdateAssistantPreservesRawAcrossThinkingTags(t *testing.T) {
	h := New(DefaultCapacity)
	h.AppendOrUpdateAssistant("r1", "", "<think>hm</think>answer", true)

	e, ok := h.FindAssistant("r1")
	require.True(t, ok)
	require.Equal(t, "<think>hm</think>answer", e.RawContent)
	require.Equal(t, `<div class="thinking">hm</div>answer`, e.Content)
}

func TestCapacityDropsOldestNonSystemEntriesFirst(t *testing.T) {
	h := New(3)
	h.AppendSystem("boot")
	for i := 0; i < 5; i++ {
		h.AppendUser(fmt.Sprintf("msg-%d", i), "")
	}

	entries := h.Entries()
	require.LessOrEqual(t, len(entries), 4) // capacity + retained system entries

	var sawSystem bool
	for _, e := range entries {
		if e.Kind == KindSystem {
			sawSystem = true
		}
	}
	require.True(t, sawSystem, "system entries must survive trimming")
}
