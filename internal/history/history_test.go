// internal/history/history_test.go
package history

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/SceneRelay/internal/models"
)

// runeCounter costs one token per rune
type runeCounter struct{}

func (runeCounter) Count(text string) int { return len([]rune(text)) }

// fixedCounter costs every line the same
type fixedCounter int

func (f fixedCounter) Count(string) int { return int(f) }

func lines(raw ...string) []models.ConversationLine {
	return models.ParseLines(raw)
}

func TestStoreLifecycle(t *testing.T) {
	t.Parallel()

	s := NewStore()
	st := s.Get("u1", "forest")
	assert.Empty(t, st.History)
	assert.Equal(t, 1, s.Users())

	s.Append("u1", "forest", models.NewLine("🧑", "Привет"))
	s.Append("u1", "forest", models.NewLine("Ариэль", "Привет!"))
	s.SetLastInput("u1", "forest", "Привет")
	s.SetLastBotRef("u1", "forest", "42")
	assert.True(t, s.Dirty())

	st = s.Get("u1", "forest")
	require.Len(t, st.History, 2)
	assert.Equal(t, "Привет", st.LastInput)
	assert.Equal(t, models.MessageRef("42"), st.LastBotRef)

	// Get hands out copies
	st.History[0].Text = "changed"
	assert.Equal(t, "Привет", s.Get("u1", "forest").History[0].Text)

	assert.False(t, s.TruncateTail("u1", "forest", 3))
	assert.Len(t, s.Get("u1", "forest").History, 2)
	assert.True(t, s.TruncateTail("u1", "forest", 2))
	assert.Empty(t, s.Get("u1", "forest").History)

	s.Append("u1", "forest", models.NarratorLine("Туман."))
	s.Reset("u1", "forest")
	st = s.Get("u1", "forest")
	assert.Empty(t, st.History)
	assert.Empty(t, st.LastInput)
	assert.Empty(t, st.LastBotRef)

	// other scenarios are independent
	assert.Empty(t, s.Get("u1", "castle").History)
}

func TestStoreSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Append("u1", "forest", models.NewLine("🧑", "Привет"))
	s.SetLastInput("u1", "forest", "Привет")

	data, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"🧑: Привет"`)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))

	restored := NewStore()
	restored.Load(snap)
	assert.False(t, restored.Dirty())
	assert.Equal(t, s.Get("u1", "forest"), restored.Get("u1", "forest"))
}

func TestStoreConcurrentUsers(t *testing.T) {
	t.Parallel()

	s := NewStore()
	var wg sync.WaitGroup
	for u := 0; u < 20; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			id := fmt.Sprintf("u%d", u)
			for i := 0; i < 10; i++ {
				s.Append(id, "sc", models.NewLine("🧑", fmt.Sprint(i)))
			}
		}(u)
	}
	wg.Wait()

	assert.Equal(t, 20, s.Users())
	assert.Len(t, s.Get("u7", "sc").History, 10)
}

func TestTrimKeepsNewestDialogue(t *testing.T) {
	t.Parallel()

	h := lines("🧑: a", "Ариэль: b", "🧑: c", "Ариэль: d")
	kept, used := Trim(h, 20, fixedCounter(10))

	assert.Equal(t, lines("🧑: c", "Ариэль: d"), kept)
	assert.Equal(t, 20, used)
}

func TestTrimStopsAtFirstMiss(t *testing.T) {
	t.Parallel()

	// "🧑: long..." does not fit; the short line before it is dropped too
	h := lines("🧑: x", "🧑: this line is far too long", "Ариэль: ok")
	okCost := LineCost(models.ParseLine("Ариэль: ok"), runeCounter{})
	xCost := LineCost(models.ParseLine("🧑: x"), runeCounter{})

	kept, used := Trim(h, okCost+xCost, runeCounter{})
	assert.Equal(t, lines("Ариэль: ok"), kept)
	assert.Equal(t, okCost, used)
}

func TestTrimPreservedOverBudget(t *testing.T) {
	t.Parallel()

	// five narrator lines of 100 tokens each against a budget of 300
	h := lines(
		"Narrator: 1", "🧑: hi", "Narrator: 2", "Ариэль: hey",
		"Narrator: 3", "Narrator: 4", "🧑: again", "Narrator: 5",
	)
	kept, used := Trim(h, 300, fixedCounter(100))

	assert.Equal(t, 500, used)
	require.Len(t, kept, 5)
	for _, l := range kept {
		assert.True(t, l.IsNarrator())
	}
}

func TestTrimKeepsPreservedInPlace(t *testing.T) {
	t.Parallel()

	h := lines("Narrator: start", "🧑: a", "Ариэль: b", "System: note", "🧑: c")
	kept, used := Trim(h, 40, fixedCounter(10))

	assert.Equal(t, lines("Narrator: start", "Ариэль: b", "System: note", "🧑: c"), kept)
	assert.Equal(t, 40, used)
}

func TestTrimEdgeCases(t *testing.T) {
	t.Parallel()

	kept, used := Trim(nil, 100, fixedCounter(1))
	assert.Empty(t, kept)
	assert.Zero(t, used)

	kept, used = Trim(lines("Narrator: n", "🧑: a"), 0, fixedCounter(5))
	assert.Equal(t, lines("Narrator: n"), kept)
	assert.Equal(t, 5, used)

	kept, used = Trim(lines("🧑: a"), -10, fixedCounter(5))
	assert.Empty(t, kept)
	assert.Zero(t, used)
}

func TestTrimPropertiesRandomized(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	speakers := []string{"🧑", "Ариэль", models.NarratorTag, "Кот"}

	for iter := 0; iter < 300; iter++ {
		n := rng.Intn(12)
		h := make([]models.ConversationLine, n)
		for i := range h {
			h[i] = models.NewLine(speakers[rng.Intn(len(speakers))], fmt.Sprintf("%0*d", rng.Intn(30), 0))
		}
		budget := rng.Intn(200) - 10

		kept, used := Trim(h, budget, runeCounter{})

		// idempotence
		again, usedAgain := Trim(kept, budget, runeCounter{})
		require.Equal(t, kept, again)
		require.Equal(t, used, usedAgain)

		// every preserved line survives, kept is a subsequence of h
		preserved, pTokens := 0, 0
		for _, l := range h {
			if l.IsPreserved() {
				preserved++
				pTokens += LineCost(l, runeCounter{})
			}
		}
		keptPreserved := 0
		j := 0
		for _, l := range kept {
			for j < len(h) && h[j] != l {
				j++
			}
			require.Less(t, j, len(h), "kept must be a subsequence")
			j++
			if l.IsPreserved() {
				keptPreserved++
			}
		}
		require.Equal(t, preserved, keptPreserved)

		if pTokens <= budget {
			require.LessOrEqual(t, used, budget)
		}
	}
}

func TestStoreCheckpoint(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_, ok := s.Checkpoint()
	assert.False(t, ok)

	s.Append("u1", "castle.json", models.NewLine("Гость", "Привет"))
	snap, ok := s.Checkpoint()
	require.True(t, ok)
	assert.Len(t, snap["u1"]["castle.json"].History, 1)

	_, ok = s.Checkpoint()
	assert.False(t, ok, "second checkpoint without changes")

	s.MarkDirty()
	_, ok = s.Checkpoint()
	assert.True(t, ok)
}
