package dedup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fachebot/news-digest-bot/internal/article"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2026, 10, 1, 6, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return day0.AddDate(0, 0, n)
}

func mustArticle(url, title, source string) article.Article {
	return article.Normalize(article.RawRecord{URL: url, Title: title, Source: source})
}

func sampleBatch() []article.Article {
	return []article.Article{
		mustArticle("https://example.com/a", "A", "Src"),
		mustArticle("https://example.com/b", "B", "Src"),
		mustArticle("", "Ohne Link", "Src"),
	}
}

func ids(articles []article.Article) []string {
	out := make([]string, len(articles))
	for i, a := range articles {
		out[i] = a.ID
	}
	return out
}

func TestDedupe_EmptyIndexKeepsAll(t *testing.T) {
	batch := sampleBatch()
	idx := NewIndex(7)

	result := Dedupe(batch, idx, day(0))
	assert.Equal(t, batch, result.Kept)
	assert.Empty(t, result.Duplicates)
	assert.Equal(t, 3, idx.Len())
}

func TestDedupe_SecondRunIsEmpty(t *testing.T) {
	batch := sampleBatch()
	idx := NewIndex(7)

	Dedupe(batch, idx, day(0))
	second := Dedupe(batch, idx, day(0))
	assert.Empty(t, second.Kept)
	assert.Len(t, second.Duplicates, 3)
}

func TestDedupe_DeterministicAgainstSameStartState(t *testing.T) {
	batch := sampleBatch()
	start := func() *Index {
		idx := NewIndex(7)
		idx.Insert(batch[1].ID, day(-1))
		return idx
	}

	first := Dedupe(batch, start(), day(0))
	second := Dedupe(batch, start(), day(0))
	assert.Equal(t, ids(first.Kept), ids(second.Kept))
	assert.Equal(t, []string{batch[0].ID, batch[2].ID}, ids(first.Kept))
}

func TestDedupe_IntraBatchKeepsFirst(t *testing.T) {
	first := mustArticle("https://example.com/story?utm=a", "Erste Fassung", "Quelle A")
	second := mustArticle("https://example.com/story/", "Zweite Fassung", "Quelle B")
	idx := NewIndex(7)

	result := Dedupe([]article.Article{first, second}, idx, day(0))
	require.Len(t, result.Kept, 1)
	assert.Equal(t, "Erste Fassung", result.Kept[0].Title)
	require.Len(t, result.Duplicates, 1)
	assert.Equal(t, "Zweite Fassung", result.Duplicates[0].Title)
}

func TestDedupe_AmbiguousDropped(t *testing.T) {
	batch := []article.Article{
		mustArticle("kaputt", "Titel", ""),
		mustArticle("https://example.com/ok", "OK", "Src"),
	}
	idx := NewIndex(7)

	result := Dedupe(batch, idx, day(0))
	assert.Len(t, result.Ambiguous, 1)
	assert.Len(t, result.Kept, 1)
	assert.Equal(t, 1, idx.Len())
}

func TestDedupe_RecomputesMissingID(t *testing.T) {
	a := article.Article{URL: "https://example.com/x?y=1", Title: "X", Source: "S"}
	idx := NewIndex(7)

	result := Dedupe([]article.Article{a}, idx, day(0))
	require.Len(t, result.Kept, 1)
	assert.Equal(t, "url:https://example.com/x", result.Kept[0].ID)
}

func TestDedupe_Eviction(t *testing.T) {
	tests := []struct {
		name       string
		windowDays int
		seenDay    int
		nowDay     int
		wantNew    bool
	}{
		{"窗口外视为新文章", 7, 3, 11, true},
		{"五天窗口第九天视为新文章", 5, 3, 9, true},
		// 第 3 天到第 9 天相隔 6 天，仍在 7 天窗口内
		{"窗口内仍为重复", 7, 3, 9, false},
		{"恰好在窗口边界仍为重复", 7, 3, 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := mustArticle("https://example.com/f", "F", "Src")
			idx := NewIndex(tt.windowDays)
			idx.Insert(a.ID, day(tt.seenDay))

			result := Dedupe([]article.Article{a}, idx, day(tt.nowDay))
			if tt.wantNew {
				assert.Len(t, result.Kept, 1)
				assert.Equal(t, 1, result.Evicted)
			} else {
				assert.Empty(t, result.Kept)
			}
		})
	}
}

func TestIndex_InsertKeepsEarliest(t *testing.T) {
	idx := NewIndex(7)
	idx.Insert("fp", day(2))
	idx.Insert("fp", day(4))
	idx.Insert("fp", day(1))
	assert.Equal(t, day(1), idx.Snapshot()["fp"])
}

func TestStore_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, 7)

	idx := NewIndex(7)
	idx.Insert("url:https://example.com/a", day(0))
	_, err := store.Save(idx, day(0))
	require.NoError(t, err)

	idx2 := NewIndex(7)
	idx2.Insert("url:https://example.com/a", day(2))
	idx2.Insert("url:https://example.com/b", day(2))
	_, err = store.Save(idx2, day(2))
	require.NoError(t, err)

	loaded, err := store.Load(day(3))
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Len())
	assert.Equal(t, day(0), loaded.Snapshot()["url:https://example.com/a"])
}

func TestStore_LoadSkipsFilesOutsideWindow(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, 7)

	old := NewIndex(7)
	old.Insert("url:https://example.com/old", day(0))
	_, err := store.Save(old, day(0))
	require.NoError(t, err)

	loaded, err := store.Load(day(10))
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Len())
}

func TestStore_LoadEvictsStaleEntries(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, 7)

	idx := NewIndex(30)
	idx.Insert("stale", day(0))
	idx.Insert("fresh", day(5))
	_, err := store.Save(idx, day(5))
	require.NoError(t, err)

	loaded, err := store.Load(day(9))
	require.NoError(t, err)
	assert.False(t, loaded.Contains("stale"))
	assert.True(t, loaded.Contains("fresh"))
}

func TestStore_LoadMissingDir(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nope"), 7)
	idx, err := store.Load(day(0))
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
}

func TestStore_CorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	name := filePrefix + day(0).Format(fileLayout) + fileSuffix
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{kaputt"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	_, err := NewStore(dir, 7).Load(day(1))
	assert.Error(t, err)
}

func TestStore_Cleanup(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, 7)
	for _, d := range []int{0, 10, 20} {
		_, err := store.Save(NewIndex(7), day(d))
		require.NoError(t, err)
	}

	deleted, err := store.Cleanup(15, day(26))
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	files, err := store.listSnapshots()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, day(20), files[0].runAt)
}
