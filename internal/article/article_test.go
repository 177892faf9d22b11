package article

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"去掉查询参数", "https://www.heise.de/news/Artikel-123.html?wt_mc=rss", "https://www.heise.de/news/artikel-123.html", false},
		{"去掉末尾斜杠", "https://example.com/a/b/", "https://example.com/a/b", false},
		{"去掉片段", "https://example.com/a#top", "https://example.com/a", false},
		{"统一小写", "HTTPS://Example.COM/Path", "https://example.com/path", false},
		{"根路径", "https://example.com/", "https://example.com", false},
		{"空字符串", "", "", true},
		{"缺少 scheme", "example.com/a", "", true},
		{"非 http scheme", "ftp://example.com/a", "", true},
		{"无法解析", "http://[::1", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalURL(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFingerprint_QueryAndTrailingSlashInsensitive(t *testing.T) {
	variants := []string{
		"https://www.tagesschau.de/ausland/gipfel-100.html",
		"https://www.tagesschau.de/ausland/gipfel-100.html?utm_source=rss",
		"https://www.tagesschau.de/ausland/gipfel-100.html/",
		"https://www.tagesschau.de/ausland/gipfel-100.html/?a=1&b=2",
	}
	first, err := Fingerprint(variants[0], "", "")
	require.NoError(t, err)
	for _, v := range variants[1:] {
		fp, err := Fingerprint(v, "anderer Titel", "andere Quelle")
		require.NoError(t, err)
		assert.Equal(t, first, fp, v)
	}
}

func TestFingerprint_Fallback(t *testing.T) {
	a, err := Fingerprint("", "EU einigt sich: Neues Gesetz!", "Tagesschau")
	require.NoError(t, err)
	b, err := Fingerprint("not-a-url", "eu einigt sich   neues gesetz", " tagesschau ")
	require.NoError(t, err)
	assert.Equal(t, "title:eu einigt sich neues gesetz|tagesschau", a)
	assert.Equal(t, a, b)

	_, err = Fingerprint("", "Titel ohne Quelle", "")
	assert.True(t, errors.Is(err, ErrFingerprintAmbiguous))
	_, err = Fingerprint("", "!!!", "Quelle")
	assert.True(t, errors.Is(err, ErrFingerprintAmbiguous))
}

func TestFingerprint_Stable(t *testing.T) {
	raw := "https://arstechnica.com/science/2026/10/story/"
	a, _ := Fingerprint(raw, "t", "s")
	b, _ := Fingerprint(raw, "t", "s")
	assert.Equal(t, a, b)
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		in   string
		want Tier
		ok   bool
	}{
		{"MUST_KNOW", TierMustKnow, true},
		{"must-know", TierMustKnow, true},
		{" Interessant ", TierInteressant, true},
		{"NICE-TO-KNOW", TierNiceToKnow, true},
		{"nice to know", TierNiceToKnow, true},
		{"DISCARDED", Tier("DISCARDED"), false},
		{"", TierUnset, false},
	}
	for _, tt := range tests {
		got, ok := ParseTier(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
	assert.Equal(t, "NICE-TO-KNOW", TierNiceToKnow.Label())
}

func TestReadBatch(t *testing.T) {
	input := `[
		{"url": "https://example.com/a?x=1", "title": "A", "source": "Src", "publishedAt": "2026-10-17T08:00:00Z", "summary": "<p>Hallo <b>Welt</b></p>"},
		{"link": "https://example.com/b", "title": "B", "source": "Src", "published": "2026-10-16", "content": "Text"},
		{"title": "Nur Titel", "source": "Src", "publishedAt": null}
	]`
	records, err := ReadBatch(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "https://example.com/b", records[1].URL)
	assert.Equal(t, "2026-10-16", records[1].PublishedAt)
	assert.Equal(t, "Text", records[1].Summary)

	articles := NormalizeAll(records)
	assert.Equal(t, "Hallo Welt", articles[0].Summary)
	assert.Equal(t, "url:https://example.com/a", articles[0].ID)
	assert.Equal(t, time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC), articles[0].PublishedAt)
	assert.Equal(t, "title:nur titel|src", articles[2].ID)
}

func TestReadBatch_WrappedSnapshot(t *testing.T) {
	input := `{"metadata": {"total": 1}, "articles": [{"link": "https://example.com/x", "title": "X"}]}`
	records, err := ReadBatch(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "https://example.com/x", records[0].URL)
}

func TestReadBatch_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"不是 JSON", `not json`},
		{"顶层是对象且无 articles", `{"foo": 1}`},
		{"元素不是对象", `[1, 2]`},
		{"字段类型错误", `[{"url": 42, "title": "x"}]`},
		{"缺少 url 和 title", `[{"source": "x"}]`},
		{"时间无法解析", `[{"url": "https://a.b/c", "publishedAt": "gestern"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := ReadBatch(strings.NewReader(tt.input))
			assert.Nil(t, records)
			assert.True(t, errors.Is(err, ErrInputMalformed), "got %v", err)
		})
	}
}

func TestNormalize_AmbiguousHasEmptyID(t *testing.T) {
	a := Normalize(RawRecord{URL: "kaputt", Title: "Titel"})
	assert.Empty(t, a.ID)
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "a & b", StripHTML("a &amp; b"))
	assert.Equal(t, "Text mehr", StripHTML("<div>Text<script>x()</script> <i>mehr</i></div>"))
	assert.Equal(t, "plain text", StripHTML("  plain \n text "))
}

func TestWithTier(t *testing.T) {
	a := Article{ID: "x", Title: "T"}
	b := a.WithTier(TierMustKnow, "  kurz  ")
	assert.Equal(t, TierUnset, a.Tier)
	assert.Equal(t, TierMustKnow, b.Tier)
	assert.Equal(t, "kurz", b.Blurb)
}
