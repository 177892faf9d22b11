package keyword

import (
	"sort"
	"strings"
	"unicode"

	"github.com/fachebot/news-digest-bot/internal/article"
	"github.com/fachebot/news-digest-bot/internal/logger"
)

// Filter 基于黑名单的整词匹配过滤器。大小写不敏感，不做词干化或模糊匹配。
type Filter struct {
	terms []term
}

type term struct {
	raw    string
	tokens []string
}

// Stats 一次过滤的统计
type Stats struct {
	Input   int
	Kept    int
	Blocked int
	Reasons map[string]int // 命中词 → 文章数
}

// TopReasons 按命中次数降序返回前 n 个黑名单词
func (s Stats) TopReasons(n int) []string {
	reasons := make([]string, 0, len(s.Reasons))
	for k := range s.Reasons {
		reasons = append(reasons, k)
	}
	sort.Slice(reasons, func(i, j int) bool {
		if s.Reasons[reasons[i]] != s.Reasons[reasons[j]] {
			return s.Reasons[reasons[i]] > s.Reasons[reasons[j]]
		}
		return reasons[i] < reasons[j]
	})
	if n > 0 && len(reasons) > n {
		reasons = reasons[:n]
	}
	return reasons
}

// tokenSymbols 作为词的一部分保留的符号，如 C++、C#、AT&T
const tokenSymbols = "+#&"

func isTokenRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(tokenSymbols, r)
}

// Tokenize 按非字母数字字符切分并转为小写。词首的符号会被去掉，"#bundesliga" 与 "bundesliga" 相同。
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isTokenRune(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if f = strings.TrimLeft(f, tokenSymbols); f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// New 根据黑名单构造过滤器。多词条目（如 "champions league"）需按顺序连续出现才算命中。
func New(blacklist []string) *Filter {
	f := &Filter{}
	seen := make(map[string]bool)
	for _, raw := range blacklist {
		tokens := Tokenize(raw)
		if len(tokens) == 0 {
			continue
		}
		key := strings.Join(tokens, " ")
		if key != strings.Join(strings.Fields(strings.ToLower(raw)), " ") {
			logger.Warnf("[Keyword] 黑名单词 %q 含有分隔字符，实际按 %q 匹配", strings.TrimSpace(raw), key)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		f.terms = append(f.terms, term{raw: strings.TrimSpace(raw), tokens: tokens})
	}
	return f
}

// Len 有效黑名单词数量
func (f *Filter) Len() int {
	return len(f.terms)
}

// Match 返回文章标题+摘要中命中的第一个黑名单词
func (f *Filter) Match(a article.Article) (string, bool) {
	if len(f.terms) == 0 {
		return "", false
	}
	tokens := Tokenize(a.Title + " " + a.Summary)
	for _, t := range f.terms {
		if containsSequence(tokens, t.tokens) {
			return t.raw, true
		}
	}
	return "", false
}

// Passes 文章未命中任何黑名单词时返回 true
func (f *Filter) Passes(a article.Article) bool {
	_, hit := f.Match(a)
	return !hit
}

// Apply 按输入顺序过滤整个批次
func (f *Filter) Apply(batch []article.Article) ([]article.Article, Stats) {
	stats := Stats{Input: len(batch), Reasons: make(map[string]int)}
	kept := make([]article.Article, 0, len(batch))
	for _, a := range batch {
		if t, hit := f.Match(a); hit {
			stats.Blocked++
			stats.Reasons[t]++
			continue
		}
		kept = append(kept, a)
	}
	stats.Kept = len(kept)
	return kept, stats
}

// Passes 使用给定黑名单集合判断文章是否通过
func Passes(a article.Article, blacklist map[string]struct{}) bool {
	terms := make([]string, 0, len(blacklist))
	for t := range blacklist {
		terms = append(terms, t)
	}
	return New(terms).Passes(a)
}

func containsSequence(tokens, seq []string) bool {
	if len(seq) == 0 || len(seq) > len(tokens) {
		return false
	}
outer:
	for i := 0; i+len(seq) <= len(tokens); i++ {
		for j := range seq {
			if tokens[i+j] != seq[j] {
				continue outer
			}
		}
		return true
	}
	return false
}
