package terminal

import (
	"regexp"
	"strings"

	"github.com/AbhiTheModder/r2web/internal/errx"
)

// SearchOptions mirror the toggles exposed by the terminal widget's
// search addon.
type SearchOptions struct {
	CaseSensitive bool
	Regex         bool
}

// Match locates one search hit in the scrollback.
type Match struct {
	Line  int // scrollback line index
	Start int // byte offset within the line
	End   int
}

type searchState struct {
	term string
	opts SearchOptions
	last Match
	has  bool
}

// FindNext finds the next occurrence of term after the previous match,
// wrapping to the top. Changing the term or options restarts from the
// beginning. The boolean is false when the buffer has no occurrence.
func (v *View) FindNext(term string, opts SearchOptions) (Match, bool, error) {
	return v.find(term, opts, false)
}

// FindPrevious finds the closest occurrence before the previous match,
// wrapping to the bottom.
func (v *View) FindPrevious(term string, opts SearchOptions) (Match, bool, error) {
	return v.find(term, opts, true)
}

func (v *View) find(term string, opts SearchOptions, backward bool) (Match, bool, error) {
	if term == "" {
		return Match{}, false, nil
	}

	matcher, err := compileMatcher(term, opts)
	if err != nil {
		return Match{}, false, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	lines := v.lines
	if len(v.partial) > 0 {
		lines = append(append([]string(nil), v.lines...), string(v.partial))
	}
	if len(lines) == 0 {
		return Match{}, false, nil
	}

	if v.search.term != term || v.search.opts != opts {
		v.search = searchState{term: term, opts: opts}
	}

	startLine := 0
	if v.search.has {
		startLine = v.search.last.Line
	} else if backward {
		startLine = len(lines) - 1
	}

	for step := 0; step < len(lines); step++ {
		var idx int
		if backward {
			idx = (startLine - step + len(lines)*2) % len(lines)
			// Skip the line holding the previous match on the first step
			// only when that match was the sole hit candidate there.
			if step == 0 && v.search.has {
				if m, ok := matcher.findBefore(lines[idx], v.search.last.Start); ok {
					m.Line = idx
					v.search.last = m
					v.search.has = true
					return m, true, nil
				}
				continue
			}
		} else {
			idx = (startLine + step) % len(lines)
			if step == 0 && v.search.has {
				if m, ok := matcher.findAfter(lines[idx], v.search.last.End); ok {
					m.Line = idx
					v.search.last = m
					v.search.has = true
					return m, true, nil
				}
				continue
			}
		}

		var m Match
		var ok bool
		if backward {
			m, ok = matcher.findBefore(lines[idx], len(lines[idx])+1)
		} else {
			m, ok = matcher.findAfter(lines[idx], 0)
		}
		if ok {
			m.Line = idx
			v.search.last = m
			v.search.has = true
			return m, true, nil
		}
	}

	// Full wrap: recheck the line of the previous match so a sole
	// occurrence is found again instead of reported missing.
	if v.search.has {
		line := lines[startLine]
		var m Match
		var ok bool
		if backward {
			m, ok = matcher.findBefore(line, len(line)+1)
		} else {
			m, ok = matcher.findAfter(line, 0)
		}
		if ok {
			m.Line = startLine
			v.search.last = m
			return m, true, nil
		}
	}

	return Match{}, false, nil
}

type matcher struct {
	re      *regexp.Regexp
	literal string
	folded  bool
}

func compileMatcher(term string, opts SearchOptions) (*matcher, error) {
	if opts.Regex {
		pattern := term
		if !opts.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errx.Wrap(ErrBadSearchPattern, err)
		}
		return &matcher{re: re}, nil
	}
	if opts.CaseSensitive {
		return &matcher{literal: term}, nil
	}
	return &matcher{literal: strings.ToLower(term), folded: true}, nil
}

// findAfter locates the first match starting at or after offset from.
func (m *matcher) findAfter(line string, from int) (Match, bool) {
	if from > len(line) {
		return Match{}, false
	}
	if m.re != nil {
		loc := m.re.FindStringIndex(line[from:])
		if loc == nil || loc[1] == loc[0] {
			return Match{}, false
		}
		return Match{Start: from + loc[0], End: from + loc[1]}, true
	}
	haystack := line
	if m.folded {
		haystack = strings.ToLower(line)
	}
	idx := strings.Index(haystack[from:], m.literal)
	if idx < 0 {
		return Match{}, false
	}
	return Match{Start: from + idx, End: from + idx + len(m.literal)}, true
}

// findBefore locates the last match starting strictly before offset.
func (m *matcher) findBefore(line string, before int) (Match, bool) {
	var found Match
	ok := false
	from := 0
	for {
		match, hit := m.findAfter(line, from)
		if !hit || match.Start >= before {
			break
		}
		found = match
		ok = true
		from = match.Start + 1
	}
	return found, ok
}
