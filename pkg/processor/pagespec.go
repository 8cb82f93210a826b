package processor

import (
	"sort"
	"strconv"
	"strings"

	"github.com/Mr-kumar/pdf-toolkit/pkg/errdefs"
)

// ParsePageSpec parses a page selection like "1,3-5, 8" into a sorted
// list of unique 1-based page numbers. The grammar is comma-separated
// terms, each a single page or an ascending inclusive range, with
// whitespace tolerated around terms.
func ParsePageSpec(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errdefs.New(errdefs.KindInvalidPageSpec, "page specification is empty")
	}

	seen := make(map[int]struct{})
	for _, term := range strings.Split(spec, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			return nil, errdefs.Newf(errdefs.KindInvalidPageSpec, "empty term in page specification %q", spec)
		}
		lo, hi, err := parseTerm(term)
		if err != nil {
			return nil, err
		}
		for p := lo; p <= hi; p++ {
			seen[p] = struct{}{}
		}
	}

	pages := make([]int, 0, len(seen))
	for p := range seen {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages, nil
}

func parseTerm(term string) (lo, hi int, err error) {
	if before, after, found := strings.Cut(term, "-"); found {
		lo, err = parsePage(strings.TrimSpace(before))
		if err != nil {
			return 0, 0, err
		}
		hi, err = parsePage(strings.TrimSpace(after))
		if err != nil {
			return 0, 0, err
		}
		if hi < lo {
			return 0, 0, errdefs.Newf(errdefs.KindInvalidPageSpec, "descending range %q", term)
		}
		return lo, hi, nil
	}
	lo, err = parsePage(term)
	if err != nil {
		return 0, 0, err
	}
	return lo, lo, nil
}

func parsePage(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, errdefs.Newf(errdefs.KindInvalidPageSpec, "invalid page number %q", s)
	}
	return n, nil
}

// ValidatePageRange checks every selected page against the document's
// page count.
func ValidatePageRange(pages []int, total int) error {
	for _, p := range pages {
		if p > total {
			return errdefs.Newf(errdefs.KindPageOutOfRange,
				"page %d is out of range, document has %d pages", p, total)
		}
	}
	return nil
}
