package downloader

import "sort"

// Result maps each requested file name to its download outcome. A batch result
// always carries exactly one outcome per requested name.
type Result map[string]bool

// Failed returns the names with a failed outcome, sorted for determinism.
func (r Result) Failed() []string {
	var failed []string

	for name, ok := range r {
		if !ok {
			failed = append(failed, name)
		}
	}

	sort.Strings(failed)

	return failed
}

// Succeeded returns the number of successful outcomes.
func (r Result) Succeeded() int {
	count := 0

	for _, ok := range r {
		if ok {
			count++
		}
	}

	return count
}

// Merge copies outcomes from other into r, overwriting existing entries.
func (r Result) Merge(other Result) {
	for name, ok := range other {
		r[name] = ok
	}
}
