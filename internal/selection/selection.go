package selection

import (
	"path"
	"strings"

	"github.com/airtap/airtap/internal/schema"
)

// FilterByPattern returns tables whose name matches any of the glob patterns
// (e.g. "Order*"). Matching is case-insensitive. No patterns selects all.
func FilterByPattern(refs []schema.TableRef, patterns ...string) []schema.TableRef {
	if len(patterns) == 0 {
		return refs
	}
	var matched []schema.TableRef
	for _, r := range refs {
		for _, p := range patterns {
			if matchGlob(r.Table.Name, p) {
				matched = append(matched, r)
				break
			}
		}
	}
	return matched
}

// FilterByKeys keeps the tables whose key is listed. No keys selects all.
func FilterByKeys(refs []schema.TableRef, keys []string) []schema.TableRef {
	if len(keys) == 0 {
		return refs
	}
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	var matched []schema.TableRef
	for _, r := range refs {
		if want[r.Key()] {
			matched = append(matched, r)
		}
	}
	return matched
}

// Keys returns the keys of refs in order.
func Keys(refs []schema.TableRef) []string {
	keys := make([]string, len(refs))
	for i, r := range refs {
		keys[i] = r.Key()
	}
	return keys
}

// TotalFields returns the number of fields across refs.
func TotalFields(refs []schema.TableRef) int {
	var total int
	for _, r := range refs {
		total += len(r.Table.Fields)
	}
	return total
}

// DuplicateStreams returns stream names produced by more than one selected
// table. Such tables would interleave records in a single stream.
func DuplicateStreams(refs []schema.TableRef) []string {
	seen := make(map[string]int)
	var dups []string
	for _, r := range refs {
		name := schema.Slugify(r.Table.Name)
		seen[name]++
		if seen[name] == 2 {
			dups = append(dups, name)
		}
	}
	return dups
}

func matchGlob(name, pattern string) bool {
	name, pattern = strings.ToLower(name), strings.ToLower(pattern)
	ok, err := path.Match(pattern, name)
	if err != nil {
		return name == pattern
	}
	return ok
}
