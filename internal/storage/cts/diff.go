package cts

import (
	"slices"
	"strings"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
	"github.com/yndnr/tokmesh-cts/internal/storage/directory"
)

// Diff returns the modifications turning previous into updated. Single
// valued attributes are replaced wholesale, multi-valued attributes are
// diffed value by value. The objectClass and etag attributes are ignored.
// Modifications are ordered by attribute name.
func Diff(previous, updated *directory.Entry) []directory.Modification {
	prev := diffable(previous)
	next := diffable(updated)

	names := make([]string, 0, len(prev)+len(next))
	for name := range prev {
		names = append(names, name)
	}
	for name := range next {
		if _, ok := prev[name]; !ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	var mods []directory.Modification
	for _, key := range names {
		before, hadBefore := prev[key]
		after, hasAfter := next[key]

		switch {
		case !hasAfter:
			mods = append(mods, directory.Modification{
				Op:        directory.ModDelete,
				Attribute: directory.Attribute{Name: before.Name},
			})
		case isMultiValued(after.Name):
			if !hadBefore {
				mods = append(mods, directory.Modification{Op: directory.ModAdd, Attribute: after})
				continue
			}
			added := subtract(after.Values, before.Values)
			removed := subtract(before.Values, after.Values)
			if len(added) > 0 {
				mods = append(mods, directory.Modification{
					Op:        directory.ModAdd,
					Attribute: directory.Attribute{Name: after.Name, Values: added},
				})
			}
			if len(removed) > 0 {
				mods = append(mods, directory.Modification{
					Op:        directory.ModDelete,
					Attribute: directory.Attribute{Name: after.Name, Values: removed},
				})
			}
		case !hadBefore || !slices.Equal(before.Values, after.Values):
			mods = append(mods, directory.Modification{Op: directory.ModReplace, Attribute: after})
		}
	}
	return mods
}

func diffable(e *directory.Entry) map[string]directory.Attribute {
	out := make(map[string]directory.Attribute, len(e.Attributes))
	for _, a := range StripObjectClass(e).Attributes {
		if strings.EqualFold(a.Name, directory.ETagAttribute) {
			continue
		}
		out[strings.ToLower(a.Name)] = a
	}
	return out
}

func isMultiValued(name string) bool {
	f, err := domain.ParseField(name)
	return err == nil && f.Kind() == domain.KindMultiString
}

func subtract(a, b []string) []string {
	var out []string
	for _, v := range a {
		if !slices.Contains(b, v) {
			out = append(out, v)
		}
	}
	return out
}
