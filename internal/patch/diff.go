package patch

import (
	"github.com/ilnaes/hyperpad/internal/hyper"
)

// sibling lists larger than this are aligned by position only
const maxAlignCells = 1 << 16

// Diff computes the patch turning old into new. Neither tree is modified.
func Diff(old, new *hyper.Element) Patch {
	d := &differ{}
	d.node(hyper.Route{}, old, new)
	return d.patch
}

type differ struct {
	patch Patch
}

func (d *differ) emit(c Change) {
	d.patch = append(d.patch, c)
}

func (d *differ) node(route hyper.Route, a, b hyper.Node) {
	switch a := a.(type) {
	case hyper.Text:
		if bt, ok := b.(hyper.Text); ok {
			if a != bt {
				d.emit(Change{Action: ModifyTextElement, Route: route, OldValue: string(a), NewValue: string(bt)})
			}
			return
		}
	case *hyper.Element:
		if be, ok := b.(*hyper.Element); ok && be.Tag == a.Tag {
			d.attributes(route, a, be)
			d.children(route, a.Children, be.Children)
			return
		}
	}
	d.emit(Change{Action: ReplaceElement, Route: route, OldValue: hyper.Marshal(a), Node: hyper.Marshal(b)})
}

func (d *differ) attributes(route hyper.Route, a, b *hyper.Element) {
	for _, name := range a.AttrNames() {
		if _, ok := b.Attrs[name]; !ok {
			d.emit(Change{Action: RemoveAttribute, Route: route, Name: name, OldValue: a.Attrs[name]})
		}
	}
	for _, name := range b.AttrNames() {
		old, ok := a.Attrs[name]
		switch {
		case !ok:
			d.emit(Change{Action: AddAttribute, Route: route, Name: name, NewValue: b.Attrs[name]})
		case old != b.Attrs[name]:
			d.emit(Change{Action: ModifyAttribute, Route: route, Name: name, OldValue: old, NewValue: b.Attrs[name]})
		}
	}
}

func (d *differ) children(route hyper.Route, as, bs []hyper.Node) {
	sa := signatures(as)
	sb := signatures(bs)

	if equal(sa, sb) {
		return
	}
	if sameMultiset(sa, sb) {
		d.relocate(route, sa, sb)
		return
	}

	type pair struct{ i, j int }
	matches := []pair{}
	for _, m := range align(sa, sb) {
		matches = append(matches, pair{m[0], m[1]})
	}
	matches = append(matches, pair{len(as), len(bs)})

	// c tracks the index in the live list as changes are applied
	c, pi, pj := 0, 0, 0
	for _, m := range matches {
		oldGap, newGap := as[pi:m.i], bs[pj:m.j]
		n := len(oldGap)
		if len(newGap) < n {
			n = len(newGap)
		}
		for k := 0; k < n; k++ {
			d.node(route.Child(c+k), oldGap[k], newGap[k])
		}
		for k := n; k < len(oldGap); k++ {
			d.remove(route.Child(c+n), oldGap[k])
		}
		for k := n; k < len(newGap); k++ {
			d.insert(route.Child(c+k), newGap[k])
		}
		c += len(newGap) + 1
		pi, pj = m.i+1, m.j+1
	}
}

func (d *differ) remove(route hyper.Route, n hyper.Node) {
	switch n := n.(type) {
	case hyper.Text:
		d.emit(Change{Action: RemoveTextElement, Route: route, OldValue: string(n)})
	case *hyper.Element:
		d.emit(Change{Action: RemoveElement, Route: route, OldValue: hyper.Marshal(n)})
	}
}

func (d *differ) insert(route hyper.Route, n hyper.Node) {
	switch n := n.(type) {
	case hyper.Text:
		d.emit(Change{Action: AddTextElement, Route: route, NewValue: string(n)})
	case *hyper.Element:
		d.emit(Change{Action: AddElement, Route: route, Node: hyper.Marshal(n)})
	}
}

// relocate reorders a permutation of the old children with group moves.
// Each move brings at least one more child into its final place.
func (d *differ) relocate(route hyper.Route, sa, sb []string) {
	cur := append([]string(nil), sa...)
	for i := range cur {
		if cur[i] == sb[i] {
			continue
		}
		k := i + 1
		for cur[k] != sb[i] {
			k++
		}
		g := 1
		for k+g < len(cur) && i+g < k && cur[k+g] == sb[i+g] {
			g++
		}
		d.emit(Change{Action: RelocateGroup, Route: route, From: k, To: i, GroupLength: g})
		cur = moveGroup(cur, k, i, g)
	}
}

// moveGroup removes n items at from and reinserts them so that they start at
// to in the resulting slice.
func moveGroup(s []string, from, to, n int) []string {
	group := append([]string(nil), s[from:from+n]...)
	rest := append(append([]string(nil), s[:from]...), s[from+n:]...)
	out := append(append([]string(nil), rest[:to]...), group...)
	return append(out, rest[to:]...)
}

func signatures(ns []hyper.Node) []string {
	s := make([]string, len(ns))
	for i, n := range ns {
		s[i] = hyper.Marshal(n)
	}
	return s
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameMultiset(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	count := map[string]int{}
	for _, s := range a {
		count[s]++
	}
	for _, s := range b {
		count[s]--
		if count[s] < 0 {
			return false
		}
	}
	return true
}

// align returns index pairs of a longest common subsequence of a and b.
func align(a, b []string) [][2]int {
	if len(a)*len(b) > maxAlignCells {
		return nil
	}

	dp := make([][]int, len(a)+1)
	for i := range dp {
		dp[i] = make([]int, len(b)+1)
	}
	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			if a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	res := [][2]int{}
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] == b[j] {
			res = append(res, [2]int{i, j})
			i++
			j++
		} else if dp[i+1][j] >= dp[i][j+1] {
			i++
		} else {
			j++
		}
	}
	return res
}
