package ot

import (
	"errors"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/ilnaes/hyperpad/internal/hyper"
)

func TestRebaseInsertAfterReplace(t *testing.T) {
	local := []Operation{{Offset: 5, ToRemove: 0, ToInsert: " world"}}
	remote := []Operation{{Offset: 0, ToRemove: 5, ToInsert: "HI"}}

	rebased := Rebase(local, remote, "hello", false)
	expected := []Operation{{Offset: 2, ToRemove: 0, ToInsert: " world"}}
	if !reflect.DeepEqual(rebased, expected) {
		t.Fatalf("%v should be %v", rebased, expected)
	}

	s, _ := ApplyMulti(remote, "hello")
	s, _ = ApplyMulti(rebased, s)
	if s != "HI world" {
		t.Errorf("%s should be HI world", s)
	}
}

func TestRebaseTieBreak(t *testing.T) {
	local := []Operation{{Offset: 1, ToInsert: "L"}}
	remote := []Operation{{Offset: 1, ToInsert: "R"}}

	rebased := Rebase(local, remote, "ab", false)
	s, _ := ApplyMulti(remote, "ab")
	s, _ = ApplyMulti(rebased, s)

	if s != "aRLb" {
		t.Errorf("%s should be aRLb", s)
	}
}

func TestRebaseDiscardInsideRemoval(t *testing.T) {
	local := []Operation{{Offset: 2, ToRemove: 1}}
	remote := []Operation{{Offset: 1, ToRemove: 3}}

	if rebased := Rebase(local, remote, "abcdef", false); len(rebased) != 0 {
		t.Errorf("expected local op to be dropped, got %v", rebased)
	}

	// selection carets survive as empty ops
	caret := []Operation{{Offset: 2}}
	rebased := Rebase(caret, remote, "abcdef", true)
	expected := []Operation{{Offset: 1}}
	if !reflect.DeepEqual(rebased, expected) {
		t.Errorf("%v should be %v", rebased, expected)
	}
}

func TestRebaseCoincidentRemoval(t *testing.T) {
	local := []Operation{{Offset: 1, ToRemove: 1, ToInsert: "x"}}
	remote := []Operation{{Offset: 1, ToRemove: 2}}

	if rebased := Rebase(local, remote, "abcd", false); len(rebased) != 0 {
		t.Errorf("expected local op to be dropped, got %v", rebased)
	}
}

func TestRebaseOperationCases(t *testing.T) {
	tests := []struct {
		name          string
		local, remote Operation
		expected      Operation
		ok            bool
	}{
		{"after", Operation{6, 1, "x"}, Operation{1, 2, "abc"}, Operation{7, 1, "x"}, true},
		{"before", Operation{0, 1, "x"}, Operation{3, 2, ""}, Operation{0, 1, "x"}, true},
		{"touching end", Operation{3, 0, "x"}, Operation{1, 2, "yy"}, Operation{3, 0, "x"}, true},
		{"tail overlap", Operation{3, 4, "x"}, Operation{1, 4, "yy"}, Operation{3, 2, "x"}, true},
		{"head overlap", Operation{1, 4, "x"}, Operation{3, 4, ""}, Operation{1, 2, "x"}, true},
		{"contains", Operation{1, 6, "x"}, Operation{3, 2, "yyy"}, Operation{1, 7, "x"}, true},
		{"inside", Operation{3, 1, "x"}, Operation{2, 4, "yy"}, Operation{4, 0, ""}, false},
		{"removal over insertion", Operation{0, 3, "d"}, Operation{0, 0, "daa"}, Operation{0, 6, "d"}, true},
		{"insertion at removal", Operation{0, 0, "daa"}, Operation{0, 3, "d"}, Operation{1, 0, ""}, false},
		{"two insertions", Operation{2, 0, "x"}, Operation{2, 0, "yy"}, Operation{4, 0, "x"}, true},
	}

	for _, tc := range tests {
		op, ok := RebaseOperation(tc.local, tc.remote)
		if ok != tc.ok || op != tc.expected {
			t.Errorf("%s: got %v %v, want %v %v", tc.name, op, ok, tc.expected, tc.ok)
		}
	}
}

func TestRebaseConvergence(t *testing.T) {
	r := rand.New(rand.NewSource(3))

	for i := 0; i < 2000; i++ {
		text := randomText(r, 10)
		a := randomOp(r, text)
		b := randomOp(r, text)
		if a.Offset == b.Offset && a.ToRemove == b.ToRemove && a.ToInsert != b.ToInsert {
			// each side keeps the other's text for the same span
			continue
		}

		ab := Rebase([]Operation{a}, []Operation{b}, text, false)
		ba := Rebase([]Operation{b}, []Operation{a}, text, false)

		s1, _ := ApplyMulti([]Operation{b}, text)
		s1, err := ApplyMulti(ab, s1)
		if err != nil {
			t.Fatal(err)
		}
		s2, _ := ApplyMulti([]Operation{a}, text)
		s2, err = ApplyMulti(ba, s2)
		if err != nil {
			t.Fatal(err)
		}

		if s1 != s2 {
			t.Fatalf("%q with a=%v b=%v diverged: %q vs %q", text, a, b, s1, s2)
		}
	}
}

func TestRebaseRemovalOverInsertion(t *testing.T) {
	text := "eacb"
	a := []Operation{{Offset: 0, ToRemove: 3, ToInsert: "d"}}
	b := []Operation{{Offset: 0, ToInsert: "daa"}}

	s1, _ := ApplyMulti(b, text)
	s1, err := ApplyMulti(Rebase(a, b, text, false), s1)
	if err != nil {
		t.Fatal(err)
	}
	s2, _ := ApplyMulti(a, text)
	s2, err = ApplyMulti(Rebase(b, a, text, false), s2)
	if err != nil {
		t.Fatal(err)
	}

	if s1 != "db" || s2 != "db" {
		t.Errorf("got %q and %q, both should be db", s1, s2)
	}
}

func TestRebaseUnsortedLocal(t *testing.T) {
	// second op lands before the first one
	local := []Operation{{Offset: 3, ToInsert: "X"}, {Offset: 0, ToInsert: "Y"}}
	remote := []Operation{{Offset: 5, ToInsert: "!"}}

	rebased := Rebase(local, remote, "hello", false)
	s, _ := ApplyMulti(remote, "hello")
	s, err := ApplyMulti(rebased, s)
	if err != nil {
		t.Fatal(err)
	}
	if s != "YhelXlo!" {
		t.Errorf("%s should be YhelXlo!", s)
	}
}

func TestRebaseJSONRejectsBrokenResult(t *testing.T) {
	ancestor := `["a","b"]`
	local := Diff(ancestor, `["a","bc"]`)
	remote := Diff(ancestor, `["a"]`)

	// the edited node was removed remotely
	ops, err := RebaseJSONErr(local, remote, ancestor)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 0 {
		t.Errorf("expected edit inside removed node to be dropped, got %v", ops)
	}

	if ops := RebaseJSON([]Operation{{Offset: 1, ToRemove: 0, ToInsert: `"`}}, nil, ancestor); len(ops) != 0 {
		t.Errorf("expected invalid JSON to fall back to no ops, got %v", ops)
	}
}

func TestMerge(t *testing.T) {
	previous := `["P",{},["hello"]]`
	next := `["P",{},["hello world"]]`
	current := `["P",{"class":"x"},["hello"]]`

	merged := Merge(previous, next, current)
	expected := `["P",{"class":"x"},["hello world"]]`
	if merged != expected {
		t.Errorf("%s should be %s", merged, expected)
	}

	if Merge(previous, next, previous) != next {
		t.Error("unchanged local side should take the remote version")
	}
}

func TestMergeValidated(t *testing.T) {
	noYX := func(s string) error {
		if strings.Contains(s, "YX") {
			return errors.New("YX")
		}
		return nil
	}
	previous, next, current := `["ab"]`, `["aYb"]`, `["aXb"]`

	if merged := Merge(previous, next, current); merged != `["aYXb"]` {
		t.Fatalf("%s should be [\"aYXb\"]", merged)
	}
	if merged := MergeValidated(previous, next, current, noYX); merged != next {
		t.Errorf("%s should be %s", merged, next)
	}
	if _, err := RebaseValidated(Diff(previous, current), Diff(previous, next), previous, noYX); !errors.Is(err, ErrTransformConflict) {
		t.Errorf("err = %v", err)
	}

	// an ancestor that fails validation is only checked as JSON
	if _, err := RebaseValidated(Diff(`["a"]`, `["ab"]`), nil, `["a"]`, hyper.Validate); err != nil {
		t.Error(err)
	}
}

func TestMergeKeepsTreeValid(t *testing.T) {
	previous := `["BODY",{},["acc",["B",{},[]]]]`
	next := `["BODY",{},[["P",{},[["P",{},["b","bc"]]]],"bad"]]`
	current := `["BODY",{},[["B",{},[]],"a"]]`

	merged := MergeValidated(previous, next, current, hyper.Validate)
	if err := hyper.Validate(merged); err != nil {
		t.Fatalf("%s: %v", merged, err)
	}
	if hyper.Validate(Merge(previous, next, current)) != nil && merged != next {
		t.Errorf("%s should fall back to %s", merged, next)
	}
}

func TestMergeValidatedRandom(t *testing.T) {
	r := rand.New(rand.NewSource(7))

	for i := 0; i < 300; i++ {
		previous := randomDoc(r)
		next := randomDoc(r)
		current := randomDoc(r)

		merged := MergeValidated(previous, next, current, hyper.Validate)
		if err := hyper.Validate(merged); err != nil {
			t.Fatalf("merge(%s, %s, %s) = %s: %v", previous, next, current, merged, err)
		}
	}
}

func randomDoc(r *rand.Rand) string {
	var build func(depth int) hyper.Node
	build = func(depth int) hyper.Node {
		if depth == 0 || r.Intn(3) == 0 {
			return hyper.Text(randomText(r, 3))
		}
		e := hyper.NewElement([]string{"P", "B"}[r.Intn(2)], nil)
		for n := r.Intn(3); n > 0; n-- {
			e.Children = append(e.Children, build(depth-1))
		}
		return e
	}
	root := hyper.NewElement("BODY", nil)
	for n := r.Intn(3) + 1; n > 0; n-- {
		root.Children = append(root.Children, build(2))
	}
	return hyper.Marshal(root)
}

func randomOp(r *rand.Rand, text string) Operation {
	off := r.Intn(len(text) + 1)
	rem := 0
	if off < len(text) {
		rem = r.Intn(len(text) - off + 1)
	}
	return Operation{Offset: off, ToRemove: rem, ToInsert: randomText(r, 4)}
}
