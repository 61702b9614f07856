package ot

import (
	"unicode/utf8"
)

// above this many DP cells the changed middle is replaced wholesale
const maxDiffCells = 1 << 18

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func commonPrefix(a, b string) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func commonSuffix(a, b string) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[len(a)-1-i] == b[len(b)-1-i] {
		i++
	}
	return i
}

// Diff returns a sequential operation list turning a into b. Operations never
// split a UTF-8 sequence.
func Diff(a, b string) []Operation {
	if a == b {
		return nil
	}

	prefix := commonPrefix(a, b)
	for prefix > 0 && !(runeBoundary(a, prefix) && runeBoundary(b, prefix)) {
		prefix--
	}
	suffix := commonSuffix(a[prefix:], b[prefix:])
	for suffix > 0 && !(runeBoundary(a, len(a)-suffix) && runeBoundary(b, len(b)-suffix)) {
		suffix--
	}

	oldMid := a[prefix : len(a)-suffix]
	newMid := b[prefix : len(b)-suffix]

	if oldMid == "" || newMid == "" || len(oldMid)*len(newMid) > maxDiffCells {
		return []Operation{{Offset: prefix, ToRemove: len(oldMid), ToInsert: newMid}}
	}

	ops := editScript(oldMid, newMid)
	for i := range ops {
		ops[i].Offset += prefix
	}
	return toSequential(ops)
}

// editScript runs the edit distance DP over the runes of s1 and s2 and
// returns the coalesced edits in absolute coordinates of s1.
func editScript(s1, s2 string) []Operation {
	r1, off1 := runeOffsets(s1)
	r2, off2 := runeOffsets(s2)

	dp := make([][]int, len(r1)+1)
	dp[0] = make([]int, len(r2)+1)

	for j := 0; j < len(r2)+1; j++ {
		dp[0][j] = j
	}

	for i := 1; i < len(r1)+1; i++ {
		dp[i] = make([]int, len(r2)+1)
		dp[i][0] = i

		for j := 1; j < len(r2)+1; j++ {
			dp[i][j] = min(dp[i][j-1], dp[i-1][j]) + 1

			if r1[i-1] == r2[j-1] && dp[i-1][j-1] < dp[i][j] {
				dp[i][j] = dp[i-1][j-1]
			}
		}
	}

	// walk back collecting matched pairs, then emit the gaps between them
	type pair struct{ i, j int }
	matches := []pair{{len(r1), len(r2)}}

	i, j := len(r1), len(r2)
	for i > 0 && j > 0 {
		if r1[i-1] == r2[j-1] && dp[i][j] == dp[i-1][j-1] {
			i--
			j--
			matches = append(matches, pair{i, j})
		} else if dp[i][j] == dp[i][j-1]+1 {
			j--
		} else {
			i--
		}
	}

	res := []Operation{}
	pi, pj := 0, 0
	for k := len(matches) - 1; k >= 0; k-- {
		m := matches[k]
		if m.i > pi || m.j > pj {
			res = append(res, Operation{
				Offset:   off1[pi],
				ToRemove: off1[m.i] - off1[pi],
				ToInsert: s2[off2[pj]:off2[m.j]],
			})
		}
		pi, pj = m.i+1, m.j+1
	}

	return res
}

func runeBoundary(s string, i int) bool {
	return i <= 0 || i >= len(s) || utf8.RuneStart(s[i])
}

// runeOffsets decodes s and returns its runes together with the byte offset
// of every rune plus one trailing entry for len(s).
func runeOffsets(s string) ([]rune, []int) {
	runes := make([]rune, 0, len(s))
	offsets := make([]int, 0, len(s)+1)
	for i, r := range s {
		runes = append(runes, r)
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(s))
	return runes, offsets
}
