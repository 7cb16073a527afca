// Package compaction implements the background merger of overlapping
// SSTables: virtual leveling by file size, overlap grouping, the
// two-mode (L0-pressure / default) selection policy, and status/debt
// reporting that feeds the store's write backpressure (§4.7).
//
// Grounded on the teacher's performCompaction/compactLevel/NewMergedIterator
// pipeline in velocity.go: gather iterators, merge, resolve duplicates by
// recency, write fresh SSTables, retire the inputs. The teacher's
// leveled-by-explicit-level-number design (fixed MaxLevels, ratio-triggered
// level-by-level compaction) is replaced by the spec's size-derived virtual
// level and overlap-range grouping, since nothing here assigns tables to
// levels explicitly — level is a read-only function of file size.
package compaction

import (
	"bytes"
	"math/bits"
	"sort"
)

const levelUnitBytes = 256 * 1024

// TableInfo is the metadata compaction planning needs about one live
// SSTable: enough to compute its virtual level and whether its key range
// overlaps another table's.
type TableInfo struct {
	ID      string
	Path    string
	Size    int64
	MinKey  []byte
	MaxKey  []byte
}

// VirtualLevel computes level = floor(log2(max(1, size/256KiB))), clamped
// to 0 for tiny files.
func VirtualLevel(size int64) int {
	units := size / levelUnitBytes
	if units < 1 {
		units = 1
	}
	level := bits.Len64(uint64(units)) - 1
	if level < 0 {
		level = 0
	}
	return level
}

// Group is a set of tables whose key ranges overlap.
type Group struct {
	Tables []TableInfo
}

func (g Group) totalSize() int64 {
	var sum int64
	for _, t := range g.Tables {
		sum += t.Size
	}
	return sum
}

func (g Group) allLevel0() bool {
	for _, t := range g.Tables {
		if VirtualLevel(t.Size) != 0 {
			return false
		}
	}
	return true
}

// GroupOverlapping sorts tables by their lower key bound and merges
// consecutive tables whose ranges overlap into groups (§4.7 step 3).
func GroupOverlapping(tables []TableInfo) []Group {
	if len(tables) == 0 {
		return nil
	}
	sorted := append([]TableInfo{}, tables...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].MinKey, sorted[j].MinKey) < 0
	})

	var groups []Group
	cur := Group{Tables: []TableInfo{sorted[0]}}
	curMax := sorted[0].MaxKey
	for _, t := range sorted[1:] {
		if bytes.Compare(t.MinKey, curMax) <= 0 {
			cur.Tables = append(cur.Tables, t)
			if bytes.Compare(t.MaxKey, curMax) > 0 {
				curMax = t.MaxKey
			}
			continue
		}
		groups = append(groups, cur)
		cur = Group{Tables: []TableInfo{t}}
		curMax = t.MaxKey
	}
	groups = append(groups, cur)
	return groups
}

// LevelStatus summarizes one virtual level for Status.
type LevelStatus struct {
	Level     int
	Tables    int
	SizeBytes int64
}

// Status is the compactor's externally observable state (§4.7).
type Status struct {
	Running       bool
	PendingTables int
	Levels        []LevelStatus
	DebtBytes     int64
}

// ComputeStatus aggregates per-level counts/sizes and the L0 debt measure:
// zero unless L0 holds more than four tables, in which case it's the sum
// of L0 sizes excluding the four smallest.
func ComputeStatus(tables []TableInfo) Status {
	byLevel := make(map[int]*LevelStatus)
	var l0Sizes []int64
	for _, t := range tables {
		level := VirtualLevel(t.Size)
		ls, ok := byLevel[level]
		if !ok {
			ls = &LevelStatus{Level: level}
			byLevel[level] = ls
		}
		ls.Tables++
		ls.SizeBytes += t.Size
		if level == 0 {
			l0Sizes = append(l0Sizes, t.Size)
		}
	}

	levels := make([]LevelStatus, 0, len(byLevel))
	for _, ls := range byLevel {
		levels = append(levels, *ls)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Level < levels[j].Level })

	var debt int64
	if len(l0Sizes) > 4 {
		sort.Slice(l0Sizes, func(i, j int) bool { return l0Sizes[i] < l0Sizes[j] })
		for _, s := range l0Sizes[4:] {
			debt += s
		}
	}

	return Status{
		PendingTables: len(tables),
		Levels:        levels,
		DebtBytes:     debt,
	}
}

// ChooseGroups implements the two-mode tick policy (§4.7 step 4): L0
// pressure mode picks up to two L0-only overlapping groups, largest first,
// when L0 holds more than four tables and such groups exist; otherwise the
// default mode picks up to two overlapping groups with more than one
// member.
func ChooseGroups(tables []TableInfo) []Group {
	if len(tables) < 2 {
		return nil
	}

	l0Count := 0
	for _, t := range tables {
		if VirtualLevel(t.Size) == 0 {
			l0Count++
		}
	}

	groups := GroupOverlapping(tables)

	var multi []Group
	for _, g := range groups {
		if len(g.Tables) > 1 {
			multi = append(multi, g)
		}
	}

	if l0Count > 4 {
		var l0Groups []Group
		for _, g := range multi {
			if g.allLevel0() {
				l0Groups = append(l0Groups, g)
			}
		}
		if len(l0Groups) > 0 {
			sort.Slice(l0Groups, func(i, j int) bool { return l0Groups[i].totalSize() > l0Groups[j].totalSize() })
			if len(l0Groups) > 2 {
				l0Groups = l0Groups[:2]
			}
			return l0Groups
		}
	}

	if len(multi) > 2 {
		multi = multi[:2]
	}
	return multi
}
