package compaction

import "testing"

func TestVirtualLevelClampsAndScales(t *testing.T) {
	cases := []struct {
		size int64
		want int
	}{
		{0, 0},
		{100, 0},
		{256 * 1024, 0},
		{512 * 1024, 1},
		{1024 * 1024, 2},
	}
	for _, c := range cases {
		if got := VirtualLevel(c.size); got != c.want {
			t.Fatalf("VirtualLevel(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}

func TestGroupOverlappingMergesRanges(t *testing.T) {
	tables := []TableInfo{
		{ID: "a", MinKey: []byte("a"), MaxKey: []byte("m")},
		{ID: "b", MinKey: []byte("k"), MaxKey: []byte("z")},
		{ID: "c", MinKey: []byte("zz"), MaxKey: []byte("zzz")},
	}
	groups := GroupOverlapping(tables)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups (a+b merged, c separate), got %d", len(groups))
	}
	if len(groups[0].Tables) != 2 {
		t.Fatalf("expected first group to merge a and b, got %d tables", len(groups[0].Tables))
	}
	if len(groups[1].Tables) != 1 || groups[1].Tables[0].ID != "c" {
		t.Fatalf("expected second group to be c alone, got %+v", groups[1])
	}
}

func TestComputeStatusDebtBytesZeroUnderFiveL0(t *testing.T) {
	tables := make([]TableInfo, 4)
	for i := range tables {
		tables[i] = TableInfo{ID: string(rune('a' + i)), Size: 1000}
	}
	st := ComputeStatus(tables)
	if st.DebtBytes != 0 {
		t.Fatalf("expected zero debt with only 4 L0 tables, got %d", st.DebtBytes)
	}
}

func TestComputeStatusDebtBytesExcludesFourSmallest(t *testing.T) {
	sizes := []int64{100, 200, 300, 400, 500, 600}
	tables := make([]TableInfo, len(sizes))
	for i, s := range sizes {
		tables[i] = TableInfo{ID: string(rune('a' + i)), Size: s}
	}
	st := ComputeStatus(tables)
	// Excluding the four smallest (100,200,300,400) leaves 500+600=1100.
	if st.DebtBytes != 1100 {
		t.Fatalf("expected debt 1100, got %d", st.DebtBytes)
	}
}

func TestChooseGroupsRequiresAtLeastTwoTables(t *testing.T) {
	if got := ChooseGroups([]TableInfo{{ID: "a", MinKey: []byte("a"), MaxKey: []byte("z")}}); got != nil {
		t.Fatalf("expected nil groups with fewer than two tables, got %+v", got)
	}
}

func TestChooseGroupsDefaultModePicksOverlappingMultiMemberGroups(t *testing.T) {
	tables := []TableInfo{
		{ID: "a", MinKey: []byte("a"), MaxKey: []byte("m"), Size: 100},
		{ID: "b", MinKey: []byte("k"), MaxKey: []byte("z"), Size: 100},
	}
	groups := ChooseGroups(tables)
	if len(groups) != 1 || len(groups[0].Tables) != 2 {
		t.Fatalf("expected one merged overlapping group, got %+v", groups)
	}
}

func TestChooseGroupsL0PressureModePrefersLargestGroups(t *testing.T) {
	// Six small (L0) tables: two overlapping pairs plus two non-overlapping
	// singletons, all under the 256KiB virtual-level-0 threshold.
	tables := []TableInfo{
		{ID: "a", MinKey: []byte("a0"), MaxKey: []byte("a9"), Size: 1000},
		{ID: "b", MinKey: []byte("a5"), MaxKey: []byte("b5"), Size: 5000},
		{ID: "c", MinKey: []byte("c0"), MaxKey: []byte("c9"), Size: 1000},
		{ID: "d", MinKey: []byte("c5"), MaxKey: []byte("d5"), Size: 2000},
		{ID: "e", MinKey: []byte("x0"), MaxKey: []byte("x1"), Size: 500},
		{ID: "f", MinKey: []byte("y0"), MaxKey: []byte("y1"), Size: 500},
	}
	groups := ChooseGroups(tables)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups chosen in L0 pressure mode, got %d", len(groups))
	}
	if groups[0].totalSize() < groups[1].totalSize() {
		t.Fatalf("expected largest group first, got sizes %d then %d", groups[0].totalSize(), groups[1].totalSize())
	}
}
