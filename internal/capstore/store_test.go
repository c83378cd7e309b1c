package capstore

import "testing"

func TestCreateMonotonic(t *testing.T) {
	s := NewStore()
	var prev Id
	for i := 0; i < 100; i++ {
		id := s.Create(Network())
		if i > 0 && id <= prev {
			t.Fatalf("capability ids not strictly increasing: prev=%d id=%d", prev, id)
		}
		prev = id
	}
}

func TestResolveUnknown(t *testing.T) {
	s := NewStore()
	if _, ok := s.Resolve(999); ok {
		t.Fatal("expected unresolved id to report ok=false")
	}
}

func TestRevokeRemovesAuthority(t *testing.T) {
	s := NewStore()
	id := s.Create(Network())
	if _, ok := s.Resolve(id); !ok {
		t.Fatal("expected newly created capability to resolve")
	}
	if !s.Revoke(id) {
		t.Fatal("expected revoke of live id to report true")
	}
	if _, ok := s.Resolve(id); ok {
		t.Fatal("expected revoked id to no longer resolve")
	}
	if s.Revoke(id) {
		t.Fatal("expected repeat revoke to report false")
	}
}

func TestMemoryCoversAddressBoundaries(t *testing.T) {
	c := Memory(0x1000, 0x1000, true, false, false)
	cases := []struct {
		addr uint64
		want bool
	}{
		{0x0FFF, false},
		{0x1000, true},
		{0x1FFF, true},
		{0x2000, false},
	}
	for _, tc := range cases {
		if got := c.CoversAddress(tc.addr, true, false, false); got != tc.want {
			t.Errorf("CoversAddress(%#x) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}

func TestMemoryZeroSizeCoversNothing(t *testing.T) {
	c := Memory(0x1000, 0, true, true, true)
	if c.CoversAddress(0x1000, true, false, false) {
		t.Fatal("zero-size memory capability must cover no address")
	}
}

func TestFileSystemPrefixMatch(t *testing.T) {
	c := FileSystem("/tmp/", true, false)
	if !c.MatchesPrefix("/tmp/x") {
		t.Fatal("expected /tmp/x to match prefix /tmp/")
	}
	if c.MatchesPrefix("/tmpx") {
		t.Fatal("expected /tmpx to NOT match prefix /tmp/ (byte-exact, no normalization)")
	}
}

func TestFileSystemEmptyPrefixMatchesEverything(t *testing.T) {
	c := FileSystem("", true, true)
	if !c.MatchesPrefix("/anything/at/all") {
		t.Fatal("empty path_prefix must match every path")
	}
}
