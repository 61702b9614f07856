package session

import (
	"testing"
	"time"
)

func merge(t *testing.T, s *Saver, msg, peer string) bool {
	t.Helper()
	changed, err := s.Merge(msg, peer, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return changed
}

func TestSaverDirty(t *testing.T) {
	s := NewSaver("alice", "pa")
	if s.Dirty() {
		t.Fatal("new saver is dirty")
	}

	s.ContentModified(time.Now())
	if !s.Dirty() {
		t.Fatal("modified saver is clean")
	}

	// bob saved our first update
	if !merge(t, s, `{"bob":{"id":"pb","updateCount":0,"savedUpdateCount":{"alice":1},"dirty":false,"saving":0,"version":"1.1"}}`, "pb") {
		t.Error("dirty flag should have flipped")
	}
	if s.Dirty() {
		t.Error("saved content still dirty")
	}

	s.ContentModified(time.Now())
	if !s.Dirty() {
		t.Error("second update not dirty")
	}
}

func TestSaverMergeKeepsNewerThirdParty(t *testing.T) {
	s := NewSaver("alice", "pa")
	merge(t, s, `{"carol":{"id":"pc","updateCount":3,"savedUpdateCount":{},"version":"1.2"}}`, "pc")

	// bob relays an older copy of carol's state
	merge(t, s, `{
		"bob":{"id":"pb","updateCount":1,"savedUpdateCount":{}},
		"carol":{"id":"pc","updateCount":1,"savedUpdateCount":{},"version":"1.1"},
		"alice":{"id":"pa","updateCount":9,"savedUpdateCount":{}}
	}`, "pb")

	if v, by := s.LatestVersion(); v != "1.2" || by != "carol" {
		t.Errorf("latest = %s by %s, want 1.2 by carol", v, by)
	}
	counts := s.UpdateCounts()
	if counts["carol"] != 3 || counts["bob"] != 1 || counts["alice"] != 0 {
		t.Errorf("counts = %v", counts)
	}
}

func TestElect(t *testing.T) {
	all := func(string) bool { return true }

	s := NewSaver("bob", "pb")
	s.BeginSave(AutoSave)
	merge(t, s, `{"alice":{"id":"pa","savedUpdateCount":{},"saving":1}}`, "pa")
	if got := s.Elect(all); got != "alice" {
		t.Errorf("same priority elected %q, want alice", got)
	}

	merge(t, s, `{"carol":{"id":"pc","savedUpdateCount":{},"saving":2}}`, "pc")
	if got := s.Elect(all); got != "carol" {
		t.Errorf("elected %q, want carol", got)
	}

	onlyBob := func(peer string) bool { return peer == "pb" }
	if got := s.Elect(onlyBob); got != "bob" {
		t.Errorf("elected %q among connected, want bob", got)
	}

	s.EndSave(nil, "", time.Now())
	if got := s.Elect(onlyBob); got != "" {
		t.Errorf("elected %q with nobody saving", got)
	}
}

func TestForget(t *testing.T) {
	s := NewSaver("alice", "pa")
	merge(t, s, `{"bob":{"id":"pb","savedUpdateCount":{},"dirty":true}}`, "pb")
	if !s.SomeoneDirty(nil) {
		t.Fatal("bob is dirty")
	}
	s.Forget("pb")
	if s.SomeoneDirty(nil) {
		t.Error("forgotten client still counted")
	}
	s.Forget("pa")
	if _, ok := s.UpdateCounts()["alice"]; !ok {
		t.Error("own state forgotten")
	}
}

func TestShouldSave(t *testing.T) {
	now := time.Now()
	s := NewSaver("alice", "pa")
	if s.ShouldSave(now, now.Add(-time.Hour), time.Minute, nil) {
		t.Error("clean document saved")
	}

	s.ContentModified(now)
	if s.ShouldSave(now, now.Add(-time.Second), time.Minute, nil) {
		t.Error("saved before the interval")
	}
	if !s.ShouldSave(now, now.Add(-time.Hour), time.Minute, nil) {
		t.Error("dirty document not saved")
	}

	merge(t, s, `{"bob":{"id":"pb","savedUpdateCount":{},"saving":1}}`, "pb")
	if s.ShouldSave(now, now.Add(-time.Hour), time.Minute, nil) {
		t.Error("saved while bob is saving")
	}
	gone := func(peer string) bool { return peer != "pb" }
	if !s.ShouldSave(now, now.Add(-time.Hour), time.Minute, gone) {
		t.Error("disconnected saver blocks saving")
	}
}

func TestStatus(t *testing.T) {
	s := NewSaver("alice", "pa")
	if status, changed := s.Status(nil); status != Saved || changed {
		t.Errorf("status = %v, %v", status, changed)
	}

	s.ContentModified(time.Now())
	if status, changed := s.Status(nil); status != Dirty || !changed {
		t.Errorf("status = %v, %v", status, changed)
	}

	s.BeginSave(ManualSave)
	if status, _ := s.Status(nil); status != Saving {
		t.Errorf("status = %v, want saving", status)
	}

	s.EndSave(s.UpdateCounts(), "1.1", time.Now())
	if status, changed := s.Status(nil); status != Saved || !changed {
		t.Errorf("status = %v, %v", status, changed)
	}
	if v, by := s.LatestVersion(); v != "1.1" || by != "alice" {
		t.Errorf("latest = %s by %s", v, by)
	}
}

func TestCache(t *testing.T) {
	c := NewCache()
	c.SetKeys([]ChannelInfo{
		{Path: []string{"doc", "en", "wysiwyg"}, Key: "k1"},
		{Path: []string{"doc", "en", "saver"}, Key: "k2"},
	})
	if key, ok := c.Key("wysiwyg"); !ok || key != "k1" {
		t.Errorf("key = %q, %v", key, ok)
	}
	if _, ok := c.Key("all"); ok {
		t.Error("unknown editor has a key")
	}

	c.SetUser("p1", true)
	c.SetUser("p2", false)
	if off := c.OfflineUsers(); len(off) != 1 || off[0] != "p2" {
		t.Errorf("offline = %v", off)
	}
	c.ForgetUser("p2")
	if off := c.OfflineUsers(); len(off) != 0 {
		t.Errorf("offline = %v", off)
	}
}
