package cache

import ("os"
	"path/filepath"
	"testing"

	"zwavehost/node"
	"zwavehost/stage"
	"zwavehost/value")

// TestCacheIdentityRoundTrip checks that WriteCache then ReadCache on a
// fresh driver with the same HomeId yields an identical node set (ids,
// CCs, values' labels/types). Neighbor bitmaps are not compared here.
func TestCacheIdentityRoundTrip(t *testing.T) {
	const homeID = 0xCAFEBABE
	n5 := node.New(5)
	n5.Protocol = node.ProtocolInfo{Listening: true, Generic: 0x10, Specific: 0x01}
	n5.SetStage(stage.CacheLoad)
	n5.AddCommandClass(&node.CommandClass{ID: 0x20, Version: 1})
	v := value.New(value.ID{HomeID: homeID, NodeID: 5, CommandClassID: 0x20, Index: 0}, value.KindByte)
	v.Label = "Basic"
	v.SetString("255")
	n5.SetValue(v)

	n7 := node.New(7) // not yet at CacheLoad, must be excluded
	n7.SetStage(stage.Static)

	dir := t.TempDir()
	path := filepath.Join(dir, "cache.xml")
	if err := Write(path, homeID, 1, []*node.Node{n5, n7}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(path, homeID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 node (n7 excluded, below CacheLoad), got %d", len(got))
	}
	gn := got[0]
	if gn.ID != 5 {
		t.Fatalf("expected node id 5, got %d", gn.ID)
	}
	if !gn.Protocol.Listening || gn.Protocol.Generic != 0x10 || gn.Protocol.Specific != 0x01 {
		t.Fatalf("protocol info mismatch: %+v", gn.Protocol)
	}
	cc, ok := gn.CommandClass(0x20)
	if !ok || cc.Version != 1 {
		t.Fatalf("expected command class 0x20 version 1, got %+v ok=%v", cc, ok)
	}
	gv, ok := gn.Value(value.ID{HomeID: homeID, NodeID: 5, CommandClassID: 0x20, Index: 0})
	if !ok || gv.Label != "Basic" || gv.GetAsString() != "255" {
		t.Fatalf("value mismatch: %+v ok=%v", gv, ok)
	}
	if gn.Stage() != stage.CacheLoad {
		t.Fatalf("expected restored node to start at CacheLoad stage, got %v", gn.Stage())
	}
}

func TestReadRejectsHomeIDMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.xml")
	if err := Write(path, 0x11111111, 1, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := Read(path, 0x22222222); err != ErrHomeIDMismatch {
		t.Fatalf("expected ErrHomeIDMismatch, got %v", err)
	}
}

func TestReadRejectsWrongNamespace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.xml")
	bad := []byte(`<?xml version="1.0"?><Driver xmlns="https://example.com" version="4" home_id="0x00000001" node_id="1"></Driver>`)
	if err := os.WriteFile(path, bad, 0o644); err != nil {
		t.Fatalf("write test fixture: %v", err)
	}
	if _, err := Read(path, 1); err != ErrWrongNamespace {
		t.Fatalf("expected ErrWrongNamespace, got %v", err)
	}
}
