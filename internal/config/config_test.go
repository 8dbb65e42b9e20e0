package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestUpdatePersistsAndInstalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatalf("save: %v", err)
	}
	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	next := DefaultConfig()
	next.API.Addr = ":9090"
	next.LogLevel = "debug"
	if err := mgr.Update(next); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := mgr.Get().API.Addr; got != ":9090" {
		t.Fatalf("installed addr: %s", got)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if reloaded.API.Addr != ":9090" || reloaded.LogLevel != "debug" {
		t.Fatalf("persisted config not written back: %+v", reloaded)
	}
}

func TestUpdateRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatalf("save: %v", err)
	}
	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	bad := DefaultConfig()
	bad.Storage.Enabled = true
	bad.Storage.Driver = "oracle"
	if err := mgr.Update(bad); err == nil {
		t.Fatalf("expected validation error")
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(before) != string(after) {
		t.Fatalf("rejected update touched the file")
	}
}

func TestUpdateOnStaticManager(t *testing.T) {
	mgr := NewStaticManager(nil)
	next := DefaultConfig()
	next.Alerts.StoreLimit = 25
	if err := mgr.Update(next); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := mgr.Get().Alerts.StoreLimit; got != 25 {
		t.Fatalf("installed limit: %d", got)
	}
}
