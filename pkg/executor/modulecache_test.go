package executor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cuemby/warpengine/pkg/model"
)

func TestDiskModuleCachePutGetDelete(t *testing.T) {
	c, err := NewDiskModuleCache(filepath.Join(t.TempDir(), "modules"))
	if err != nil {
		t.Fatalf("NewDiskModuleCache returned error: %v", err)
	}

	if _, ok, err := c.Get("src-a"); err != nil || ok {
		t.Fatalf("expected no entry for src-a, got ok=%v err=%v", ok, err)
	}

	if err := c.Put("src-a", []byte("compiled-bytes")); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	data, ok, err := c.Get("src-a")
	if err != nil || !ok {
		t.Fatalf("expected cached entry, got ok=%v err=%v", ok, err)
	}
	if string(data) != "compiled-bytes" {
		t.Fatalf("unexpected data: %s", data)
	}

	if err := c.Delete("src-a"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, ok, _ := c.Get("src-a"); ok {
		t.Fatal("expected entry to be gone after Delete")
	}
}

func TestDiskModuleCachePutIsIdempotent(t *testing.T) {
	c, err := NewDiskModuleCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskModuleCache returned error: %v", err)
	}
	if err := c.Put("src-a", []byte("v1")); err != nil {
		t.Fatalf("first Put failed: %v", err)
	}
	if err := c.Put("src-a", []byte("v1")); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	data, ok, err := c.Get("src-a")
	if err != nil || !ok || string(data) != "v1" {
		t.Fatalf("unexpected state after repeated Put: data=%s ok=%v err=%v", data, ok, err)
	}
}

func TestCachingFactoryWritesThroughToModuleCache(t *testing.T) {
	builds := 0
	f := NewFactory()
	f.Register(stubPlugin{contractType: model.ContractTypeJS, builds: &builds})
	cf := NewCachingFactory(f)

	mc, err := NewDiskModuleCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskModuleCache returned error: %v", err)
	}
	cf.SetModuleCache(mc)

	src := model.Source{SrcTxID: "src-a", Type: model.ContractTypeJS, Code: "module.exports = {}"}
	if _, err := cf.Build(context.Background(), src); err != nil {
		t.Fatalf("Build returned error: %v", err)
	}

	data, ok, err := cf.CachedModule("src-a")
	if err != nil || !ok {
		t.Fatalf("expected module to be persisted, got ok=%v err=%v", ok, err)
	}
	if string(data) != src.Code {
		t.Fatalf("unexpected persisted module bytes: %s", data)
	}

	if _, err := cf.Build(context.Background(), src); err != nil {
		t.Fatalf("second Build returned error: %v", err)
	}
	if builds != 1 {
		t.Fatalf("expected plugin to compile once due to in-memory cache, got %d calls", builds)
	}
}

func TestCachingFactoryWithoutModuleCacheStillWorks(t *testing.T) {
	builds := 0
	f := NewFactory()
	f.Register(stubPlugin{contractType: model.ContractTypeJS, builds: &builds})
	cf := NewCachingFactory(f)

	src := model.Source{SrcTxID: "src-a", Type: model.ContractTypeJS, Code: "module.exports = {}"}
	if _, err := cf.Build(context.Background(), src); err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if _, ok, err := cf.CachedModule("src-a"); err != nil || ok {
		t.Fatalf("expected no module cache entry without SetModuleCache, got ok=%v err=%v", ok, err)
	}
}
