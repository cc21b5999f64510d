package rom

import (
	"sync"
	"testing"
)

func testConfig() Config {
	return Config{Size: 1 << 16, PreSize: 1 << 12, MixingNumbers: 2}
}

func TestCacheGetOrBuildCaches(t *testing.T) {
	c := NewCache(testConfig())
	r1, err := c.GetOrBuild("key-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r2, err := c.GetOrBuild("key-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r1 != r2 {
		t.Fatal("expected same ROM instance on second fetch")
	}
}

func TestCacheConcurrentBuildsForDifferentKeysDontBlock(t *testing.T) {
	c := NewCache(testConfig())
	var wg sync.WaitGroup
	keys := []string{"a", "b", "c", "d"}
	errs := make([]error, len(keys))
	for i, k := range keys {
		wg.Add(1)
		go func(i int, k string) {
			defer wg.Done()
			_, err := c.GetOrBuild(k)
			errs[i] = err
		}(i, k)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("key %s: unexpected error: %v", keys[i], err)
		}
	}
	if len(c.Keys()) != 4 {
		t.Fatalf("expected 4 cached keys, got %d", len(c.Keys()))
	}
}

func TestCacheMaintainDropsUnneeded(t *testing.T) {
	c := NewCache(testConfig())
	c.GetOrBuild("keep")
	c.GetOrBuild("drop")
	c.Maintain([]string{"keep"})
	keys := c.Keys()
	if len(keys) != 1 || keys[0] != "keep" {
		t.Fatalf("expected only 'keep' to remain, got %v", keys)
	}
}

func TestCacheStatusReportsSizes(t *testing.T) {
	c := NewCache(testConfig())
	c.GetOrBuild("key")
	status := c.Status()
	if status["key"] != int64(testConfig().Size) {
		t.Fatalf("expected size %d, got %d", testConfig().Size, status["key"])
	}
}
