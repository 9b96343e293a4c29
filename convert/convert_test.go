package convert

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/pagemill/pagemill/store"
)

func init() {
	Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
}

// fakeRenderer returns preset pages without touching a real PDF engine.
type fakeRenderer struct {
	pages []image.Image
	err   error
	calls int
}

func (r *fakeRenderer) Render(pdf []byte) ([]image.Image, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.pages, nil
}

func (r *fakeRenderer) Close() error { return nil }

// memoryCache is a minimal ResultCache for orchestrator tests.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*Result
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]*Result)}
}

func (c *memoryCache) Get(ctx context.Context, fileID string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result, ok := c.entries[fileID]
	return result, ok
}

func (c *memoryCache) Put(ctx context.Context, fileID string, result *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fileID] = result
}

func uniformPage(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 40, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func newTestConverter(renderer *fakeRenderer) (*Converter, *store.MemoryStore, *memoryCache) {
	memStore := store.NewMemoryStore("http://localhost:8080")
	memCache := newMemoryCache()
	converter := &Converter{
		Store:       memStore,
		Renderer:    renderer,
		Cache:       memCache,
		MainSize:    2000,
		PreviewSize: 300,
		Quality:     85,
		Parallelism: 4,
	}
	return converter, memStore, memCache
}

func uploadSource(t *testing.T, memStore *store.MemoryStore, content string) string {
	t.Helper()
	fileID := store.NewFileID()
	if err := memStore.Put(context.Background(), store.SourceKey(fileID), []byte(content), "application/pdf"); err != nil {
		t.Fatalf("Failed to store source document: %v", err)
	}
	return fileID
}

func TestProcessOrderPreserved(t *testing.T) {
	renderer := &fakeRenderer{pages: []image.Image{
		uniformPage(color.RGBA{R: 255, A: 255}),
		uniformPage(color.RGBA{G: 255, A: 255}),
		uniformPage(color.RGBA{B: 255, A: 255}),
	}}
	converter, memStore, _ := newTestConverter(renderer)
	fileID := uploadSource(t, memStore, "%PDF-fake")

	result, err := converter.Process(context.Background(), fileID, "")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if result.PageCount != 3 {
		t.Fatalf("Expected 3 pages, got %d", result.PageCount)
	}
	if len(result.ImageURLs) != 3 || len(result.PreviewURLs) != 3 {
		t.Fatalf("URL lists not page-aligned: %d main, %d preview",
			len(result.ImageURLs), len(result.PreviewURLs))
	}
	for i, url := range result.ImageURLs {
		if url == "" {
			t.Errorf("Missing main URL for page %d", i+1)
		}
	}

	// Distinct pages must map to distinct objects
	seen := make(map[string]bool)
	for _, url := range result.ImageURLs {
		if seen[url] {
			t.Errorf("Distinct pages collapsed to the same URL: %s", url)
		}
		seen[url] = true
	}

	// Re-running the pipeline from scratch yields the same ordered URLs
	renderer2 := &fakeRenderer{pages: renderer.pages}
	converter2, memStore2, _ := newTestConverter(renderer2)
	fileID2 := uploadSource(t, memStore2, "%PDF-fake")
	result2, err := converter2.Process(context.Background(), fileID2, "")
	if err != nil {
		t.Fatalf("Second Process failed: %v", err)
	}
	for i := range result.ImageURLs {
		if result.ImageURLs[i] != result2.ImageURLs[i] {
			t.Errorf("Page %d URL not deterministic: %q vs %q",
				i+1, result.ImageURLs[i], result2.ImageURLs[i])
		}
	}
}

func TestProcessDeduplicatesIdenticalPages(t *testing.T) {
	samePage := uniformPage(color.RGBA{R: 200, G: 10, B: 10, A: 255})
	renderer := &fakeRenderer{pages: []image.Image{samePage, samePage}}
	converter, memStore, _ := newTestConverter(renderer)
	fileID := uploadSource(t, memStore, "%PDF-fake")

	result, err := converter.Process(context.Background(), fileID, "")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if result.PageCount != 2 {
		t.Fatalf("Expected 2 pages, got %d", result.PageCount)
	}
	if result.ImageURLs[0] != result.ImageURLs[1] {
		t.Error("Identical pages should map to the same URL")
	}
	if result.PreviewURLs[0] != result.PreviewURLs[1] {
		t.Error("Identical previews should map to the same URL")
	}

	// Source + one main + one preview: the second page hit the existence
	// check and was not stored twice
	if memStore.Len() != 3 {
		t.Errorf("Expected 3 stored objects (source, main, preview), got %d", memStore.Len())
	}
}

func TestProcessCrossUploadDeduplication(t *testing.T) {
	samePage := uniformPage(color.RGBA{R: 1, G: 2, B: 3, A: 255})

	rendererA := &fakeRenderer{pages: []image.Image{samePage}}
	converterA, memStoreA, _ := newTestConverter(rendererA)
	// Same backing store for a second, distinct upload
	rendererB := &fakeRenderer{pages: []image.Image{samePage}}
	converterB := &Converter{
		Store: memStoreA, Renderer: rendererB, Cache: newMemoryCache(),
		MainSize: 2000, PreviewSize: 300, Quality: 85, Parallelism: 4,
	}

	fileA := uploadSource(t, memStoreA, "%PDF-doc-a")
	fileB := uploadSource(t, memStoreA, "%PDF-doc-b")

	resultA, err := converterA.Process(context.Background(), fileA, "")
	if err != nil {
		t.Fatalf("Process A failed: %v", err)
	}
	resultB, err := converterB.Process(context.Background(), fileB, "")
	if err != nil {
		t.Fatalf("Process B failed: %v", err)
	}

	if resultA.ImageURLs[0] != resultB.ImageURLs[0] {
		t.Error("Identical page content across uploads should share one URL")
	}
	// Two sources, one main, one preview
	if memStoreA.Len() != 4 {
		t.Errorf("Expected 4 stored objects across both uploads, got %d", memStoreA.Len())
	}
}

func TestProcessCacheFastPath(t *testing.T) {
	renderer := &fakeRenderer{pages: []image.Image{uniformPage(color.White)}}
	converter, memStore, _ := newTestConverter(renderer)
	fileID := uploadSource(t, memStore, "%PDF-fake")

	first, err := converter.Process(context.Background(), fileID, "")
	if err != nil {
		t.Fatalf("First Process failed: %v", err)
	}
	storedAfterFirst := memStore.Len()

	second, err := converter.Process(context.Background(), fileID, "")
	if err != nil {
		t.Fatalf("Second Process failed: %v", err)
	}

	if renderer.calls != 1 {
		t.Errorf("Expected a single rasterization, renderer ran %d times", renderer.calls)
	}
	if memStore.Len() != storedAfterFirst {
		t.Error("Warm-cache call created additional store objects")
	}
	if first.PageCount != second.PageCount {
		t.Error("Cached result disagrees on page count")
	}
	for i := range first.ImageURLs {
		if first.ImageURLs[i] != second.ImageURLs[i] {
			t.Errorf("Cached result disagrees on page %d URL", i+1)
		}
	}
}

func TestProcessEmptyDocument(t *testing.T) {
	renderer := &fakeRenderer{pages: nil}
	converter, memStore, memCache := newTestConverter(renderer)
	fileID := uploadSource(t, memStore, "%PDF-empty")

	result, err := converter.Process(context.Background(), fileID, "")
	if err != nil {
		t.Fatalf("Empty document must not error: %v", err)
	}
	if result.PageCount != 0 || len(result.ImageURLs) != 0 || len(result.PreviewURLs) != 0 {
		t.Errorf("Expected empty result, got %+v", result)
	}
	if _, ok := memCache.Get(context.Background(), fileID); !ok {
		t.Error("Empty result should still be cached")
	}
}

func TestProcessUnknownFile(t *testing.T) {
	renderer := &fakeRenderer{pages: []image.Image{uniformPage(color.White)}}
	converter, _, _ := newTestConverter(renderer)

	_, err := converter.Process(context.Background(), store.NewFileID(), "")
	if err == nil {
		t.Fatal("Expected error for unknown file ID")
	}
	if KindOf(err) != KindNotFound {
		t.Errorf("Expected %s, got %s (%v)", KindNotFound, KindOf(err), err)
	}
	if renderer.calls != 0 {
		t.Error("Renderer must not run for an unknown file")
	}
}

func TestProcessConversionFailureNotCached(t *testing.T) {
	renderer := &fakeRenderer{err: errors.New("not a PDF")}
	converter, memStore, memCache := newTestConverter(renderer)
	fileID := uploadSource(t, memStore, "these are not PDF bytes")

	_, err := converter.Process(context.Background(), fileID, "")
	if err == nil {
		t.Fatal("Expected conversion failure")
	}
	if KindOf(err) != KindConversionFailed {
		t.Errorf("Expected %s, got %s (%v)", KindConversionFailed, KindOf(err), err)
	}
	if _, ok := memCache.Get(context.Background(), fileID); ok {
		t.Error("Failed conversion must not be cached")
	}

	// Only the source object exists; no partial page images were written
	if memStore.Len() != 1 {
		t.Errorf("Expected only the source object in the store, got %d", memStore.Len())
	}
}

func TestProcessTagsBestEffort(t *testing.T) {
	renderer := &fakeRenderer{pages: []image.Image{uniformPage(color.White)}}
	converter, memStore, _ := newTestConverter(renderer)
	fileID := uploadSource(t, memStore, "%PDF-fake")

	result, err := converter.Process(context.Background(), fileID, "203.0.113.9")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	key := strings.TrimPrefix(result.ImageURLs[0], "http://localhost:8080/blob/")
	if got := memStore.Tags(key)["source_ip"]; got != "203.0.113.9" {
		t.Errorf("Expected source_ip tag on stored image, got %q", got)
	}
}

func TestProcessTimeoutSurfacesAsTimeout(t *testing.T) {
	renderer := &fakeRenderer{pages: []image.Image{uniformPage(color.White)}}
	converter, memStore, memCache := newTestConverter(renderer)
	fileID := uploadSource(t, memStore, "%PDF-fake")
	converter.Store = &expiredStore{inner: memStore}

	_, err := converter.Process(context.Background(), fileID, "")
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if KindOf(err) != KindTimeout {
		t.Errorf("Expected %s, got %s (%v)", KindTimeout, KindOf(err), err)
	}
	if _, ok := memCache.Get(context.Background(), fileID); ok {
		t.Error("Timed-out conversion must not be cached")
	}
}

// expiredStore simulates a store whose calls exceed the execution budget.
type expiredStore struct {
	inner store.ObjectStore
}

func (s *expiredStore) NewUploadTarget(ctx context.Context) (string, string, error) {
	return s.inner.NewUploadTarget(ctx)
}

func (s *expiredStore) FetchSource(ctx context.Context, fileID string) ([]byte, error) {
	return s.inner.FetchSource(ctx, fileID)
}

func (s *expiredStore) Exists(ctx context.Context, key string) (bool, error) {
	return false, fmt.Errorf("stat: %w", context.DeadlineExceeded)
}

func (s *expiredStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return s.inner.Put(ctx, key, data, contentType)
}

func (s *expiredStore) PublicURL(key string) string { return s.inner.PublicURL(key) }

func (s *expiredStore) Tag(ctx context.Context, key string, attrs map[string]string) error {
	return s.inner.Tag(ctx, key, attrs)
}

func TestProcessConcurrentFirstRequests(t *testing.T) {
	page := uniformPage(color.RGBA{R: 9, G: 9, B: 9, A: 255})
	memStore := store.NewMemoryStore("http://localhost:8080")
	memCache := newMemoryCache()
	fileID := uploadSource(t, memStore, "%PDF-fake")

	// Two independent invocations racing on a cold cache
	results := make([]*Result, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			converter := &Converter{
				Store:       memStore,
				Renderer:    &fakeRenderer{pages: []image.Image{page}},
				Cache:       memCache,
				MainSize:    2000,
				PreviewSize: 300,
				Quality:     85,
				Parallelism: 4,
			}
			results[slot], errs[slot] = converter.Process(context.Background(), fileID, "")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Concurrent Process %d failed: %v", i, err)
		}
	}
	if results[0].PageCount != results[1].PageCount {
		t.Error("Racing conversions disagree on page count")
	}
	for i := range results[0].ImageURLs {
		if results[0].ImageURLs[i] != results[1].ImageURLs[i] {
			t.Errorf("Racing conversions disagree on page %d URL", i+1)
		}
	}
	// Whatever the interleaving, the content-addressed store holds exactly
	// source + main + preview
	if memStore.Len() != 3 {
		t.Errorf("Expected 3 stored objects after the race, got %d", memStore.Len())
	}
}
