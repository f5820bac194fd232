package storage

import (
	"bytes"
	"io"
	"sort"
	"testing"
)

func TestLocalProviderRoundTrip(t *testing.T) {
	p := NewLocalProvider(t.TempDir())

	data := []byte("mixed audio bytes")
	if err := p.Put("guild1/sess1.mp3", bytes.NewReader(data), "audio/mpeg"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	exists, err := p.Exists("guild1/sess1.mp3")
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Error("Expected key to exist after Put")
	}

	obj, err := p.Get("guild1/sess1.mp3")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer obj.Body.Close()

	if obj.ContentLength != int64(len(data)) {
		t.Errorf("Expected content length %d, got %d", len(data), obj.ContentLength)
	}
	got, err := io.ReadAll(obj.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("Stored bytes corrupted in round trip")
	}
}

func TestLocalProviderDelete(t *testing.T) {
	p := NewLocalProvider(t.TempDir())

	if err := p.Put("a.mp3", bytes.NewReader([]byte("x")), "audio/mpeg"); err != nil {
		t.Fatal(err)
	}
	if err := p.Delete("a.mp3"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	exists, err := p.Exists("a.mp3")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("Key should not exist after Delete")
	}
}

func TestLocalProviderList(t *testing.T) {
	p := NewLocalProvider(t.TempDir())

	for _, key := range []string{"guild1/a.mp3", "guild1/b.mp3", "guild2/c.mp3"} {
		if err := p.Put(key, bytes.NewReader([]byte("x")), "audio/mpeg"); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := p.List("guild1/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	sort.Strings(keys)

	want := []string{"guild1/a.mp3", "guild1/b.mp3"}
	if len(keys) != len(want) {
		t.Fatalf("Expected %d keys, got %d: %v", len(want), len(keys), keys)
	}
	for i, k := range want {
		if keys[i] != k {
			t.Errorf("Expected key %s, got %s", k, keys[i])
		}
	}
}
