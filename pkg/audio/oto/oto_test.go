package oto

import (
	"bytes"
	"io"
	"testing"
)

func TestLoopReader_Once(t *testing.T) {
	r := &loopReader{data: []byte{1, 2, 3, 4}}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("got %v", got)
	}
	if !r.exhausted() {
		t.Error("expected reader to be exhausted")
	}
}

func TestLoopReader_Wraps(t *testing.T) {
	r := &loopReader{data: []byte{1, 2, 3}, loop: true}
	buf := make([]byte, 8)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []byte{1, 2, 3, 1, 2, 3, 1, 2}
	if n != len(want) || !bytes.Equal(buf, want) {
		t.Errorf("got %v (n=%d), want %v", buf[:n], n, want)
	}
	if r.exhausted() {
		t.Error("looping reader must never be exhausted")
	}
}

func TestLoopReader_SeekRewinds(t *testing.T) {
	r := &loopReader{data: []byte{9, 8}}
	_, _ = io.ReadAll(r)
	if pos, err := r.Seek(0, io.SeekStart); err != nil || pos != 0 {
		t.Fatalf("Seek = %d, %v", pos, err)
	}
	if r.exhausted() {
		t.Error("rewound reader reported exhausted")
	}
	if _, err := r.Seek(-1, io.SeekStart); err == nil {
		t.Error("expected error for negative position")
	}
}

func TestLoopReader_Empty(t *testing.T) {
	r := &loopReader{loop: true}
	if _, err := r.Read(make([]byte, 4)); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}
