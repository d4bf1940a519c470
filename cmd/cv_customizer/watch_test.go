package main

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWatcher_RerunsOnChange(t *testing.T) {
	dir := t.TempDir()
	cv := writeFile(t, dir, "cv.tex", sampleCV)
	job := writeFile(t, dir, "job.txt", "Go engineer")
	writeFile(t, dir, "unrelated.txt", "x")

	var runs int32
	w := &fileWatcher{
		paths:    []string{cv, job},
		debounce: 100 * time.Millisecond,
		logger:   logger,
		run: func(context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 1 }, 2*time.Second, 10*time.Millisecond)

	// Unrelated files are ignored
	require.NoError(t, os.WriteFile(dir+"/unrelated.txt", []byte("y"), 0644))
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))

	// A burst of saves triggers one run
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(job, []byte("Go engineer v2"), 0644))
		time.Sleep(10 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestFileWatcher_RunErrorsDoNotStop(t *testing.T) {
	dir := t.TempDir()
	cv := writeFile(t, dir, "cv.tex", sampleCV)

	var runs int32
	w := &fileWatcher{
		paths:    []string{cv},
		debounce: 50 * time.Millisecond,
		logger:   logger,
		run: func(context.Context) error {
			atomic.AddInt32(&runs, 1)
			return errors.New("backend failure")
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Watch(ctx) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, os.WriteFile(cv, []byte(sampleCV+"% edit\n"), 0644))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestFileWatcher_MissingDirectory(t *testing.T) {
	w := &fileWatcher{
		paths:  []string{"/nonexistent/dir/cv.tex"},
		logger: logger,
		run:    func(context.Context) error { return nil },
	}
	assert.Error(t, w.Watch(context.Background()))
}
