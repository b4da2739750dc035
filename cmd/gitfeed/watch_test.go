package main

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jpalmerr/gitfeed"
)

func TestRunWatch_PrintsNewEvents(t *testing.T) {
	configPath, cacheDir := writeConfig(t, "")
	historyPath := filepath.Join(cacheDir, "events.json")
	seedHistory(t, gitfeed.StorageFile, historyPath, testEvents("1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- executeCmd(t, ctx, &out, "watch", "-c", configPath)
	}()

	// the watch may not be registered yet; keep prepending until it reports
	deadline := time.Now().Add(5 * time.Second)
	for i := 0; !strings.Contains(out.String(), "user-n"); i++ {
		if time.Now().After(deadline) {
			cancel()
			<-done
			t.Fatalf("timeout waiting for new event, output: %q", out.String())
		}
		seedHistory(t, gitfeed.StorageFile, historyPath, testEvents(fmt.Sprintf("n%d", i), "1"))
		time.Sleep(100 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("watch command error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not return after cancellation")
	}

	output := out.String()
	if strings.Contains(output, "user-1\t") {
		t.Errorf("output = %q, already known events should not be printed", output)
	}
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if strings.Count(output, line) != 1 {
			t.Errorf("line %q printed more than once", line)
		}
	}
}

func TestNewEvents(t *testing.T) {
	tests := []struct {
		name string
		prev []string
		next []string
		want []string
	}{
		{"all new", nil, []string{"2", "1"}, []string{"2", "1"}},
		{"prepended", []string{"1"}, []string{"3", "2", "1"}, []string{"3", "2"}},
		{"unchanged", []string{"2", "1"}, []string{"2", "1"}, nil},
		{"truncated tail", []string{"2", "1"}, []string{"3", "2"}, []string{"3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, ev := range newEvents(testEvents(tt.prev...), testEvents(tt.next...)) {
				got = append(got, ev.ID)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("newEvents() = %v, want %v", got, tt.want)
			}
		})
	}
}
