package logger

import "testing"

func TestNew_Modes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", "test", ""} {
		t.Run(mode, func(t *testing.T) {
			log, err := New(mode)
			if err != nil {
				t.Fatalf("New(%q) failed: %v", mode, err)
			}
			child := log.With("component", "test")
			child.Debug("debug", "k", 1)
			child.Info("info")
		})
	}
}
