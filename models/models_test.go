package models

import (
	"errors"
	"testing"

	"github.com/use-agent/pagelift/settings"
)

func TestSettingsOverrideApply(t *testing.T) {
	off := false
	o := &SettingsOverride{
		Enabled:  &off,
		Features: map[string]bool{"lazyLoad": false, "disableAnimations": true},
	}
	got, err := o.Apply(settings.Defaults())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.Enabled() {
		t.Error("master switch should be off")
	}
	if got.Feature(settings.LazyLoad) || !got.Feature(settings.DisableAnimations) {
		t.Errorf("features not applied: %v", got.Features())
	}
	if !got.Feature(settings.ResourceHints) {
		t.Error("untouched feature lost its default")
	}

	var nilOverride *SettingsOverride
	if s, _ := nilOverride.Apply(settings.Defaults()); !s.Equal(settings.Defaults()) {
		t.Error("nil override should return the base")
	}
}

func TestSettingsOverrideRejectsUnknown(t *testing.T) {
	o := &SettingsOverride{Features: map[string]bool{"teleport": true}}
	base := settings.Defaults()
	got, err := o.Apply(base)
	if err == nil {
		t.Fatal("expected error for unknown feature")
	}
	if !got.Equal(base) {
		t.Error("base must be returned unchanged on error")
	}
}

func TestBatchJobStatus(t *testing.T) {
	j := NewBatchJob("batch-1", 3, 0)
	if st := j.Status(); st.Status != BatchProcessing || st.Completed != 0 {
		t.Fatalf("initial status = %+v", st)
	}
	j.Record(0, &OptimizeResponse{Success: true})
	j.Record(2, &OptimizeResponse{Success: false})
	if got := j.Status().Completed; got != 2 {
		t.Errorf("Completed = %d, want 2", got)
	}
	j.Record(1, &OptimizeResponse{Success: true})
	if got := j.Finish(); got != BatchPartial {
		t.Errorf("Finish = %q, want %q", got, BatchPartial)
	}

	all := NewBatchJob("batch-2", 1, 0)
	all.Record(0, &OptimizeResponse{})
	if got := all.Finish(); got != BatchFailed {
		t.Errorf("Finish = %q, want %q", got, BatchFailed)
	}
}

func TestOptimizeErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewOptimizeError(ErrCodeParse, "bad markup", cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is should see the wrapped cause")
	}
	if d := err.ToDetail(); d.Code != ErrCodeParse || d.Message != "bad markup" {
		t.Errorf("ToDetail = %+v", d)
	}
}
