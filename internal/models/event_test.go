package models

import (
	"math"
	"testing"
	"time"
)

func TestEventValidation(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{
			name: "valid event",
			event: Event{
				Timestamp: "2024-01-30T10:45:00Z",
				Type:      "sensor_reading",
				Value:     42.5,
				Metadata:  map[string]string{"sensor_id": "temp-001"},
			},
			wantErr: false,
		},
		{
			name:    "missing timestamp",
			event:   Event{Type: "t", Value: 1},
			wantErr: true,
		},
		{
			name:    "missing type",
			event:   Event{Timestamp: "2024-01-30T10:45:00Z", Value: 1},
			wantErr: true,
		},
		{
			name:    "NaN value",
			event:   Event{Timestamp: "2024-01-30T10:45:00Z", Type: "t", Value: math.NaN()},
			wantErr: true,
		},
		{
			name:    "infinite value",
			event:   Event{Timestamp: "2024-01-30T10:45:00Z", Type: "t", Value: math.Inf(1)},
			wantErr: true,
		},
		{
			name:    "zero value is valid",
			event:   Event{Timestamp: "2024-01-30T10:45:00Z", Type: "t", Value: 0},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnrich(t *testing.T) {
	event := Event{
		Timestamp: "2024-01-30T10:45:00Z",
		Type:      "sensor_reading",
		Value:     42.5,
		Metadata:  map[string]string{"location": "server-room"},
	}

	now := time.Date(2024, 1, 30, 10, 46, 0, 0, time.UTC)
	fields := event.Enrich(now)

	if fields[FieldTimestamp] != "2024-01-30T10:45:00Z" {
		t.Errorf("unexpected timestamp: %q", fields[FieldTimestamp])
	}
	if fields[FieldType] != "sensor_reading" {
		t.Errorf("unexpected type: %q", fields[FieldType])
	}
	if fields[FieldValue] != "42.5" {
		t.Errorf("unexpected value: %q", fields[FieldValue])
	}
	if fields[FieldProcessed] != "false" {
		t.Errorf("expected processed=false, got %q", fields[FieldProcessed])
	}
	if fields[FieldIngestedAt] != "2024-01-30T10:46:00Z" {
		t.Errorf("unexpected ingested_at: %q", fields[FieldIngestedAt])
	}
	if fields[MetadataPrefix+"location"] != "server-room" {
		t.Errorf("metadata not carried through: %v", fields)
	}
}

func TestHasRequiredFields(t *testing.T) {
	complete := map[string]string{
		FieldTimestamp: "2024-01-30T10:45:00Z",
		FieldType:      "t",
		FieldValue:     "1",
	}
	if !HasRequiredFields(complete) {
		t.Error("expected complete fields to pass")
	}

	for _, missing := range []string{FieldTimestamp, FieldType, FieldValue} {
		fields := CopyFields(complete)
		delete(fields, missing)
		if HasRequiredFields(fields) {
			t.Errorf("expected fields without %q to fail", missing)
		}
	}
}

func TestParseValue(t *testing.T) {
	v, err := ParseValue(map[string]string{FieldValue: "42.5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42.5 {
		t.Errorf("expected 42.5, got %f", v)
	}

	if _, err := ParseValue(map[string]string{FieldValue: "not-a-number"}); err == nil {
		t.Error("expected error for non-numeric value")
	}
	if _, err := ParseValue(map[string]string{}); err == nil {
		t.Error("expected error for missing value")
	}
}

func TestRetryCount(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		want   int
	}{
		{"absent", map[string]string{}, 0},
		{"present", map[string]string{FieldRetryCount: "2"}, 2},
		{"garbage", map[string]string{FieldRetryCount: "x"}, 0},
		{"negative", map[string]string{FieldRetryCount: "-1"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RetryCount(tt.fields); got != tt.want {
				t.Errorf("RetryCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCopyFieldsIsIndependent(t *testing.T) {
	original := map[string]string{"a": "1"}
	copied := CopyFields(original)
	copied["a"] = "2"
	copied["b"] = "3"

	if original["a"] != "1" {
		t.Error("copy mutated the original")
	}
	if _, ok := original["b"]; ok {
		t.Error("copy leaked a new key into the original")
	}
}
