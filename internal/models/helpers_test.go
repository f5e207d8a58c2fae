package models

import (
	"testing"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

func TestRecordIDString(t *testing.T) {
	got, err := RecordIDString(NewRecordID("task", "abc"))
	if err != nil || got != "abc" {
		t.Errorf("RecordIDString = %q, %v; want abc", got, err)
	}

	if _, err := RecordIDString(NewRecordID("question", int64(3))); err == nil {
		t.Error("expected error for integer id")
	}
}

func TestRecordIDInt(t *testing.T) {
	tests := []struct {
		name    string
		id      any
		want    int64
		wantErr bool
	}{
		{"int64", int64(42), 42, false},
		{"int", 7, 7, false},
		{"uint64 from cbor", uint64(9), 9, false},
		{"float", float64(12), 12, false},
		{"string", "12", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RecordIDInt(surrealmodels.RecordID{Table: "question", ID: tt.id})
			if (err != nil) != tt.wantErr {
				t.Fatalf("RecordIDInt err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("RecordIDInt = %d, want %d", got, tt.want)
			}
		})
	}
}
