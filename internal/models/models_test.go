package models

import (
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	if got := f.Type.String(); got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestTenant_Fields(t *testing.T) {
	typ := reflect.TypeOf(Tenant{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "size:64")
	assertGormTag(t, typ, "DailyLimit", "not null")

	assertFieldType(t, typ, "ID", "string")
	assertFieldType(t, typ, "DailyLimit", "int")
	assertFieldType(t, typ, "CreatedAt", "time.Time")
}

func TestSendRecord_Fields(t *testing.T) {
	typ := reflect.TypeOf(SendRecord{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "autoIncrement")
	assertGormTag(t, typ, "TenantID", "not null")
	assertGormTag(t, typ, "TenantID", "index:idx_tenant_sent")
	assertGormTag(t, typ, "SentAt", "index:idx_tenant_sent")
	assertGormTag(t, typ, "JobID", "index")
	assertGormTag(t, typ, "Message", "type:text")
	assertGormTag(t, typ, "Error", "type:text")
	assertGormTag(t, typ, "Status", "default:sent")

	assertFieldType(t, typ, "Success", "bool")
	assertFieldType(t, typ, "SentAt", "time.Time")
}

func TestDispatchJob_Fields(t *testing.T) {
	typ := reflect.TypeOf(DispatchJob{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "size:36")
	assertGormTag(t, typ, "TenantID", "index")
	assertGormTag(t, typ, "AbortReason", "type:text")

	assertFieldType(t, typ, "FinishedAt", "*time.Time")
	assertFieldType(t, typ, "Aborted", "bool")
}

func TestSendStatuses(t *testing.T) {
	seen := map[string]bool{}
	for _, s := range []string{StatusSent, StatusFailed, StatusSkipped} {
		if s == "" || seen[s] {
			t.Errorf("status %q is empty or duplicated", s)
		}
		seen[s] = true
	}
}
