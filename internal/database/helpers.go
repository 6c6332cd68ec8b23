package database

import (
	"database/sql"
	"strings"
	"time"
)

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableFloat64(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableTrimmedString(value *string) any {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return trimmed
}

func stringPtrFromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	value := ns.String
	return &value
}

func intPtrFromNull(ns sql.NullInt64) *int {
	if !ns.Valid {
		return nil
	}
	value := int(ns.Int64)
	return &value
}

func floatPtrFromNull(ns sql.NullFloat64) *float64 {
	if !ns.Valid {
		return nil
	}
	value := ns.Float64
	return &value
}

func timePtrFromNull(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	value := nt.Time
	return &value
}
