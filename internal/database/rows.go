package database

import (
	"database/sql"
	"fmt"
	"reflect"
)

// taggedFields maps db tag to field index for a struct type.
func taggedFields(t reflect.Type) map[string]int {
	out := make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if tag := t.Field(i).Tag.Get("db"); tag != "" && tag != "-" {
			out[tag] = i
		}
	}
	return out
}

func insertColumns(record interface{}) (cols []string, vals []interface{}) {
	v := reflect.Indirect(reflect.ValueOf(record))
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		if tag == "id" && v.Field(i).IsZero() {
			continue
		}
		cols = append(cols, tag)
		vals = append(vals, v.Field(i).Interface())
	}
	return cols, vals
}

// targets returns one scan destination per column. Columns without a
// matching field are read and discarded.
func targets(elem reflect.Value, fields map[string]int, cols []string) []interface{} {
	out := make([]interface{}, len(cols))
	for i, c := range cols {
		if idx, ok := fields[c]; ok {
			out[i] = elem.Field(idx).Addr().Interface()
			continue
		}
		var discard interface{}
		out[i] = &discard
	}
	return out
}

func scanAll(rows *sql.Rows, dest interface{}) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("select: dest must be a pointer to a slice, got %T", dest)
	}
	slice := dv.Elem()
	elemType := slice.Type().Elem()
	byPtr := elemType.Kind() == reflect.Ptr
	if byPtr {
		elemType = elemType.Elem()
	}

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	fields := taggedFields(elemType)
	for rows.Next() {
		elem := reflect.New(elemType).Elem()
		if err := rows.Scan(targets(elem, fields, cols)...); err != nil {
			return err
		}
		if byPtr {
			slice.Set(reflect.Append(slice, elem.Addr()))
		} else {
			slice.Set(reflect.Append(slice, elem))
		}
	}
	return rows.Err()
}

func scanOne(rows *sql.Rows, dest interface{}) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("get: dest must be a pointer to a struct, got %T", dest)
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	elem := dv.Elem()
	return rows.Scan(targets(elem, taggedFields(elem.Type()), cols)...)
}
