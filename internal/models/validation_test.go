package models

import (
	"errors"
	"testing"
)

func TestValidationErrorsIs(t *testing.T) {
	validation := &ValidationErrors{}
	validation.Add("title", ErrInvalidHostTitle)

	err := validation.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrInvalidHostTitle) {
		t.Fatalf("expected errors.Is to match ErrInvalidHostTitle, got %v", err)
	}
}

func TestValidationErrorsNestedFields(t *testing.T) {
	nested := &ValidationErrors{}
	nested.AddMessage("localPath", "localPath is required")

	validation := &ValidationErrors{}
	validation.Add("config", nested)

	err := validation.Err()
	if err == nil {
		t.Fatal("expected error")
	}

	list, ok := err.(*ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors type, got %T", err)
	}
	if len(list.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(list.Errors))
	}
	if list.Errors[0].Field != "config.localPath" {
		t.Fatalf("expected field config.localPath, got %q", list.Errors[0].Field)
	}
}
