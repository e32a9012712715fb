// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package validation

import (
	"errors"
	"strings"
	"testing"
)

type matchPayload struct {
	FileName string `validate:"required"`
	Requests []int  `validate:"max=32"`
}

func TestValidateStructPasses(t *testing.T) {
	err := ValidateStruct(matchPayload{FileName: "[Sub] Frieren - 01.mkv"})
	if err != nil {
		t.Fatalf("valid struct rejected: %v", err)
	}
}

func TestValidateStructReportsFields(t *testing.T) {
	err := ValidateStruct(matchPayload{Requests: make([]int, 33)})
	if err == nil {
		t.Fatal("expected a validation error")
	}

	var reqErr *RequestValidationError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error type = %T, want *RequestValidationError", err)
	}
	if len(reqErr.Errors) != 2 {
		t.Fatalf("field errors = %d, want 2", len(reqErr.Errors))
	}

	byField := map[string]ValidationError{}
	for _, fe := range reqErr.Errors {
		byField[fe.Field] = fe
	}
	if fe, ok := byField["FileName"]; !ok || fe.Tag != "required" {
		t.Errorf("FileName error = %+v, want required tag", fe)
	}
	if fe, ok := byField["Requests"]; !ok || !strings.Contains(fe.Message, "at most 32") {
		t.Errorf("Requests error = %+v, want max message", fe)
	}
}

func TestValidateStructNonStruct(t *testing.T) {
	if err := ValidateStruct(42); err == nil {
		t.Fatal("expected an error for a non-struct value")
	}
}

func TestRequestValidationErrorMessage(t *testing.T) {
	err := &RequestValidationError{Errors: []ValidationError{
		{Field: "FileName", Tag: "required", Message: "FileName is required"},
		{Field: "Requests", Tag: "max", Message: "Requests must be at most 32"},
	}}
	msg := err.Error()
	if !strings.Contains(msg, "FileName is required") || !strings.Contains(msg, "at most 32") {
		t.Errorf("message = %q, want both field messages joined", msg)
	}
}
