package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("amount must be positive"), http.StatusBadRequest},
		{Forbidden("not owner"), http.StatusForbidden},
		{NotFound("missing"), http.StatusNotFound},
		{Conflict(nil, "busy"), http.StatusConflict},
		{Internal(errors.New("boom"), "store"), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", Conflict(nil, "busy")), http.StatusConflict},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}

func TestUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("queue down")
	err := Internal(cause, "enqueue failed")
	if !errors.Is(err, cause) {
		t.Fatal("expected cause in chain")
	}
	if !IsKind(err, KindInternal) || IsKind(err, KindConflict) {
		t.Fatal("unexpected kind match")
	}
}
