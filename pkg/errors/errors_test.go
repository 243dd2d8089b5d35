package errors

import (
	"errors"
	"io/fs"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpErrorMatchesKindAndCause(t *testing.T) {
	err := IO("open segment", "/tmp/x.spdx", fs.ErrNotExist)

	assert.True(t, errors.Is(err, ErrIO))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.False(t, errors.Is(err, ErrParse))
	assert.Equal(t, "open segment /tmp/x.spdx: file does not exist", err.Error())
}

func TestOpWithoutPath(t *testing.T) {
	err := Op(ErrInvalidState, "add document", "writer already committed")
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, "add document: writer already committed", err.Error())
}

func TestHTTPStatusCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"parse", Op(ErrParse, "parse", "bad"), http.StatusBadRequest},
		{"not found", IO("x", "", ErrNotFound), http.StatusNotFound},
		{"lock", &OpError{Kind: ErrLockContention, Op: "lock"}, http.StatusConflict},
		{"timeout", ErrTimeout, http.StatusServiceUnavailable},
		{"unavailable", ErrUnavailable, http.StatusServiceUnavailable},
		{"io", IO("write", "p", errors.New("disk full")), http.StatusInternalServerError},
		{"app error", New(ErrInvalidInput, http.StatusTeapot, "x"), http.StatusTeapot},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatusCode(tc.err))
		})
	}
}
