// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package directory

import (
	"errors"
	"fmt"
	"net/http"

	"maunium.net/go/mautrix"
)

// Every failed call is classified into exactly one of these kinds. Callers
// branch with errors.Is:
//
//	if errors.Is(err, directory.ErrNotFound) { ... }
var (
	ErrConfigurationMissing = errors.New("homeserver url or appservice token not configured")
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrRemote               = errors.New("unexpected homeserver response")
	ErrTransport            = errors.New("homeserver request failed")
)

// Error is the structured failure returned by every Client call. It unwraps to
// its kind sentinel and, when present, to the underlying transport error.
type Error struct {
	Op         string
	Kind       error
	StatusCode int
	ErrCode    string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.ErrCode != "":
		return fmt.Sprintf("%s: %v (HTTP %d %s: %s)", e.Op, e.Kind, e.StatusCode, e.ErrCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %v (HTTP %d)", e.Op, e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// StatusCode returns the HTTP status carried by a directory error, or 0 when
// the call never got a response.
func StatusCode(err error) int {
	var dirErr *Error
	if errors.As(err, &dirErr) {
		return dirErr.StatusCode
	}
	return 0
}

// Outcome is the three-valued result of a convergence step such as join or
// invite. A Forbidden answer from the homeserver means the membership is
// already in place (or policy will never allow it), which is reported as
// AlreadySatisfied rather than as an error.
type Outcome int

const (
	Succeeded Outcome = iota
	AlreadySatisfied
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case AlreadySatisfied:
		return "already_satisfied"
	default:
		return "failed"
	}
}

// OutcomeOf folds a convergence call's error into an Outcome.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return Succeeded
	case errors.Is(err, ErrForbidden):
		return AlreadySatisfied
	default:
		return Failed
	}
}

// classify turns an error returned by mautrix into a directory *Error.
func classify(op string, err error) *Error {
	if err == nil {
		return nil
	}
	resp, respErr := httpResponse(err)
	if resp == nil {
		return &Error{Op: op, Kind: ErrTransport, Err: err}
	}
	dirErr := &Error{Op: op, StatusCode: resp.StatusCode}
	if respErr != nil {
		dirErr.ErrCode = respErr.ErrCode
		dirErr.Message = respErr.Err
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		dirErr.Kind = ErrNotFound
	case http.StatusForbidden:
		dirErr.Kind = ErrForbidden
	default:
		dirErr.Kind = ErrRemote
	}
	return dirErr
}

func httpResponse(err error) (*http.Response, *mautrix.RespError) {
	var httpErr mautrix.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Response, httpErr.RespError
	}
	var httpErrPtr *mautrix.HTTPError
	if errors.As(err, &httpErrPtr) && httpErrPtr != nil {
		return httpErrPtr.Response, httpErrPtr.RespError
	}
	return nil, nil
}
