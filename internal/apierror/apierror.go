/*
Copyright 2024 Stamp Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound        ErrorCode = "NOT_FOUND"
	ErrConflict        ErrorCode = "CONFLICT"
	ErrBadRequest      ErrorCode = "BAD_REQUEST"
	ErrInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
	ErrInternalServer  ErrorCode = "INTERNAL_SERVER_ERROR"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes Details when it is itself an error, so errors.Is and errors.As
// reach the driver or domain cause.
func (e APIError) Unwrap() error {
	if err, ok := e.Details.(error); ok {
		return err
	}
	return nil
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	if code == ErrInternalServer {
		logrus.Error(details)
	} else if details != nil {
		logrus.Debug(details)
	}
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Is reports whether err, or any error it wraps, is an APIError with the given code.
func Is(err error, code ErrorCode) bool {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

func MapErrorToHTTPStatus(err error) int {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrNotFound:
			return http.StatusNotFound
		case ErrConflict:
			return http.StatusConflict
		case ErrInvalidInput, ErrBadRequest:
			return http.StatusBadRequest
		case ErrUnauthorized:
			return http.StatusUnauthorized
		case ErrTooManyRequests:
			return http.StatusTooManyRequests
		case ErrInternalServer:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
