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

package request

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// StatusError is returned by Call when the server answers outside the 2xx range.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// ToJsonReq converts a Go object to a JSON-encoded HTTP request payload.
func ToJsonReq(payload interface{}) (*bytes.Buffer, error) {
	c, e := json.Marshal(payload)
	if e != nil {
		return nil, e
	}
	return bytes.NewBuffer(c), nil
}

// Call sends req with a default client. See Do.
func Call(req *http.Request, response interface{}) (*http.Response, error) {
	return Do(&http.Client{}, req, response)
}

// Do sends a JSON request with the given client and decodes the JSON answer into
// response. A nil response discards the body, and an empty body is not an error.
// Non 2xx answers yield a *StatusError.
func Do(client *http.Client, req *http.Request, response interface{}) (*http.Response, error) {
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return resp, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if response == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp, nil
	}

	err = json.NewDecoder(resp.Body).Decode(response)
	if err != nil && !errors.Is(err, io.EOF) {
		return resp, err
	}
	return resp, nil
}
