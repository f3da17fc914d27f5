// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Error("NewClient accepted empty homeserver URL")
	}
}

func TestNewClientTrimsTrailingSlash(t *testing.T) {
	client, err := NewClient(ClientConfig{HomeserverURL: "https://matrix.example.org/"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if client.baseURL != "https://matrix.example.org" {
		t.Errorf("baseURL = %q", client.baseURL)
	}
}

func TestDoRequestMatrixError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{
			"errcode": "M_FORBIDDEN",
			"error":   "You are not in the room",
		})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.doRequest(context.Background(), http.MethodGet, "/_matrix/client/v3/sync", "token", nil)
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		t.Fatalf("error = %v, want *MatrixError", err)
	}
	if matrixErr.Code != ErrCodeForbidden {
		t.Errorf("Code = %q, want %q", matrixErr.Code, ErrCodeForbidden)
	}
	if matrixErr.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want %d", matrixErr.StatusCode, http.StatusForbidden)
	}
	if !IsMatrixError(err, ErrCodeForbidden) {
		t.Error("IsMatrixError did not match the code")
	}
	if IsMatrixError(err, ErrCodeNotFound) {
		t.Error("IsMatrixError matched the wrong code")
	}
}

func TestDoRequestNonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unreachable"))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.doRequest(context.Background(), http.MethodGet, "/_matrix/client/v3/sync", "", nil)
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		t.Error("non-JSON error body produced a *MatrixError")
	}
}

func TestDoRequestSendsAuthorization(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if _, err := client.doRequest(context.Background(), http.MethodGet, "/x", "secret-token", nil); err != nil {
		t.Fatalf("doRequest: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}
