// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

//go:build tools

// Package main pins tool dependencies to go.mod.
// Integration suites run with: go run github.com/onsi/ginkgo/v2/ginkgo -tags integration ./...
package main

import (
	_ "github.com/onsi/ginkgo/v2/ginkgo"
)
