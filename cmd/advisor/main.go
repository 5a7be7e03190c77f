// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

// Command advisor runs the Fiscalia query routing service: tiered
// classification, budget-aware routing, multi-agent orchestration and
// progressive enhancement behind one HTTP API.
package main

import "fiscalia/platform/advisor"

func main() {
	advisor.Run()
}
