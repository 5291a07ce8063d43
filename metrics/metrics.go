// Copyright 2026 The l2sequencer Authors
// This file is part of the l2sequencer library.
//
// The l2sequencer library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The l2sequencer library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.

// Package metrics provides general system and process level metrics collection,
// modeled closely on go-ethereum's own metrics package: counters, gauges and
// histograms registered in a process-wide Registry and exported for scraping.
package metrics

import "os"

// Enabled is checked by the constructors for all of the standard metrics. If
// it is false, the metric object given in the return value will be a stub
// instead of the actual metric.
var Enabled = os.Getenv("METRICS_DISABLE") == ""

// EnabledExpensive is a soft-flag meant for external packages to check if
// expensive metrics gathering is allowed or not. The goal is to separate
// standard metrics for health monitoring and debug metrics that might impact
// runtime performance.
var EnabledExpensive = false

// Enable enables the metrics system by setting Enabled; it leaves
// EnabledExpensive unchanged.
func Enable() {
	Enabled = true
}
