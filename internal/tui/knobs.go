// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"

	"reactor/internal/config"
)

// knob is one analyzer field the monitor can nudge.
type knob struct {
	name string
	unit string
	step float64
	get  func(config.AnalyzerConfig) float64
	set  func(*config.AnalyzerConfig, float64)
}

var analyzerKnobs = []knob{
	{
		name: "Energy threshold",
		step: 0.01,
		get:  func(c config.AnalyzerConfig) float64 { return c.EnergyThreshold },
		set:  func(c *config.AnalyzerConfig, v float64) { c.EnergyThreshold = v },
	},
	{
		name: "Beat sensitivity",
		step: 0.1,
		get:  func(c config.AnalyzerConfig) float64 { return c.BeatSensitivity },
		set:  func(c *config.AnalyzerConfig, v float64) { c.BeatSensitivity = v },
	},
	{
		name: "Analyze interval",
		unit: "ms",
		step: 5,
		get:  func(c config.AnalyzerConfig) float64 { return c.AnalyzeIntervalMs },
		set:  func(c *config.AnalyzerConfig, v float64) { c.AnalyzeIntervalMs = v },
	},
	{
		name: "Smoothing",
		step: 0.05,
		get:  func(c config.AnalyzerConfig) float64 { return c.SmoothingTimeConstant },
		set:  func(c *config.AnalyzerConfig, v float64) { c.SmoothingTimeConstant = v },
	},
	{
		name: "Min beat interval",
		unit: "ms",
		step: 10,
		get:  func(c config.AnalyzerConfig) float64 { return c.MinBeatIntervalMs },
		set:  func(c *config.AnalyzerConfig, v float64) { c.MinBeatIntervalMs = v },
	},
}

// nudge moves the knob by dir steps and returns the clamped result.
func (k knob) nudge(live *config.Live, dir float64) float64 {
	c := live.UpdateAnalyzer(func(c *config.AnalyzerConfig) {
		k.set(c, k.get(*c)+dir*k.step)
	})
	return k.get(c)
}

func (k knob) format(c config.AnalyzerConfig) string {
	v := k.get(c)
	if k.unit != "" {
		return fmt.Sprintf("%.0f %s", v, k.unit)
	}
	return fmt.Sprintf("%.2f", v)
}
