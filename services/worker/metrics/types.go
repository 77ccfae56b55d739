// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

// TokenSummary is the headline token-economics record. The zero value
// is the well-formed "no data" answer.
type TokenSummary struct {
	TotalObservations        int64   `json:"totalObservations"`
	TotalReadTokens          int64   `json:"totalReadTokens"`
	TotalDiscoveryTokens     int64   `json:"totalDiscoveryTokens"`
	Savings                  int64   `json:"savings"`
	SavingsPercent           int64   `json:"savingsPercent"`
	EfficiencyGain           float64 `json:"efficiencyGain"`
	AvgReadTokensPerObs      int64   `json:"avgReadTokensPerObs"`
	AvgDiscoveryTokensPerObs int64   `json:"avgDiscoveryTokensPerObs"`
}

// ProjectTokens is one project's row in the by-project breakdown.
type ProjectTokens struct {
	Project         string  `json:"project"`
	Observations    int64   `json:"observations"`
	ReadTokens      int64   `json:"readTokens"`
	DiscoveryTokens int64   `json:"discoveryTokens"`
	Savings         int64   `json:"savings"`
	SavingsPercent  int64   `json:"savingsPercent"`
	EfficiencyGain  float64 `json:"efficiencyGain"`
}

// ByProject ranks projects by discovery spend.
type ByProject struct {
	Projects      []ProjectTokens `json:"projects"`
	TotalProjects int             `json:"totalProjects"`
}

// TypeTokens is one observation type's row in the by-type breakdown.
type TypeTokens struct {
	Type            string `json:"type"`
	Observations    int64  `json:"observations"`
	ReadTokens      int64  `json:"readTokens"`
	DiscoveryTokens int64  `json:"discoveryTokens"`
	Savings         int64  `json:"savings"`
	SavingsPercent  int64  `json:"savingsPercent"`
}

// ByType breaks token spend down by observation type.
type ByType struct {
	Types []TypeTokens `json:"types"`
}

// TimePoint is one bucket of the time series, with running cumulatives.
type TimePoint struct {
	Period                    string `json:"period"`
	Observations              int64  `json:"observations"`
	ReadTokens                int64  `json:"readTokens"`
	DiscoveryTokens           int64  `json:"discoveryTokens"`
	CumulativeReadTokens      int64  `json:"cumulativeReadTokens"`
	CumulativeDiscoveryTokens int64  `json:"cumulativeDiscoveryTokens"`
}

// TimeSeries is the bucketed token history.
type TimeSeries struct {
	Series      []TimePoint `json:"series"`
	Granularity string      `json:"granularity"`
}

// TypeCompression is one type's compression ratio.
type TypeCompression struct {
	Type                string  `json:"type"`
	Observations        int64   `json:"observations"`
	AvgCompressionRatio float64 `json:"avgCompressionRatio"`
}

// Compression reports how much smaller stored observations are than
// the raw output they distilled.
type Compression struct {
	AvgCompressionRatio   float64           `json:"avgCompressionRatio"`
	TotalOriginalTokens   int64             `json:"totalOriginalTokens"`
	TotalCompressedTokens int64             `json:"totalCompressedTokens"`
	Observations          int64             `json:"observations"`
	ByType                []TypeCompression `json:"byType"`
}

// ProjectionStream is one simulated context-accumulation stream.
type ProjectionStream struct {
	DiscoveryTokens int64 `json:"discoveryTokens"`
	ContextTokens   int64 `json:"contextTokens"`
	TotalTokens     int64 `json:"totalTokens"`
}

// Projection contrasts carrying raw tool output forward against
// carrying compressed observations, over a project's recent history.
type Projection struct {
	ObservationsAnalyzed int              `json:"observationsAnalyzed"`
	WithoutMemory        ProjectionStream `json:"withoutMemory"`
	WithMemory           ProjectionStream `json:"withMemory"`
	TokensSaved          int64            `json:"tokensSaved"`
	PercentSaved         float64          `json:"percentSaved"`
	EfficiencyGain       float64          `json:"efficiencyGain"`
}
