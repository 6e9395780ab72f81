// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package embeddings

import (
	"fmt"
	"strings"

	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/pkg/errors"
)

// DropoutKind selects how dropout is applied to embeddings.
type DropoutKind int

const (
	// DropoutElementwise drops each element independently.
	DropoutElementwise DropoutKind = iota

	// DropoutFullRow draws one mask value per example (batch row), zeroing its whole embedding.
	DropoutFullRow
)

var dropoutKindNames = []string{"elementwise", "full_row"}

// String implements fmt.Stringer.
func (k DropoutKind) String() string {
	if k < 0 || int(k) >= len(dropoutKindNames) {
		return fmt.Sprintf("DropoutKind(%d)", int(k))
	}
	return dropoutKindNames[k]
}

// DropoutKindFromName parses "elementwise" or "full_row" ("full" is also accepted).
func DropoutKindFromName(name string) (DropoutKind, error) {
	switch normalizeName(name) {
	case "", "elementwise":
		return DropoutElementwise, nil
	case "full_row", "full", "full_embed":
		return DropoutFullRow, nil
	}
	return 0, errors.Errorf("invalid dropout kind %q, valid values are %q", name, dropoutKindNames)
}

// SharedMode selects how a SharedEmbedding combines its shared vector with the looked up embedding.
type SharedMode int

const (
	// SharedOverwrite overwrites the first `int(dim*fracShared)` elements of every embedding with the shared vector.
	SharedOverwrite SharedMode = iota

	// SharedAdd adds the shared vector (with the full embedding width) to every embedding.
	SharedAdd
)

var sharedModeNames = []string{"overwrite", "additive"}

// String implements fmt.Stringer.
func (m SharedMode) String() string {
	if m < 0 || int(m) >= len(sharedModeNames) {
		return fmt.Sprintf("SharedMode(%d)", int(m))
	}
	return sharedModeNames[m]
}

// SharedModeFromName parses "overwrite" or "additive" ("add" is also accepted).
func SharedModeFromName(name string) (SharedMode, error) {
	switch normalizeName(name) {
	case "", "overwrite":
		return SharedOverwrite, nil
	case "additive", "add":
		return SharedAdd, nil
	}
	return 0, errors.Errorf("invalid shared embedding mode %q, valid values are %q", name, sharedModeNames)
}

// Normalization selects the normalization applied to the continuous columns before they are embedded.
type Normalization int

const (
	// NormNone leaves the continuous columns as they are.
	NormNone Normalization = iota

	// NormLayer normalizes each example over its continuous columns.
	NormLayer

	// NormBatch normalizes each continuous column over the batch, keeping running averages for inference.
	NormBatch
)

var normalizationNames = []string{"none", "layernorm", "batchnorm"}

// String implements fmt.Stringer.
func (n Normalization) String() string {
	if n < 0 || int(n) >= len(normalizationNames) {
		return fmt.Sprintf("Normalization(%d)", int(n))
	}
	return normalizationNames[n]
}

// NormalizationFromName parses "none" (or ""), "layernorm" (or "layer") and "batchnorm" (or "batch").
func NormalizationFromName(name string) (Normalization, error) {
	switch normalizeName(name) {
	case "", "none", "identity":
		return NormNone, nil
	case "layernorm", "layer", "layer_norm":
		return NormLayer, nil
	case "batchnorm", "batch", "batch_norm":
		return NormBatch, nil
	}
	return 0, errors.Errorf("invalid continuous normalization %q, valid values are %q", name, normalizationNames)
}

// Strategy selects the composite embedder.
type Strategy int

const (
	// StrategyVariableWidth uses one independent table per categorical column, each with its own width.
	StrategyVariableWidth Strategy = iota

	// StrategyFixedWidthShared uses one SharedEmbedding per categorical column, all with the same width.
	StrategyFixedWidthShared

	// StrategyFixedWidthSingleTable uses one merged table for all categorical columns, all with the same width.
	StrategyFixedWidthSingleTable
)

var strategyNames = []string{"variable_width", "fixed_shared", "fixed_single_table"}

// String implements fmt.Stringer.
func (s Strategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
	return strategyNames[s]
}

// StrategyFromName parses one of "variable_width", "fixed_shared" or "fixed_single_table".
func StrategyFromName(name string) (Strategy, error) {
	switch normalizeName(name) {
	case "", "variable_width", "diff_size":
		return StrategyVariableWidth, nil
	case "fixed_shared", "same_size_shared":
		return StrategyFixedWidthShared, nil
	case "fixed_single_table", "same_size":
		return StrategyFixedWidthSingleTable, nil
	}
	return 0, errors.Errorf("invalid embedding strategy %q, valid values are %q", name, strategyNames)
}

// ValidActivations lists the activations accepted for the continuous and the variable-width categorical embeddings.
var ValidActivations = []activations.Type{
	activations.TypeNone, activations.TypeTanh, activations.TypeRelu, activations.TypeLeakyRelu, activations.TypeGelu,
}

// ValidateActivation returns an error if the activation is not one of ValidActivations.
func ValidateActivation(activation activations.Type) error {
	for _, valid := range ValidActivations {
		if activation == valid {
			return nil
		}
	}
	return errors.Errorf("activation %s not supported for embeddings, valid values are %v", activation, ValidActivations)
}

// ActivationFromName parses an activation name, restricted to ValidActivations.
// An empty name is converted to activations.TypeNone.
func ActivationFromName(name string) (activations.Type, error) {
	var activation activations.Type
	switch normalizeName(name) {
	case "", "none":
		activation = activations.TypeNone
	case "tanh":
		activation = activations.TypeTanh
	case "relu":
		activation = activations.TypeRelu
	case "leaky_relu", "leakyrelu":
		activation = activations.TypeLeakyRelu
	case "gelu":
		activation = activations.TypeGelu
	default:
		return activations.TypeNone, errors.Errorf("activation %q not supported for embeddings, valid values are %v",
			name, ValidActivations)
	}
	return activation, nil
}

func normalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
}
