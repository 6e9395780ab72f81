// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package embeddings converts heterogeneous tabular columns into dense tensors that a downstream
// model (see package tabmlp) can consume.
//
// The raw input is a single batch tensor shaped `[batchSize, numColumns]`, where categorical columns
// hold integer codes (stored in whatever numeric dtype the batch uses, 0 reserved for padding/unknown)
// and continuous columns hold real values. A ColumnIndex maps column names to their position in the
// feature axis.
//
// Layers are configured and validated at construction (New*/Build), which is also where the output
// dimension is computed. Graph building happens later in Apply, so configuration errors never surface
// while building a graph. The learned parameters are context variables, created in the scope of the
// context given to Apply.
//
// Components, leaf first:
//
//   - ContinuousEmbedding: per-column learned vector scaled by the value, with optional bias and activation.
//   - SharedEmbedding: one embedding table plus a shared vector that is either added to or overwrites
//     the leading part of every looked up embedding.
//   - VariableWidthCategorical: one table per categorical column, each with its own width.
//   - FixedWidthCategorical: all columns with the same width, either one SharedEmbedding per column
//     or a single merged table.
//   - VariableWidth and FixedWidth: composite embedders combining a categorical branch with the
//     (optionally normalized and embedded) continuous branch.
package embeddings

import (
	"fmt"
	"slices"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

const (
	// ParamStrategy context hyperparameter selects the composite embedder used by NewFromContext.
	// Valid values are "variable_width", "fixed_shared" and "fixed_single_table".
	// The default is "variable_width".
	ParamStrategy = "embed_strategy"

	// ParamCategoricalDropout is the dropout rate applied to the categorical embeddings.
	// The default is 0.1 (float64).
	ParamCategoricalDropout = "embed_cat_dropout"

	// ParamEmbedDim is the embedding width shared by all columns in the fixed-width strategies.
	// The default is 32 (int).
	ParamEmbedDim = "embed_dim"

	// ParamDropoutKind is the kind of dropout applied to fixed-width categorical embeddings:
	// "elementwise" or "full_row". The default is "elementwise".
	ParamDropoutKind = "embed_dropout_kind"

	// ParamSharedMode is how the shared vector is combined with each categorical embedding in
	// the "fixed_shared" strategy: "overwrite" or "additive". The default is "overwrite".
	ParamSharedMode = "embed_shared_mode"

	// ParamFracShared is the fraction of the embedding overwritten by the shared vector, when
	// ParamSharedMode is "overwrite". It must be in [0, 1). The default is 0.25 (float64).
	ParamFracShared = "embed_frac_shared"

	// ParamSharedAcrossColumns makes the "fixed_shared" strategy use one single shared vector for all
	// columns, instead of one per column. The default is false.
	ParamSharedAcrossColumns = "embed_shared_across_columns"

	// ParamCategoricalBias enables a learned per-column bias on the categorical embeddings.
	// It has no effect (and a warning is logged) with the "fixed_shared" strategy. The default is false.
	ParamCategoricalBias = "embed_cat_bias"

	// ParamCategoricalActivation is the activation applied to the categorical embeddings of the
	// "variable_width" strategy: one of "", "none", "tanh", "relu", "leaky_relu" or "gelu".
	// The default is "" (no activation).
	ParamCategoricalActivation = "embed_cat_activation"

	// ParamContinuousNormalization is the normalization applied to the continuous columns:
	// "none", "layernorm" or "batchnorm". The default is "batchnorm".
	ParamContinuousNormalization = "embed_cont_norm"

	// ParamEmbedContinuous enables the embedding of continuous columns. The default is false.
	ParamEmbedContinuous = "embed_continuous"

	// ParamContinuousDim is the width of the continuous embeddings in the variable-width strategy.
	// The fixed-width strategies use ParamEmbedDim instead. The default is 32 (int).
	ParamContinuousDim = "embed_cont_dim"

	// ParamContinuousDropout is the dropout applied to the continuous embeddings. The default is 0.1.
	ParamContinuousDropout = "embed_cont_dropout"

	// ParamContinuousBias enables the bias of the continuous embeddings. The default is true.
	ParamContinuousBias = "embed_cont_bias"

	// ParamContinuousActivation is the activation applied to the continuous embeddings: "none",
	// "tanh", "relu", "leaky_relu" or "gelu". The default is "none".
	ParamContinuousActivation = "embed_cont_activation"
)

// ColumnIndex maps a column name to its position in the feature axis of the raw input tensor.
type ColumnIndex map[string]int

// NewColumnIndex creates a ColumnIndex where each name is mapped to its position in names.
func NewColumnIndex(names ...string) ColumnIndex {
	ci := make(ColumnIndex, len(names))
	for ii, name := range names {
		ci[name] = ii
	}
	return ci
}

// Validate checks that positions are non-negative and unique.
func (ci ColumnIndex) Validate() error {
	seen := make(map[int]string, len(ci))
	for name, pos := range ci {
		if pos < 0 {
			return errors.Errorf("column %q has negative position %d", name, pos)
		}
		if other, found := seen[pos]; found {
			return errors.Errorf("columns %q and %q share the same position %d", other, name, pos)
		}
		seen[pos] = name
	}
	return nil
}

// Positions returns the positions of the given column names, in the same order.
// It returns an error if any of the names is not in the index.
func (ci ColumnIndex) Positions(names []string) ([]int, error) {
	positions := make([]int, len(names))
	for ii, name := range names {
		pos, found := ci[name]
		if !found {
			return nil, errors.Errorf("column %q not found in column index (known columns: %v)", name, ci.Names())
		}
		positions[ii] = pos
	}
	return positions, nil
}

// Names returns the column names ordered by position.
func (ci ColumnIndex) Names() []string {
	names := make([]string, 0, len(ci))
	for name := range ci {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int { return ci[a] - ci[b] })
	return names
}

// CategoricalColumn describes one categorical column to embed.
type CategoricalColumn struct {
	// Name of the column, it must be present in the ColumnIndex.
	Name string

	// Cardinality is the number of distinct codes observed, not counting the padding/unknown code 0.
	// The embedding table has Cardinality+1 rows.
	Cardinality int

	// Dim is the embedding width for this column. It is required by VariableWidthCategorical and
	// ignored by FixedWidthCategorical, where all columns share the same width.
	Dim int
}

// String implements fmt.Stringer.
func (c CategoricalColumn) String() string {
	if c.Dim > 0 {
		return fmt.Sprintf("%s(card=%d, dim=%d)", c.Name, c.Cardinality, c.Dim)
	}
	return fmt.Sprintf("%s(card=%d)", c.Name, c.Cardinality)
}

// validateCategorical checks the columns against the index. If requireDim is set, each column must have Dim > 0.
func validateCategorical(columnIndex ColumnIndex, columns []CategoricalColumn, requireDim bool) (positions []int, err error) {
	names := make([]string, len(columns))
	seen := make(map[string]bool, len(columns))
	for ii, col := range columns {
		if col.Cardinality < 1 {
			return nil, errors.Errorf("categorical column %q must have cardinality >= 1, got %d", col.Name, col.Cardinality)
		}
		if requireDim && col.Dim <= 0 {
			return nil, errors.Errorf("categorical column %q must have an embedding dimension > 0, got %d", col.Name, col.Dim)
		}
		if seen[col.Name] {
			return nil, errors.Errorf("categorical column %q given more than once", col.Name)
		}
		seen[col.Name] = true
		names[ii] = col.Name
	}
	return columnIndex.Positions(names)
}

// columnScope returns the scope name used for the variables of a column.
func columnScope(name string) string {
	return "emb_layer_" + context.EscapeScopeName(name)
}

// floatDTypeOf returns the dtype of x if it is a float, or Float32 otherwise.
func floatDTypeOf(x *Node) dtypes.DType {
	if x.DType().IsFloat() {
		return x.DType()
	}
	return dtypes.Float32
}
