// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/widedeep/pkg/ml/layers/embeddings"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestParseCategorical(t *testing.T) {
	columns, err := parseCategorical("workclass:9:4, education:16 ,")
	require.NoError(t, err)
	assert.Equal(t, []embeddings.CategoricalColumn{
		{Name: "workclass", Cardinality: 9, Dim: 4},
		{Name: "education", Cardinality: 16},
	}, columns)

	columns, err = parseCategorical("")
	require.NoError(t, err)
	assert.Empty(t, columns)

	for _, invalid := range []string{"workclass", "workclass:x", "workclass:9:y", ":3", "a:1:2:3"} {
		_, err = parseCategorical(invalid)
		assert.Error(t, err, "definition %q should fail", invalid)
	}

	ci := columnIndex(columns, []string{"age"})
	assert.Equal(t, embeddings.ColumnIndex{"age": 0}, ci)
}

// trainableParams counts the trainable parameters created in ctx.
func trainableParams(ctx *context.Context) int {
	var n int
	ctx.EnumerateVariables(func(v *context.Variable) {
		if v.Trainable && v.Name() != context.RNGStateVariableName {
			n += v.Shape().Size()
		}
	})
	return n
}

func TestNumParamsMatchGraph(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	const categorical = "workclass:9:4,education:16:6,country:42:8"
	const continuous = "age,hours"
	for _, settings := range []string{
		"",
		"embed_continuous=true;embed_cont_norm=layer",
		"embed_cat_bias=true;embed_cat_activation=relu",
		"embed_cat_bias=true;embed_cat_activation=tanh;embed_continuous=true;tabmlp_batchnorm=true",
		"embed_strategy=fixed_shared;embed_dim=16;embed_continuous=true",
		"embed_strategy=fixed_shared;embed_shared_mode=add;embed_shared_across_columns=true",
		"embed_strategy=fixed_single_table;embed_cat_bias=true;embed_cont_norm=none",
		"tabmlp_batchnorm=true;tabmlp_batchnorm_last=true;tabmlp_linear_first=true",
	} {
		ctx := createDefaultContext()
		must.M1(commandline.ParseContextSettings(ctx, settings))
		s, err := buildSummary(ctx, categorical, continuous, true)
		require.NoError(t, err, "settings %q", settings)
		varsCtx, err := s.createVariables(backend)
		require.NoError(t, err, "settings %q", settings)
		assert.Equal(t, s.numParams(), trainableParams(varsCtx), "settings %q", settings)
	}

	_, err := buildSummary(createDefaultContext(), "a:x", "", false)
	require.Error(t, err)

	ctx := createDefaultContext()
	must.M1(commandline.ParseContextSettings(ctx, "embed_cat_activation=softmax"))
	_, err = buildSummary(ctx, categorical, continuous, false)
	require.Error(t, err)
}
