// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tabmlp

import (
	"strings"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/widedeep/pkg/ml/layers/embeddings"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

var testInput = [][]float32{
	{1, 2, 0.5, 37},
	{3, 0, -1.0, 22},
	{2, 1, 0.3, 61},
}

func testEmbedder(t *testing.T) embeddings.Embedder {
	ci := embeddings.NewColumnIndex("workclass", "education", "capital", "age")
	return must.M1(embeddings.NewBuilder(ci).
		Categorical(
			embeddings.CategoricalColumn{Name: "workclass", Cardinality: 3, Dim: 4},
			embeddings.CategoricalColumn{Name: "education", Cardinality: 2, Dim: 3}).
		Continuous("capital", "age").
		Normalization(embeddings.NormLayer).
		Build())
}

// scopesWithPrefix counts the variables whose scope starts with prefix.
func scopesWithPrefix(ctx *context.Context, prefix string) int {
	var count int
	ctx.EnumerateVariables(func(v *context.Variable) {
		if strings.HasPrefix(v.Scope(), prefix) {
			count++
		}
	})
	return count
}

func TestBuild(t *testing.T) {
	embedder := testEmbedder(t)
	require.Equal(t, 9, embedder.OutputDim())

	m, err := New(embedder).HiddenDims(16, 8).Build()
	require.NoError(t, err)
	assert.Equal(t, 8, m.OutputDim())
	assert.Equal(t, 9*16+16+16*8+8, m.NumParams())

	_, err = New(embedder).HiddenDims().Build()
	require.Error(t, err)
	_, err = New(embedder).HiddenDims(16, 0).Build()
	require.Error(t, err)
	_, err = New(embedder).HiddenDims(16, 8).Dropout(0.1, 0.2, 0.3).Build()
	require.Error(t, err)
	_, err = New(embedder).Dropout(1.5).Build()
	require.Error(t, err)
	_, err = New(embedder).Activation(activations.TypeSwish).Build()
	require.Error(t, err)

	empty := must.M1(embeddings.NewBuilder(embeddings.NewColumnIndex()).Build())
	_, err = New(empty).Build()
	require.Error(t, err)
}

func TestFromContext(t *testing.T) {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamHiddenDims:  []int{7},
		ParamActivation:  "tanh",
		ParamDropout:     0.0,
		ParamBatchNorm:   true,
		ParamLinearFirst: true,
	})
	m, err := New(testEmbedder(t)).FromContext(ctx).Build()
	require.NoError(t, err)
	assert.Equal(t, 7, m.OutputDim())
	assert.Equal(t, activations.TypeTanh, m.activation)
	assert.True(t, m.linearFirst)
	assert.False(t, m.blocks[0].batchNorm, "last block only gets batch normalization with BatchNormLast")

	ctx.SetParam(ParamActivation, "softmax")
	_, err = New(testEmbedder(t)).FromContext(ctx).Build()
	require.Error(t, err)
}

func TestApply(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, linearFirst := range []bool{false, true} {
		m, err := New(testEmbedder(t)).
			HiddenDims(16, 8).
			Dropout(0.2, 0.1).
			BatchNorm(true).
			LinearFirst(linearFirst).
			Build()
		require.NoError(t, err)

		ctx := context.New()
		ctx.SetParam(context.ParamInitialSeed, int64(42))
		exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x *Node) *Node {
			return m.Apply(ctx, x)
		})
		output := exec.MustExec(testInput)[0]
		require.NoError(t, output.Shape().CheckDims(len(testInput), m.OutputDim()))

		assert.Positive(t, scopesWithPrefix(ctx, "/embeddings/emb_layer_workclass"))
		assert.Positive(t, scopesWithPrefix(ctx, "/dense_0/batch_normalization"))
		assert.Zero(t, scopesWithPrefix(ctx, "/dense_1/batch_normalization"))
		assert.Nil(t, ctx.GetVariableByScopeAndName("/dense_0/dense", "biases"), "no bias before batch normalization")
		assert.NotNil(t, ctx.GetVariableByScopeAndName("/dense_1/dense", "biases"))
	}
}

func TestModelGraph(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	m := must.M1(New(testEmbedder(t)).HiddenDims(4).Build())
	ctx := context.New()
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x *Node) []*Node {
		ctx.SetTraining(x.Graph(), true)
		return m.ModelGraph(ctx, nil, []*Node{x})
	})
	logits := exec.MustExec(testInput)[0]
	require.NoError(t, logits.Shape().CheckDims(len(testInput), 1))
}
