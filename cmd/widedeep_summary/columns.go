// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"strconv"
	"strings"

	"github.com/gomlx/widedeep/pkg/ml/layers/embeddings"
	"github.com/pkg/errors"
)

// parseCategorical parses a comma-separated list of "name:cardinality[:dim]" column definitions.
func parseCategorical(text string) ([]embeddings.CategoricalColumn, error) {
	var columns []embeddings.CategoricalColumn
	for _, def := range splitList(text) {
		parts := strings.Split(def, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
			return nil, errors.Errorf("invalid categorical column %q, expected \"name:cardinality[:dim]\"", def)
		}
		column := embeddings.CategoricalColumn{Name: parts[0]}
		var err error
		if column.Cardinality, err = strconv.Atoi(parts[1]); err != nil {
			return nil, errors.Wrapf(err, "invalid cardinality in categorical column %q", def)
		}
		if len(parts) == 3 {
			if column.Dim, err = strconv.Atoi(parts[2]); err != nil {
				return nil, errors.Wrapf(err, "invalid dim in categorical column %q", def)
			}
		}
		columns = append(columns, column)
	}
	return columns, nil
}

// splitList splits a comma-separated list, trimming spaces and dropping empty entries.
func splitList(text string) []string {
	var values []string
	for _, value := range strings.Split(text, ",") {
		if value = strings.TrimSpace(value); value != "" {
			values = append(values, value)
		}
	}
	return values
}

// columnIndex lays out the categorical columns first, followed by the continuous ones.
func columnIndex(categorical []embeddings.CategoricalColumn, continuous []string) embeddings.ColumnIndex {
	names := make([]string, 0, len(categorical)+len(continuous))
	for _, column := range categorical {
		names = append(names, column.Name)
	}
	names = append(names, continuous...)
	return embeddings.NewColumnIndex(names...)
}
