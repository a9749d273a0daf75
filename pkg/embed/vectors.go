// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package embed

import (
	"context"
	"log/slog"
	"math"
	"strings"
)

// CleanText collapses whitespace runs and trims the ends.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Normalize scales a vector to unit length. Zero vectors pass through.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// Mean returns the element-wise mean of the non-empty vectors. Vectors whose
// length differs from the first non-empty one are skipped.
func Mean(vectors ...[]float32) []float32 {
	var dim int
	var count int
	for _, v := range vectors {
		if len(v) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			continue
		}
		count++
	}
	if count == 0 {
		return nil
	}

	out := make([]float32, dim)
	for _, v := range vectors {
		if len(v) != dim {
			continue
		}
		for i, x := range v {
			out[i] += x
		}
	}
	for i := range out {
		out[i] /= float32(count)
	}
	return out
}

// Encode embeds whitespace-normalized text and returns a unit-length vector.
// A backend failure degrades to an empty vector so record ingestion and
// scoring never abort on a single bad field.
func Encode(ctx context.Context, e Embedder, text string) []float32 {
	vec, err := e.Embed(ctx, CleanText(text))
	if err != nil {
		slog.Warn("Embedding encode failed", "error", err, "model", e.Model())
		return nil
	}
	return Normalize(vec)
}

// TestCaseVectors holds the per-field embeddings of a test-case record.
type TestCaseVectors struct {
	Description []float32
	Steps       []float32
	Summary     []float32
	Main        []float32
}

// EncodeTestCase computes the test-case vector set: one embedding per field
// and a main vector that is the mean of whichever field vectors came back
// non-empty. With no usable field at all the main vector falls back to the
// embedding of the empty string so the record stays searchable.
func EncodeTestCase(ctx context.Context, e Embedder, description, steps, summary string) TestCaseVectors {
	v := TestCaseVectors{
		Description: Encode(ctx, e, description),
		Steps:       Encode(ctx, e, steps),
		Summary:     Encode(ctx, e, summary),
	}

	v.Main = Mean(v.Description, v.Steps, v.Summary)
	if len(v.Main) == 0 {
		v.Main = Encode(ctx, e, "")
	}
	return v
}

// MethodVectors holds the per-field embeddings of a method record.
type MethodVectors struct {
	Summary []float32
	Code    []float32
	Doc     []float32
	Main    []float32
}

// EncodeMethod computes the method vector set. The main vector is a single
// encode of the joined summary and code text, not a mean.
func EncodeMethod(ctx context.Context, e Embedder, summary, rawCode, docText string) MethodVectors {
	summaryText := CleanText(summary)
	codeText := CleanText(rawCode)

	v := MethodVectors{
		Summary: Encode(ctx, e, summaryText),
		Code:    Encode(ctx, e, codeText),
		Doc:     Encode(ctx, e, docText),
	}

	v.Main = Encode(ctx, e, strings.TrimSpace(summaryText+" "+codeText))
	return v
}
