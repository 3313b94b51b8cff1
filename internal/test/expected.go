// This file is part of NCPatcher.
//
// NCPatcher is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// NCPatcher is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with NCPatcher.  If not, see <https://www.gnu.org/licenses/>.

// Package test collects small helpers shared by this module's test files:
// truthiness assertions, equality checks and a couple of bounded io.Writer
// implementations useful for capturing CLI/log output in tests.
package test

import (
	"math"
	"reflect"
	"testing"
)

// success is satisfied by a bool or an error. ExpectSuccess/ExpectFailure
// accept either so that call sites don't need a type switch of their own.
func truthy(t *testing.T, v interface{}) bool {
	t.Helper()
	switch vv := v.(type) {
	case bool:
		return vv
	case error:
		return vv == nil
	case nil:
		return true
	default:
		t.Fatalf("unsupported type passed to test helper: %T", v)
		return false
	}
}

// ExpectSuccess fails the test unless v is true or a nil error.
func ExpectSuccess(t *testing.T, v interface{}) {
	t.Helper()
	if !truthy(t, v) {
		t.Errorf("expected success, got %v", v)
	}
}

// ExpectFailure fails the test unless v is false or a non-nil error.
func ExpectFailure(t *testing.T, v interface{}) {
	t.Helper()
	if truthy(t, v) {
		t.Errorf("expected failure, got %v", v)
	}
}

// Equate fails the test unless got and want are deeply equal.
func Equate(t *testing.T, got, want interface{}) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, wanted %v", got, want)
	}
}

// ExpectEquality is an alias of Equate retained for symmetry with
// ExpectInequality.
func ExpectEquality(t *testing.T, got, want interface{}) {
	t.Helper()
	Equate(t, got, want)
}

// ExpectInequality fails the test if got and want are deeply equal.
func ExpectInequality(t *testing.T, got, want interface{}) {
	t.Helper()
	if reflect.DeepEqual(got, want) {
		t.Errorf("got %v, did not want %v", got, want)
	}
}

// ExpectApproximate fails the test unless got is within tolerance of want.
func ExpectApproximate(t *testing.T, got, want, tolerance float64) {
	t.Helper()
	if math.Abs(got-want) > tolerance {
		t.Errorf("got %v, wanted approximately %v (+/- %v)", got, want, tolerance)
	}
}
