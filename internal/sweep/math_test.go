package sweep

import (
	"math"
	"testing"
)

func TestParseCSVInts(t *testing.T) {
	testCases := []struct {
		name      string
		input     string
		expected  []int
		expectErr bool
	}{
		{"empty_string", "", nil, false},
		{"single_value", "5", []int{5}, false},
		{"multiple_values", "1,2,3", []int{1, 2, 3}, false},
		{"with_spaces", " 1 , 2 , 3 ", []int{1, 2, 3}, false},
		{"negative_values", "-1,-2,-3", []int{-1, -2, -3}, false},
		{"invalid_float", "1.5", nil, true},
		{"invalid_string", "abc", nil, true},
		{"mixed_valid_invalid", "1,abc,3", nil, true},
		{"empty_parts", "1,,3", []int{1, 3}, false},
		{"zero", "0", []int{0}, false},
		{"large_number", "1000000", []int{1000000}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := ParseCSVInts(tc.input)
			if tc.expectErr {
				if err == nil {
					t.Errorf("Expected error for input %q, got nil", tc.input)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
				return
			}
			if len(result) != len(tc.expected) {
				t.Errorf("Length mismatch: expected %d, got %d", len(tc.expected), len(result))
				return
			}
			for i, v := range result {
				if v != tc.expected[i] {
					t.Errorf("Value mismatch at index %d: expected %d, got %d", i, tc.expected[i], v)
				}
			}
		})
	}
}

func TestParseCSVInt64s(t *testing.T) {
	testCases := []struct {
		name      string
		input     string
		expected  []int64
		expectErr bool
	}{
		{"empty_string", "", nil, false},
		{"single_value", "5", []int64{5}, false},
		{"multiple_values", "1,2,3", []int64{1, 2, 3}, false},
		{"with_spaces", " 1 , 2 , 3 ", []int64{1, 2, 3}, false},
		{"negative_values", "-1,-2", []int64{-1, -2}, false},
		{"invalid_float", "1.5", nil, true},
		{"invalid_string", "abc", nil, true},
		{"empty_parts", "1,,3", []int64{1, 3}, false},
		{"beyond_int32", "4294967296", []int64{4294967296}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := ParseCSVInt64s(tc.input)
			if tc.expectErr {
				if err == nil {
					t.Errorf("Expected error for input %q, got nil", tc.input)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
				return
			}
			if len(result) != len(tc.expected) {
				t.Errorf("Length mismatch: expected %d, got %d", len(tc.expected), len(result))
				return
			}
			for i, v := range result {
				if v != tc.expected[i] {
					t.Errorf("Value mismatch at index %d: expected %d, got %d", i, tc.expected[i], v)
				}
			}
		})
	}
}

func TestMeanStddev(t *testing.T) {
	testCases := []struct {
		name           string
		input          []float64
		expectedMean   float64
		expectedStddev float64
	}{
		{"empty_slice", []float64{}, 0, 0},
		{"single_value", []float64{5.0}, 5.0, 0},
		{"two_values", []float64{4.0, 6.0}, 5.0, math.Sqrt(2)},
		{"three_values", []float64{1.0, 2.0, 3.0}, 2.0, 1.0},
		{"identical_values", []float64{5.0, 5.0, 5.0}, 5.0, 0},
		{"negative_values", []float64{-1.0, -2.0, -3.0}, -2.0, 1.0},
		{"mixed_signs", []float64{-1.0, 0.0, 1.0}, 0.0, 1.0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mean, stddev := MeanStddev(tc.input)

			if math.Abs(mean-tc.expectedMean) > 1e-9 {
				t.Errorf("Mean mismatch: expected %f, got %f", tc.expectedMean, mean)
			}
			if math.Abs(stddev-tc.expectedStddev) > 1e-9 {
				t.Errorf("Stddev mismatch: expected %f, got %f", tc.expectedStddev, stddev)
			}
		})
	}
}

func TestDistStats(t *testing.T) {
	testCases := []struct {
		name           string
		input          map[int]int
		expectedMean   float64
		expectedStddev float64
	}{
		{"nil_dist", nil, 0, 0},
		{"empty_dist", map[int]int{}, 0, 0},
		{"single_duration", map[int]int{5: 3}, 5.0, 0},
		{"two_durations", map[int]int{4: 1, 6: 1}, 5.0, math.Sqrt(2)},
		{"weighted", map[int]int{1: 2, 4: 1}, 2.0, math.Sqrt(3)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mean, stddev := DistStats(tc.input)

			if math.Abs(mean-tc.expectedMean) > 1e-9 {
				t.Errorf("Mean mismatch: expected %f, got %f", tc.expectedMean, mean)
			}
			if math.Abs(stddev-tc.expectedStddev) > 1e-9 {
				t.Errorf("Stddev mismatch: expected %f, got %f", tc.expectedStddev, stddev)
			}
		})
	}
}
