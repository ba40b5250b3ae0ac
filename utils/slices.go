package utils // import "github.com/hackrange/hackrange/backend/services/utils"

import "golang.org/x/exp/constraints"

// StringSliceContains returns true if the given string slice contains string val, and false otherwise.
func StringSliceContains(slice []string, val string) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}

// PrintSlice is a helper function to print a slice as a string of comma separated values.
// The string is truncated to the first n elements in the slice, to improve readability.
func PrintSlice[T constraints.Ordered](slice []T, n int) string {
	if len(slice) < n {
		n = len(slice)
	}

	var message string
	for i, v := range slice[:n] {
		if i+1 == n {
			message += Sprintf("%v", v)
		} else {
			message += Sprintf("%v, ", v)
		}
	}
	return message
}
