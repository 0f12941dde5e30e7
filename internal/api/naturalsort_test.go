package api

import "testing"

func TestNaturalSortVersionTags(t *testing.T) {
	tags := []string{"v1.10", "latest", "v1.2"}
	naturalSort(tags)
	want := []string{"latest", "v1.2", "v1.10"}
	for i := range want {
		if tags[i] != want[i] {
			t.Fatalf("naturalSort = %v, want %v", tags, want)
		}
	}
}

func TestNaturalSortNumericRun(t *testing.T) {
	tags := []string{"v1.10", "v1.2", "v1.1"}
	naturalSort(tags)
	want := []string{"v1.1", "v1.2", "v1.10"}
	for i := range want {
		if tags[i] != want[i] {
			t.Fatalf("naturalSort = %v, want %v", tags, want)
		}
	}
}
