package analytics

import "sort"

type FrequencyEntry[T comparable] struct {
	Value T   `json:"value"`
	Count int `json:"count"`
}

// Frequency counts values and remembers the order in which each value was
// first seen. All tie-breaks fall back to that order.
type Frequency[T comparable] struct {
	order  []T
	counts map[T]int
}

func NewFrequency[T comparable]() *Frequency[T] {
	return &Frequency[T]{counts: make(map[T]int)}
}

// FrequencyCount builds a Frequency over items.
func FrequencyCount[T comparable](items []T) *Frequency[T] {
	f := NewFrequency[T]()
	for _, v := range items {
		f.Add(v)
	}
	return f
}

func (f *Frequency[T]) Add(v T) {
	if _, ok := f.counts[v]; !ok {
		f.order = append(f.order, v)
	}
	f.counts[v]++
}

func (f *Frequency[T]) Count(v T) int {
	return f.counts[v]
}

func (f *Frequency[T]) Len() int {
	return len(f.order)
}

// Entries returns every value with its count in first-seen order.
func (f *Frequency[T]) Entries() []FrequencyEntry[T] {
	out := make([]FrequencyEntry[T], 0, len(f.order))
	for _, v := range f.order {
		out = append(out, FrequencyEntry[T]{Value: v, Count: f.counts[v]})
	}
	return out
}

// Mode returns the most frequent value; ties go to the value seen first.
func (f *Frequency[T]) Mode() (T, bool) {
	var (
		best  T
		count int
	)
	for _, v := range f.order {
		if c := f.counts[v]; c > count {
			best, count = v, c
		}
	}
	return best, count > 0
}

// Top returns up to n entries by descending count. n <= 0 returns all of them.
func (f *Frequency[T]) Top(n int) []FrequencyEntry[T] {
	entries := f.Entries()
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
