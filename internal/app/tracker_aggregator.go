package app

import (
	"context"
	"fmt"
	"sort"

	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/cache"
	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/course"
	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/tracking"
)

// TrackedCourse is a course together with every tracking list watching it.
type TrackedCourse struct {
	Course   course.Course
	Trackers []*tracking.List
}

// TrackedSet is the course -> trackers relation for one poll cycle.
type TrackedSet struct {
	Courses map[course.CRN]*TrackedCourse
}

func (s *TrackedSet) Len() int { return len(s.Courses) }

// Batches groups the tracked CRNs by (term, department) so one cache read serves all
// of them. CRNs within a batch are sorted.
func (s *TrackedSet) Batches() map[cache.Key][]course.CRN {
	batches := make(map[cache.Key][]course.CRN)
	for crn, tc := range s.Courses {
		key := cache.Key{Term: tc.Course.Term, Department: tc.Course.Department}
		batches[key] = append(batches[key], crn)
	}
	for _, crns := range batches {
		sort.Slice(crns, func(i, j int) bool { return crns[i] < crns[j] })
	}
	return batches
}

// SortedKeys returns the batch keys in a stable order.
func SortedKeys(batches map[cache.Key][]course.CRN) []cache.Key {
	keys := make([]cache.Key, 0, len(batches))
	for k := range batches {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Term != keys[j].Term {
			return keys[i].Term < keys[j].Term
		}
		return keys[i].Department < keys[j].Department
	})
	return keys
}

type TrackerAggregator struct {
	lists tracking.Repository
}

func NewTrackerAggregator(lists tracking.Repository) *TrackerAggregator {
	return &TrackerAggregator{lists: lists}
}

// CollectTracked inverts every user's tracking list into a course -> trackers map.
func (a *TrackerAggregator) CollectTracked(ctx context.Context) (*TrackedSet, error) {
	lists, err := a.lists.ListWithCourses(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tracking lists: %w", err)
	}

	set := &TrackedSet{Courses: make(map[course.CRN]*TrackedCourse)}
	for _, l := range lists {
		for _, c := range l.Courses {
			tc, ok := set.Courses[c.CRN]
			if !ok {
				tc = &TrackedCourse{Course: c}
				set.Courses[c.CRN] = tc
			}
			if !containsTracker(tc.Trackers, l.ID) {
				tc.Trackers = append(tc.Trackers, l)
			}
		}
	}
	return set, nil
}

func containsTracker(trackers []*tracking.List, id int64) bool {
	for _, t := range trackers {
		if t.ID == id {
			return true
		}
	}
	return false
}
