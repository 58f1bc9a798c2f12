package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/cache"
	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/course"
	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/tracking"
)

func courseIn(crn course.CRN, term, dept string) course.Course {
	return course.Course{CRN: crn, Term: term, Department: dept}
}

func TestCollectTracked(t *testing.T) {
	repo := &memTrackingRepo{lists: []*tracking.List{
		{ID: 1, UserID: 10, Courses: []course.Course{courseIn("100", "202210", "ACFN"), courseIn("200", "202210", "ICS")}},
		{ID: 2, UserID: 20, Courses: []course.Course{courseIn("100", "202210", "ACFN")}},
		{ID: 3, UserID: 30},
	}}
	set, err := NewTrackerAggregator(repo).CollectTracked(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, set.Len())
	ids := func(crn course.CRN) []int64 {
		var out []int64
		for _, tr := range set.Courses[crn].Trackers {
			out = append(out, tr.ID)
		}
		return out
	}
	assert.ElementsMatch(t, []int64{1, 2}, ids("100"))
	assert.Equal(t, []int64{1}, ids("200"))
}

func TestCollectTrackedDeduplicatesTrackers(t *testing.T) {
	l := &tracking.List{ID: 1, Courses: []course.Course{courseIn("100", "202210", "ACFN"), courseIn("100", "202210", "ACFN")}}
	set, err := NewTrackerAggregator(&memTrackingRepo{lists: []*tracking.List{l}}).CollectTracked(context.Background())
	require.NoError(t, err)
	assert.Len(t, set.Courses["100"].Trackers, 1)
}

func TestCollectTrackedError(t *testing.T) {
	_, err := NewTrackerAggregator(&memTrackingRepo{err: errBoom}).CollectTracked(context.Background())
	assert.ErrorIs(t, err, errBoom)
}

func TestBatches(t *testing.T) {
	set := &TrackedSet{Courses: map[course.CRN]*TrackedCourse{
		"300": {Course: courseIn("300", "202210", "ACFN")},
		"100": {Course: courseIn("100", "202210", "ACFN")},
		"200": {Course: courseIn("200", "202220", "ICS")},
	}}
	batches := set.Batches()

	assert.Equal(t, []course.CRN{"100", "300"}, batches[cache.Key{Term: "202210", Department: "ACFN"}])
	assert.Equal(t, []course.CRN{"200"}, batches[cache.Key{Term: "202220", Department: "ICS"}])
	assert.Equal(t, []cache.Key{
		{Term: "202210", Department: "ACFN"},
		{Term: "202220", Department: "ICS"},
	}, SortedKeys(batches))
}
