// internal/domain/course/course.go
package course

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// CRN is the course reference number of one section within a term.
// The registrar sends it as a number or as a string depending on the endpoint,
// so both forms are accepted when decoding.
type CRN string

func (c *CRN) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = CRN(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("crn must be a string or a number: %w", err)
	}
	*c = CRN(n.String())
	return nil
}

// Offering is one record of the registrar's course-offering payload.
type Offering struct {
	CRN              CRN    `json:"crn"`
	CourseNumber     string `json:"course_number"`
	DepartmentCode   string `json:"department_code"`
	SectionNumber    string `json:"section_number"`
	CourseTitle      string `json:"course_title"`
	AvailableSeats   int    `json:"available_seats"`
	WaitingListCount int    `json:"waiting_list_count"`
	ClassType        string `json:"class_type"`
	ClassDays        string `json:"class_days"`
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time"`
	Building         string `json:"building"`
	Room             string `json:"room"`
	InstructorName   string `json:"instructor_name"`
}

// Status is the part of an offering that drives notifications.
type Status struct {
	AvailableSeats   int `json:"available_seats"`
	WaitingListCount int `json:"waiting_list_count"`
}

func (o Offering) Status() Status {
	return Status{AvailableSeats: o.AvailableSeats, WaitingListCount: o.WaitingListCount}
}

// Course is the last observation of a tracked section.
// Corresponds to the 'courses' table.
type Course struct {
	CRN              CRN
	Term             string
	Department       string
	AvailableSeats   int
	WaitingListCount int
	Raw              json.RawMessage // full upstream record
	LastUpdated      time.Time
}

func (c *Course) Status() Status {
	return Status{AvailableSeats: c.AvailableSeats, WaitingListCount: c.WaitingListCount}
}

// Observed reports whether a registrar record was ever stored for the course.
// Tracking a course can create its row before the first snapshot arrives.
func (c *Course) Observed() bool {
	return len(c.Raw) > 0
}

// Offering decodes the raw upstream record. Missing or broken raw data yields
// an offering carrying only the persisted identity and counters.
func (c *Course) Offering() Offering {
	o := Offering{}
	if len(c.Raw) > 0 {
		_ = json.Unmarshal(c.Raw, &o)
	}
	o.CRN = c.CRN
	o.AvailableSeats = c.AvailableSeats
	o.WaitingListCount = c.WaitingListCount
	if o.DepartmentCode == "" {
		o.DepartmentCode = c.Department
	}
	return o
}
