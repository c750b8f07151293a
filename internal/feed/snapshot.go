package feed

// Snapshot is the in-memory RawFrame produced by every transport in this
// module. Field order is feed order.
type Snapshot struct {
	Number   uint64
	Rate     float64
	Subjects []Subject
}

// Subject is one tracked subject as reported by the feed.
type Subject struct {
	Name     string
	Segments []Segment
	Markers  []RawMarker
}

// Segment is a rigid segment pose.
type Segment struct {
	Name        string
	Rotation    [9]float64
	Translation [3]float64
}

// RawMarker is a marker as reported by the feed, including its occlusion bit.
type RawMarker struct {
	Name        string
	Translation [3]float64
	Occluded    bool
}

var _ RawFrame = (*Snapshot)(nil)

func (s *Snapshot) FrameNumber() uint64 { return s.Number }
func (s *Snapshot) SubjectCount() int   { return len(s.Subjects) }

func (s *Snapshot) SubjectName(i int) string {
	if i < 0 || i >= len(s.Subjects) {
		return ""
	}
	return s.Subjects[i].Name
}

func (s *Snapshot) subject(name string) *Subject {
	for i := range s.Subjects {
		if s.Subjects[i].Name == name {
			return &s.Subjects[i]
		}
	}
	return nil
}

func (s *Snapshot) segment(subject, segment string) *Segment {
	sub := s.subject(subject)
	if sub == nil {
		return nil
	}
	for i := range sub.Segments {
		if sub.Segments[i].Name == segment {
			return &sub.Segments[i]
		}
	}
	return nil
}

func (s *Snapshot) SegmentCount(subject string) int {
	if sub := s.subject(subject); sub != nil {
		return len(sub.Segments)
	}
	return 0
}

func (s *Snapshot) SegmentName(subject string, i int) string {
	sub := s.subject(subject)
	if sub == nil || i < 0 || i >= len(sub.Segments) {
		return ""
	}
	return sub.Segments[i].Name
}

// SegmentGlobalRotation returns zeros for an unknown segment, which is what
// the upstream SDK reports for a subject it cannot see.
func (s *Snapshot) SegmentGlobalRotation(subject, segment string) [9]float64 {
	if seg := s.segment(subject, segment); seg != nil {
		return seg.Rotation
	}
	return [9]float64{}
}

func (s *Snapshot) SegmentGlobalTranslation(subject, segment string) [3]float64 {
	if seg := s.segment(subject, segment); seg != nil {
		return seg.Translation
	}
	return [3]float64{}
}

func (s *Snapshot) MarkerCount(subject string) int {
	if sub := s.subject(subject); sub != nil {
		return len(sub.Markers)
	}
	return 0
}

func (s *Snapshot) MarkerName(subject string, i int) string {
	sub := s.subject(subject)
	if sub == nil || i < 0 || i >= len(sub.Markers) {
		return ""
	}
	return sub.Markers[i].Name
}

func (s *Snapshot) MarkerGlobalTranslation(subject, marker string) ([3]float64, bool) {
	sub := s.subject(subject)
	if sub == nil {
		return [3]float64{}, true
	}
	for _, m := range sub.Markers {
		if m.Name == marker {
			return m.Translation, m.Occluded
		}
	}
	return [3]float64{}, true
}

// RigidSubject builds a single-segment subject whose segment shares the
// subject name, the layout tracking software reports for rigid bodies.
func RigidSubject(name string, rotation [9]float64, translation [3]float64, markers ...RawMarker) Subject {
	return Subject{
		Name:     name,
		Segments: []Segment{{Name: name, Rotation: rotation, Translation: translation}},
		Markers:  markers,
	}
}
