package enums

import "fmt"

// LearningTrack is the mode of instruction purchased with an enrollment.
type LearningTrack string

const (
	TrackOneOnOne        LearningTrack = "one_on_one"
	TrackGroupMentorship LearningTrack = "group_mentorship"
	TrackSelfPaced       LearningTrack = "self_paced"
)

var validLearningTracks = []LearningTrack{
	TrackOneOnOne,
	TrackGroupMentorship,
	TrackSelfPaced,
}

// String implements fmt.Stringer.
func (t LearningTrack) String() string {
	return string(t)
}

// IsValid reports whether the value is a known LearningTrack.
func (t LearningTrack) IsValid() bool {
	for _, candidate := range validLearningTracks {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLearningTrack converts raw input into a LearningTrack.
func ParseLearningTrack(value string) (LearningTrack, error) {
	for _, candidate := range validLearningTracks {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid learning track %q", value)
}
