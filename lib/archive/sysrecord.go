package archive

import "time"

// SystemRecord is the server authoritative metadata of a stored object.
type SystemRecord struct {
	ObjectID        ObjectID
	DigestAlgorithm string
	Digest          string
	Size            int64
	CreationTime    time.Time // zero when unset
	DeletionTime    time.Time // zero when the object is not scheduled for deletion
	ShredMode       int
	Indexed         bool
}

// Valid reports whether the record carries a usable object id and size.
func (s *SystemRecord) Valid() bool {
	return s != nil && s.ObjectID.Valid() && s.Size >= 0
}

// MillisToTime converts the wire representation of a time (milliseconds
// since the epoch, negative for unset) to a time.Time.
func MillisToTime(ms int64) time.Time {
	if ms < 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// TimeToMillis is the inverse of MillisToTime.
func TimeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return -1
	}
	return t.UnixMilli()
}
