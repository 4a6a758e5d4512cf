// Package risk maps numeric fraud scores onto the severity buckets shown on
// every dashboard surface.
package risk

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Bucket is a coarse severity class. Higher values are more severe.
type Bucket int

const (
	Low Bucket = iota
	Medium
	High
	Critical
)

// Buckets lists every bucket from least to most severe.
var Buckets = []Bucket{Low, Medium, High, Critical}

// Lower bounds of each bucket. A score equal to a bound belongs to the
// higher bucket.
const (
	MediumFloor   = 40
	HighFloor     = 60
	CriticalFloor = 80
)

// Classification is the result of classifying a score.
type Classification struct {
	Bucket Bucket `json:"bucket"`
	Label  string `json:"label"`
}

// Classify maps a score in [0,100] to its bucket. Scores outside that range
// land in the nearest bucket, so every input has a result.
func Classify(score int) Classification {
	b := BucketFor(score)
	return Classification{Bucket: b, Label: b.Label()}
}

// BucketFor returns the bucket for score.
func BucketFor(score int) Bucket {
	switch {
	case score >= CriticalFloor:
		return Critical
	case score >= HighFloor:
		return High
	case score >= MediumFloor:
		return Medium
	default:
		return Low
	}
}

func (b Bucket) String() string {
	switch b {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Medium:
		return "medium"
	default:
		return "low"
	}
}

// Label is the human readable name of the bucket.
func (b Bucket) Label() string {
	switch b {
	case Critical:
		return "Critical Risk"
	case High:
		return "High Risk"
	case Medium:
		return "Medium Risk"
	default:
		return "Low Risk"
	}
}

// Color is the fill used for the bucket on graphs and badges.
func (b Bucket) Color() string {
	switch b {
	case Critical:
		return "#dc2626"
	case High:
		return "#ef4444"
	case Medium:
		return "#f59e0b"
	default:
		return "#22c55e"
	}
}

// Worse returns the more severe of b and o.
func (b Bucket) Worse(o Bucket) Bucket {
	if o > b {
		return o
	}
	return b
}

// ParseBucket parses the lower-case bucket name.
func ParseBucket(s string) (Bucket, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return Critical, nil
	case "high":
		return High, nil
	case "medium":
		return Medium, nil
	case "low":
		return Low, nil
	}
	return Low, fmt.Errorf("unknown risk bucket %q", s)
}

// MarshalText encodes the bucket by name so it can key JSON maps.
func (b Bucket) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText decodes a bucket name.
func (b *Bucket) UnmarshalText(text []byte) error {
	v, err := ParseBucket(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// MarshalJSON includes the bucket colour for rendering clients.
func (c Classification) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Bucket Bucket `json:"bucket"`
		Label  string `json:"label"`
		Color  string `json:"color"`
	}{c.Bucket, c.Label, c.Bucket.Color()})
}
