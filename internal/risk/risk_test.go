package risk

import (
	"encoding/json"
	"testing"
)

func TestClassify_Boundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		score int
		want  Bucket
	}{
		{-5, Low},
		{0, Low},
		{39, Low},
		{40, Medium},
		{59, Medium},
		{60, High},
		{79, High},
		{80, Critical},
		{100, Critical},
		{140, Critical},
	}

	for _, tt := range tests {
		got := Classify(tt.score)
		if got.Bucket != tt.want {
			t.Errorf("Classify(%d).Bucket = %s, want %s", tt.score, got.Bucket, tt.want)
		}
		if got.Label != tt.want.Label() {
			t.Errorf("Classify(%d).Label = %q, want %q", tt.score, got.Label, tt.want.Label())
		}
	}
}

func TestClassify_Monotonic(t *testing.T) {
	t.Parallel()

	prev := Classify(0).Bucket
	for s := 1; s <= 100; s++ {
		b := Classify(s).Bucket
		if b < prev {
			t.Fatalf("bucket decreased at score %d: %s after %s", s, b, prev)
		}
		prev = b
	}
}

func TestBucket_Worse(t *testing.T) {
	t.Parallel()

	if got := Low.Worse(High); got != High {
		t.Errorf("Low.Worse(High) = %s, want high", got)
	}
	if got := Critical.Worse(Medium); got != Critical {
		t.Errorf("Critical.Worse(Medium) = %s, want critical", got)
	}
}

func TestParseBucket(t *testing.T) {
	t.Parallel()

	for _, b := range Buckets {
		got, err := ParseBucket(b.String())
		if err != nil {
			t.Fatalf("ParseBucket(%q): %v", b.String(), err)
		}
		if got != b {
			t.Errorf("ParseBucket(%q) = %s", b.String(), got)
		}
	}
	if _, err := ParseBucket("severe"); err == nil {
		t.Error("ParseBucket(severe) returned nil error")
	}
}

func TestBucket_JSONMapKey(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(map[Bucket]int{Critical: 1, Low: 2})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"critical":1,"low":2}` {
		t.Errorf("json = %s", data)
	}

	var back map[Bucket]int
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back[Critical] != 1 || back[Low] != 2 {
		t.Errorf("decoded = %v", back)
	}
}

func TestClassification_JSONIncludesColor(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(Classify(85))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"bucket":"critical","label":"Critical Risk","color":"#dc2626"}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}
}

func TestRecommendations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		bucket  Bucket
		factors []string
		want    []string
	}{
		{"low no factors", Low, nil, []string{"Continue standard monitoring procedures"}},
		{"low with device", Low, []string{"New device"}, []string{
			"Continue standard monitoring procedures",
			"Verify device authentication",
		}},
		{"medium with amount", Medium, []string{"Unusual AMOUNT"}, []string{
			"Monitor account for unusual activity",
			"Consider sending security alert to account holder",
			"Verify transaction purpose with account holder",
		}},
		{"critical capped at three", Critical, []string{"device", "time"}, []string{
			"Immediate account freeze recommended",
			"Contact account holder for verification",
			"Review all recent transactions from this account",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Recommendations(tt.bucket, tt.factors)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
