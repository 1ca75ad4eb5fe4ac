package perforce

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestRangeSpec(t *testing.T) {
	tests := []struct {
		name     string
		min      int
		max      int
		expected string
	}{
		{name: "bounded", min: 100, max: 200, expected: "//UE5/Main/...@100,200"},
		{name: "open ended", min: 201, max: Now, expected: "//UE5/Main/...@201,now"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RangeSpec("//UE5/Main/...", tt.min, tt.max); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestParseTaggedChanges(t *testing.T) {
	output := `... change 12
... time 1700000000
... user alice
... client alice-main
... status submitted
... desc Fix shader compile

Second paragraph of the description

... change 11
... time 1699990000
... user bob
... client bob-main
... status submitted
... desc Update textures

`
	records, err := parseTagged(strings.NewReader(output))
	if err != nil {
		t.Fatalf("parseTagged: %v", err)
	}

	expected := []map[string]string{
		{
			"change": "12",
			"time":   "1700000000",
			"user":   "alice",
			"client": "alice-main",
			"status": "submitted",
			"desc":   "Fix shader compile\n\nSecond paragraph of the description",
		},
		{
			"change": "11",
			"time":   "1699990000",
			"user":   "bob",
			"client": "bob-main",
			"status": "submitted",
			"desc":   "Update textures",
		},
	}
	if diff := cmp.Diff(expected, records); diff != "" {
		t.Errorf("records differ (-want +got):\n%s", diff)
	}
}

func TestDescribeFromRecord(t *testing.T) {
	output := `... change 12
... user alice
... client alice-main
... time 1700000000
... desc Fix shader compile
... depotFile0 //UE5/Main/Engine/Shaders/Private/Common.ush
... action0 edit
... rev0 7
... depotFile1 //UE5/Main/Game/Content/Maps/Lobby.umap
... action1 add
... rev1 1
`
	records, err := parseTagged(strings.NewReader(output))
	if err != nil {
		t.Fatalf("parseTagged: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	expected := &DescribeRecord{
		Number:      12,
		User:        "alice",
		Client:      "alice-main",
		Date:        time.Unix(1700000000, 0).UTC(),
		Description: "Fix shader compile",
		Files: []DescribeFile{
			{DepotPath: "//UE5/Main/Engine/Shaders/Private/Common.ush", Action: "edit", Revision: 7},
			{DepotPath: "//UE5/Main/Game/Content/Maps/Lobby.umap", Action: "add", Revision: 1},
		},
	}
	if diff := cmp.Diff(expected, describeFromRecord(12, records[0])); diff != "" {
		t.Errorf("describe differs (-want +got):\n%s", diff)
	}
}
