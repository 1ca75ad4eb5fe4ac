// Package perforce defines the Perforce operations needed to attribute build issues to
// submitted changes, and a client that runs them through the p4 command line.
package perforce

import (
	"context"
	"fmt"
	"time"
)

// Now stands for the latest submitted change when used as the upper bound of a range
const Now = -1

// ChangeSummary is one entry of a submitted change listing
type ChangeSummary struct {
	Number      int
	User        string
	Client      string
	Date        time.Time
	Description string
}

// DescribeFile is one file touched by a change
type DescribeFile struct {
	DepotPath string
	Action    string
	Revision  int
}

// DescribeRecord is the full description of a submitted change
type DescribeRecord struct {
	Number      int
	User        string
	Client      string
	Date        time.Time
	Description string
	Files       []DescribeFile
}

// Client is the subset of Perforce used by the change range worker
type Client interface {
	// GetChanges lists changes submitted under filter between minChange and maxChange
	// inclusive, newest first. maxChange may be Now.
	GetChanges(ctx context.Context, filter string, minChange, maxChange int) ([]ChangeSummary, error)
	Describe(ctx context.Context, change int) (*DescribeRecord, error)
}

// RangeSpec formats a revision range on filter, e.g. //UE5/Main/...@100,now
func RangeSpec(filter string, minChange, maxChange int) string {
	upper := "now"
	if maxChange != Now {
		upper = fmt.Sprintf("%d", maxChange)
	}
	return fmt.Sprintf("%s@%d,%s", filter, minChange, upper)
}
