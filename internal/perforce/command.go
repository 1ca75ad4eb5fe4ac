package perforce

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ConnectionSettings identifies the server, user and workspace commands run against
type ConnectionSettings struct {
	ServerAndPort string
	UserName      string
	ClientName    string
}

// CommandClient implements Client by running p4 with tagged output
type CommandClient struct {
	settings   ConnectionSettings
	executable string
}

// NewCommandClient creates a client running the p4 executable found on PATH
func NewCommandClient(settings ConnectionSettings) *CommandClient {
	return &CommandClient{settings: settings, executable: "p4"}
}

// GetChanges lists changes submitted under filter between minChange and maxChange
func (c *CommandClient) GetChanges(ctx context.Context, filter string, minChange, maxChange int) ([]ChangeSummary, error) {
	out, err := c.run(ctx, "changes", "-s", "submitted", "-l", RangeSpec(filter, minChange, maxChange))
	if err != nil {
		return nil, err
	}

	records, err := parseTagged(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("cannot parse p4 changes output: %w", err)
	}

	changes := make([]ChangeSummary, 0, len(records))
	for _, record := range records {
		number, err := strconv.Atoi(record["change"])
		if err != nil {
			return nil, fmt.Errorf("invalid change number %q: %w", record["change"], err)
		}
		changes = append(changes, ChangeSummary{
			Number:      number,
			User:        record["user"],
			Client:      record["client"],
			Date:        parseTime(record["time"]),
			Description: record["desc"],
		})
	}
	return changes, nil
}

// Describe fetches the description and file list of a submitted change
func (c *CommandClient) Describe(ctx context.Context, change int) (*DescribeRecord, error) {
	out, err := c.run(ctx, "describe", "-s", strconv.Itoa(change))
	if err != nil {
		return nil, err
	}

	records, err := parseTagged(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("cannot parse p4 describe output: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no description returned for change %d", change)
	}

	return describeFromRecord(change, records[0]), nil
}

func describeFromRecord(change int, record map[string]string) *DescribeRecord {
	describe := &DescribeRecord{
		Number:      change,
		User:        record["user"],
		Client:      record["client"],
		Date:        parseTime(record["time"]),
		Description: record["desc"],
	}
	for i := 0; ; i++ {
		suffix := strconv.Itoa(i)
		depotFile, ok := record["depotFile"+suffix]
		if !ok {
			break
		}
		revision, _ := strconv.Atoi(record["rev"+suffix])
		describe.Files = append(describe.Files, DescribeFile{
			DepotPath: depotFile,
			Action:    record["action"+suffix],
			Revision:  revision,
		})
	}
	return describe
}

func (c *CommandClient) run(ctx context.Context, args ...string) ([]byte, error) {
	global := []string{"-ztag"}
	if c.settings.ServerAndPort != "" {
		global = append(global, "-p", c.settings.ServerAndPort)
	}
	if c.settings.UserName != "" {
		global = append(global, "-u", c.settings.UserName)
	}
	if c.settings.ClientName != "" {
		global = append(global, "-c", c.settings.ClientName)
	}

	cmd := exec.CommandContext(ctx, c.executable, append(global, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("p4 %s failed: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

func parseTime(value string) time.Time {
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(seconds, 0).UTC()
}

// parseTagged splits p4 -ztag output into records. Fields start with "... " and any other
// line continues the previous field. A record ends at a blank line followed by a field that
// the current record already has.
func parseTagged(r io.Reader) ([]map[string]string, error) {
	var records []map[string]string
	var current map[string]string
	var lastKey string
	sawBlank := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "... "):
			key, value, _ := strings.Cut(strings.TrimPrefix(line, "... "), " ")
			if _, exists := current[key]; current == nil || (sawBlank && exists) {
				current = make(map[string]string)
				records = append(records, current)
			}
			current[key] = value
			lastKey = key
			sawBlank = false
		case line == "":
			sawBlank = true
			if current != nil && lastKey != "" {
				current[lastKey] += "\n"
			}
		default:
			if current != nil && lastKey != "" {
				current[lastKey] += "\n" + line
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	for _, record := range records {
		for key, value := range record {
			record[key] = strings.TrimRight(value, "\n")
		}
	}
	return records, nil
}
